package index

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tuhinx/bubt-annex-routine/internal/extract"
	"github.com/tuhinx/bubt-annex-routine/internal/routine"
)

func raw(program, intake, section, image string) routine.RawExtraction {
	return routine.RawExtraction{Program: program, Intake: intake, Section: section, Image: image, PDF: strings.Replace(image, ".png", ".pdf", 1)}
}

func TestAssembleDedupFilterSort(t *testing.T) {
	t.Parallel()

	got := Assemble([]routine.RawExtraction{
		raw("MBA", "10", "1", "i/a.png"),
		raw("BBA", "45", "1", "i/b.png"),
		raw("BBA", "45", "2", "i/b.png"),
		raw("BBA", "7", "1", "i/c.png"),
		raw("BBA", "X1", "1", "i/d.png"),
		raw(routine.Unknown, "3", "1", "i/e.png"),
		raw("BBA", routine.Unknown, "1", "i/f.png"),
		raw("BBA", "45", "1", "i/g.png"),
	})

	var keys []string
	for _, r := range got {
		keys = append(keys, r.Program+"|"+r.Intake+"|"+r.Section+"|"+r.Image)
		require.NotNil(t, r.Tables)
	}
	want := []string{
		"BBA|X1|1|i/d.png",
		"BBA|7|1|i/c.png",
		"BBA|45|1|i/b.png",
		"BBA|45|1|i/g.png",
		"MBA|10|1|i/a.png",
	}
	if diff := cmp.Diff(want, keys); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestAssembleOrdersLongIntakesNumerically(t *testing.T) {
	t.Parallel()

	got := Assemble([]routine.RawExtraction{
		raw("BBA", "99999999999999999999", "1", "i/a.png"),
		raw("BBA", "100000000000000000000", "1", "i/b.png"),
		raw("BBA", "045", "1", "i/c.png"),
		raw("BBA", "9", "1", "i/d.png"),
	})

	var intakes []string
	for _, r := range got {
		intakes = append(intakes, r.Intake)
	}
	want := []string{"9", "045", "99999999999999999999", "100000000000000000000"}
	if diff := cmp.Diff(want, intakes); diff != "" {
		t.Fatalf("intake order mismatch (-want +got):\n%s", diff)
	}
}

func TestAssembleStableForEqualKeys(t *testing.T) {
	t.Parallel()

	got := Assemble([]routine.RawExtraction{
		raw("BBA", "45", "1", "i/2.png"),
		raw("BBA", "45", "1", "i/1.png"),
	})
	require.Equal(t, "i/2.png", got[0].Image)
	require.Equal(t, "i/1.png", got[1].Image)
}

func TestEnumerateSkipsArtifacts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"b_doc.pdf", "A.PDF", "BBA_p1.pdf", "x_routine_pages.pdf", "notes.txt", "single.pdf"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("%PDF-"), 0o600))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "routine_pages"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "dir.pdf"), 0o755))

	docs, err := Enumerate(dir)
	require.NoError(t, err)

	var names []string
	for _, d := range docs {
		names = append(names, d.Name)
		require.Equal(t, filepath.Join(dir, d.Name), d.Path)
	}
	require.Equal(t, []string{"A.PDF", "b_doc.pdf", "single.pdf"}, names)
}

func TestEnumerateMissingDir(t *testing.T) {
	t.Parallel()

	_, err := Enumerate(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestBuildSkipsFailedDocuments(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"good.pdf", "bad.pdf"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("%PDF-"), 0o600))
	}
	ex := &stubExtractor{results: map[string]extract.Result{
		"good.pdf": {
			Records: []routine.RawExtraction{raw("BBA", "45", "1", "routine_images/good_p1.png")},
			Created: []string{"routine_images/good_p1.png"},
		},
	}}

	records, report, err := NewBuilder(ex, zap.NewNop()).Build(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, []string{"good.pdf"}, report.Documents)
	require.Equal(t, []string{"bad.pdf"}, report.Failed)
	require.Equal(t, []string{"routine_images/good_p1.png"}, report.Created)
	require.Equal(t, 1, report.Raw)
}

func TestBuildCanceled(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.pdf"), []byte("%PDF-"), 0o600))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := NewBuilder(&stubExtractor{}, nil).Build(ctx, dir)
	require.ErrorIs(t, err, context.Canceled)
}

func TestWriteAndReadIndex(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out", routine.IndexFile)
	cell := "Sat"
	records := []routine.Record{{
		Program: "BBA", Intake: "45", Section: "1",
		Image: "routine_images/a_p1.png", PDF: "routine_pages/a_p1.pdf",
		Tables: []routine.Table{{{&cell, nil}}},
	}}
	require.NoError(t, Write(path, records))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(data), "[\n  {\n    \"program\": \"BBA\",\n    \"intake\": \"45\",\n    \"section\": \"1\",\n    \"image\""))
	require.Contains(t, string(data), "null")

	var generic []map[string]any
	require.NoError(t, json.Unmarshal(data, &generic))
	require.Len(t, generic, 1)

	back, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, records, back)

	require.NoError(t, Write(path, nil))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "[]", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary files must not be left behind")
}

type stubExtractor struct {
	results map[string]extract.Result
}

func (s *stubExtractor) ExtractDocument(_ context.Context, doc routine.StagedDocument) (extract.Result, error) {
	res, ok := s.results[doc.Name]
	if !ok {
		return extract.Result{}, &routine.ExtractionError{Document: doc.Name, Err: errors.New("malformed")}
	}
	return res, nil
}
