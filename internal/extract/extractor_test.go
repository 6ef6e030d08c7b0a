package extract

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tuhinx/bubt-annex-routine/internal/normalize"
	"github.com/tuhinx/bubt-annex-routine/internal/routine"
)

func newTestExtractor(t *testing.T, docs map[string]*fakeDocument, splitter *fakeSplitter) (*Extractor, string) {
	t.Helper()
	root := t.TempDir()
	opener := func(path string) (Document, error) {
		doc, ok := docs[filepath.Base(path)]
		if !ok {
			return nil, errors.New("cannot open: not a pdf")
		}
		return doc, nil
	}
	ex, err := New(Config{OutputRoot: root}, opener, splitter, normalize.New(), zap.NewNop())
	require.NoError(t, err)
	return ex, root
}

func TestNewValidatesInputs(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, OpenFitz, NewPDFCPUSplitter(), normalize.New(), nil)
	require.Error(t, err)
	_, err = New(Config{OutputRoot: t.TempDir()}, nil, NewPDFCPUSplitter(), normalize.New(), nil)
	require.Error(t, err)

	ex, err := New(Config{OutputRoot: t.TempDir()}, OpenFitz, NewPDFCPUSplitter(), normalize.New(), nil)
	require.NoError(t, err)
	require.Equal(t, 600, ex.cfg.HeaderChars)
	require.InDelta(t, 158.4, ex.cfg.ImageDPI, 0.001)
}

func TestExtractDocumentRecordsAndArtifacts(t *testing.T) {
	t.Parallel()

	doc := &fakeDocument{pages: []fakePage{
		{text: "Program: B.Sc. Engg in CSE\nIntake: 50 - 1\nIntake: 50 - 2", html: pageHTML},
		{text: "Notes for students"},
		{text: "Program: B.Sc. Engg in CSE Intake: 51 Section: 1"},
	}}
	splitter := &fakeSplitter{}
	ex, root := newTestExtractor(t, map[string]*fakeDocument{"CSE_Evening_50.pdf": doc}, splitter)

	staged := routine.StagedDocument{Name: "CSE_Evening_50.pdf", Path: filepath.Join(root, "CSE_Evening_50.pdf")}
	res, err := ex.ExtractDocument(context.Background(), staged)
	require.NoError(t, err)
	require.Len(t, res.Records, 3)

	first := res.Records[0]
	require.Equal(t, "B.Sc. in CSE (Evening)", first.Program)
	require.Equal(t, "B.Sc. Engg in CSE", first.RawCategory)
	require.Equal(t, "50", first.Intake)
	require.Equal(t, "1", first.Section)
	require.Equal(t, "routine_images/CSE_Evening_50_p1.png", first.Image)
	require.Equal(t, "routine_pages/CSE_Evening_50_p1.pdf", first.PDF)
	require.Len(t, first.Tables, 1)
	require.Equal(t, "2", res.Records[1].Section)

	third := res.Records[2]
	require.Equal(t, "51", third.Intake)
	require.Equal(t, 2, third.PageIndex)
	require.Equal(t, "routine_images/CSE_Evening_50_p3.png", third.Image)
	require.NotNil(t, third.Tables)
	require.Empty(t, third.Tables)

	require.ElementsMatch(t, []string{
		"routine_images/CSE_Evening_50_p1.png",
		"routine_pages/CSE_Evening_50_p1.pdf",
		"routine_images/CSE_Evening_50_p3.png",
		"routine_pages/CSE_Evening_50_p3.pdf",
	}, res.Created)
	require.NoFileExists(t, filepath.Join(root, "routine_images", "CSE_Evening_50_p2.png"))
	require.Equal(t, []int{1, 3}, splitter.pagesWritten())
	require.True(t, doc.closed)

	png, err := os.ReadFile(filepath.Join(root, "routine_images", "CSE_Evening_50_p1.png"))
	require.NoError(t, err)
	require.Equal(t, "png-page-0", string(png))
}

func TestExtractDocumentReusesExistingArtifacts(t *testing.T) {
	t.Parallel()

	doc := &fakeDocument{pages: []fakePage{{text: "Program: BBA Intake: 45 - 1"}}}
	splitter := &fakeSplitter{}
	ex, root := newTestExtractor(t, map[string]*fakeDocument{"BBA 45.pdf": doc}, splitter)
	require.NoError(t, ex.Prepare())
	existing := filepath.Join(root, "routine_images", "BBA_45_p1.png")
	require.NoError(t, os.WriteFile(existing, []byte("old"), 0o600))

	staged := routine.StagedDocument{Name: "BBA 45.pdf", Path: filepath.Join(root, "BBA 45.pdf")}
	res, err := ex.ExtractDocument(context.Background(), staged)
	require.NoError(t, err)
	require.Equal(t, []string{"routine_pages/BBA_45_p1.pdf"}, res.Created)
	require.Equal(t, "BBA", res.Records[0].Program)

	got, err := os.ReadFile(existing)
	require.NoError(t, err)
	require.Equal(t, "old", string(got))

	again, err := ex.ExtractDocument(context.Background(), staged)
	require.NoError(t, err)
	require.Empty(t, again.Created)
	require.Equal(t, res.Records, again.Records)
}

func TestExtractDocumentMalformed(t *testing.T) {
	t.Parallel()

	ex, root := newTestExtractor(t, map[string]*fakeDocument{}, &fakeSplitter{})
	_, err := ex.Extract(context.Background(), routine.StagedDocument{Name: "broken.pdf", Path: filepath.Join(root, "broken.pdf")})

	var extractErr *routine.ExtractionError
	require.ErrorAs(t, err, &extractErr)
	require.Equal(t, "broken.pdf", extractErr.Document)
}

func TestExtractDocumentSplitFailureLeavesNoArtifact(t *testing.T) {
	t.Parallel()

	doc := &fakeDocument{pages: []fakePage{{text: "Program: BBA Intake: 45 - 1"}}}
	ex, root := newTestExtractor(t, map[string]*fakeDocument{"BBA.pdf": doc}, &fakeSplitter{err: errors.New("corrupt xref")})

	_, err := ex.Extract(context.Background(), routine.StagedDocument{Name: "BBA.pdf", Path: filepath.Join(root, "BBA.pdf")})
	require.Error(t, err)

	entries, err := os.ReadDir(filepath.Join(root, "routine_pages"))
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestPDFCPUSplitterMissingSource(t *testing.T) {
	t.Parallel()

	err := NewPDFCPUSplitter().WritePage(filepath.Join(t.TempDir(), "missing.pdf"), 1, io.Discard)
	require.Error(t, err)
}

func TestBaseName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "BBA_45", BaseName("BBA_45.pdf"))
	require.Equal(t, "BBA_45", BaseName("BBA_45.PDF"))
	require.Equal(t, "notes.txt", BaseName("notes.txt"))
}

type fakePage struct {
	text string
	html string
}

type fakeDocument struct {
	pages  []fakePage
	closed bool
}

func (d *fakeDocument) NumPage() int { return len(d.pages) }

func (d *fakeDocument) Text(n int) (string, error) { return d.pages[n].text, nil }

func (d *fakeDocument) HTML(n int, _ bool) (string, error) { return d.pages[n].html, nil }

func (d *fakeDocument) ImagePNG(n int, _ float64) ([]byte, error) {
	return []byte("png-page-" + string(rune('0'+n))), nil
}

func (d *fakeDocument) Close() error {
	d.closed = true
	return nil
}

type fakeSplitter struct {
	mu    sync.Mutex
	pages []int
	err   error
}

func (s *fakeSplitter) WritePage(_ string, page int, w io.Writer) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	s.pages = append(s.pages, page)
	s.mu.Unlock()
	_, err := w.Write([]byte("%PDF-page"))
	return err
}

func (s *fakeSplitter) pagesWritten() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.pages...)
}
