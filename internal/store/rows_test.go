package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuhinx/bubt-annex-routine/internal/routine"
)

func TestTable(t *testing.T) {
	t.Parallel()

	name, err := Table("")
	require.NoError(t, err)
	require.Equal(t, DefaultTable, name)

	name, err = Table("routines_v2")
	require.NoError(t, err)
	require.Equal(t, "routines_v2", name)

	_, err = Table("records; DROP TABLE x")
	require.Error(t, err)
}

func TestRows(t *testing.T) {
	t.Parallel()

	cell := "Sat"
	rows, err := Rows("run-1", []routine.Record{
		{Program: "BBA", Intake: "45", Section: "1", Image: "i/a.png", PDF: "p/a.pdf", Tables: []routine.Table{{{&cell, nil}}}},
		{Program: "MBA", Intake: "10", Section: "2", Image: "i/b.png", PDF: "p/b.pdf"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, `[[["Sat",null]]]`, string(rows[0].Tables))
	require.Equal(t, `[]`, string(rows[1].Tables))
	require.Equal(t, 1, rows[1].Position)
	require.Equal(t, []any{"run-1", 1, "MBA", "10", "2", "i/b.png", "p/b.pdf", []byte(`[]`)}, rows[1].Args())
}
