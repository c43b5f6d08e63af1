package arrowsrc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64Batch(t *testing.T, schema *arrow.Schema, vals ...int64) arrow.Record {
	t.Helper()
	b := array.NewRecordBuilder(memory.NewGoAllocator(), schema)
	defer b.Release()
	b.Field(0).(*array.Int64Builder).AppendValues(vals, nil)
	rec := b.NewRecord()
	t.Cleanup(rec.Release)
	return rec
}

func int64Values(rec arrow.Record, col int) []int64 {
	arr := rec.Column(col).(*array.Int64)
	out := make([]int64, arr.Len())
	for i := range out {
		out[i] = arr.Value(i)
	}
	return out
}

func TestWriteFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.arrow")
	require.NoError(t, WriteFile(path, testRecord(t)))

	rec, err := ReadFile(path, nil)
	require.NoError(t, err)
	defer rec.Release()

	assert.Equal(t, int64(5), rec.NumRows())
	src := New(rec)
	got, err := src.ColumnType("label")
	require.NoError(t, err)
	assert.Equal(t, "string", got)
	assert.True(t, rec.Column(1).IsNull(2))
}

func TestReadFile_ConcatenatesBatches(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{{Name: "n", Type: arrow.PrimitiveTypes.Int64}}, nil)
	path := filepath.Join(t.TempDir(), "batches.arrow")

	f, err := os.Create(path)
	require.NoError(t, err)
	w, err := ipc.NewFileWriter(f, ipc.WithSchema(schema))
	require.NoError(t, err)
	require.NoError(t, w.Write(int64Batch(t, schema, 1, 2)))
	require.NoError(t, w.Write(int64Batch(t, schema, 3)))
	require.NoError(t, w.Write(int64Batch(t, schema, 4, 5, 6)))
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	rec, err := ReadFile(path, memory.NewGoAllocator())
	require.NoError(t, err)
	defer rec.Release()

	if diff := cmp.Diff([]int64{1, 2, 3, 4, 5, 6}, int64Values(rec, 0)); diff != "" {
		t.Errorf("concatenated column mismatch (-want +got):\n%s", diff)
	}
}

func TestReadFile_Errors(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "missing.arrow"), nil)
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.arrow")
	require.NoError(t, os.WriteFile(bad, []byte("not an arrow file"), 0o600))
	_, err = ReadFile(bad, nil)
	assert.ErrorContains(t, err, "failed to open arrow file")
}
