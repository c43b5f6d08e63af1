package tidbsource

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidb-dataframe/internal/coltype"
	"tidb-dataframe/internal/dbexec"
	"tidb-dataframe/internal/introspection"
	"tidb-dataframe/internal/source"
)

func newMock(t *testing.T) (*dbexec.StandardExecutor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return dbexec.NewStandardExecutor(db), mock
}

func eventsTable() *introspection.Table {
	return &introspection.Table{
		Schema: "physics",
		Name:   "events",
		Columns: []introspection.Column{
			{Name: "id", DataType: "bigint", ColumnType: "bigint(20)", IsPrimaryKey: true},
			{Name: "pt", DataType: "double", ColumnType: "double", IsNullable: true},
			{Name: "kind", DataType: "varchar", ColumnType: "varchar(8)"},
			{Name: "seen_at", DataType: "datetime", ColumnType: "datetime"},
		},
	}
}

func TestColumnType(t *testing.T) {
	exec, _ := newMock(t)
	src, err := FromTable(exec, eventsTable())
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "pt", "kind", "seen_at"}, src.ColumnNames())
	assert.True(t, src.HasColumn("PT"))

	got, err := src.ColumnType("seen_at")
	require.NoError(t, err)
	assert.Equal(t, "time", got)

	_, err = src.ColumnType("nope")
	assert.ErrorIs(t, err, source.ErrUnknownColumn)

	_, err = src.Readers("kind", coltype.Float64)
	var mismatch *source.TypeMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, coltype.String, mismatch.Have)
}

func TestFromTable_UnknownOrderColumn(t *testing.T) {
	exec, _ := newMock(t)
	_, err := FromTable(exec, eventsTable(), WithOrderBy("missing"))
	assert.ErrorIs(t, err, source.ErrUnknownColumn)
}

func TestEntryRanges(t *testing.T) {
	exec, mock := newMock(t)
	src, err := FromTable(exec, eventsTable(), WithPartitions(3))
	require.NoError(t, err)
	src.SetSlots(2)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM `physics`.`events`")).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(10))

	ranges, err := src.EntryRanges(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []source.Range{{Begin: 0, End: 4}, {Begin: 4, End: 7}, {Begin: 7, End: 10}}, ranges)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInitSlot_ReadsRange(t *testing.T) {
	exec, mock := newMock(t)
	src, err := FromTable(exec, eventsTable())
	require.NoError(t, err)
	src.SetSlots(2)

	pt, err := src.Readers("pt", coltype.Float64)
	require.NoError(t, err)
	seen, err := src.Readers("seen_at", coltype.Time)
	require.NoError(t, err)
	// A second request for the same column reuses the fetched column.
	_, err = src.Readers("pt", coltype.Float64)
	require.NoError(t, err)

	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT `pt`, `seen_at` FROM `physics`.`events` ORDER BY `id` LIMIT 3 OFFSET 4")).
		WillReturnRows(sqlmock.NewRows([]string{"pt", "seen_at"}).
			AddRow(1.5, at).
			AddRow(nil, at).
			AddRow(3.5, at.Add(time.Hour)))

	require.NoError(t, src.InitSlot(context.Background(), 1, source.Range{Begin: 4, End: 7}))
	require.NoError(t, mock.ExpectationsWereMet())

	v, err := pt[1].Value(4)
	require.NoError(t, err)
	assert.Equal(t, 1.5, v)

	_, err = pt[1].Value(5)
	assert.ErrorContains(t, err, "null value")

	v, err = seen[1].Value(6)
	require.NoError(t, err)
	assert.True(t, at.Add(time.Hour).Equal(v.(time.Time)))

	_, err = pt[0].Value(4)
	assert.ErrorContains(t, err, "not loaded in slot 0")
	_, err = pt[1].Value(7)
	assert.ErrorContains(t, err, "not loaded")

	require.NoError(t, src.FinalizeSlot(1))
	_, err = pt[1].Value(4)
	assert.Error(t, err)
}

func TestInitSlot_NoColumnsSkipsQuery(t *testing.T) {
	exec, mock := newMock(t)
	src, err := FromTable(exec, eventsTable())
	require.NoError(t, err)

	require.NoError(t, src.InitSlot(context.Background(), 0, source.Range{Begin: 0, End: 5}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInitSlot_ShortRead(t *testing.T) {
	exec, mock := newMock(t)
	src, err := FromTable(exec, eventsTable())
	require.NoError(t, err)
	_, err = src.Readers("id", coltype.Int64)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT `id` FROM").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	err = src.InitSlot(context.Background(), 0, source.Range{Begin: 0, End: 2})
	assert.ErrorContains(t, err, "changed during the pass")
}

func TestInitSlot_QueryError(t *testing.T) {
	exec, mock := newMock(t)
	src, err := FromTable(exec, eventsTable())
	require.NoError(t, err)
	_, err = src.Readers("id", coltype.Int64)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT `id` FROM").WillReturnError(errors.New("lost connection"))
	err = src.InitSlot(context.Background(), 0, source.Range{Begin: 0, End: 2})
	assert.ErrorContains(t, err, "lost connection")
}

func TestInitSlot_FailureDropsPreviousRange(t *testing.T) {
	exec, mock := newMock(t)
	src, err := FromTable(exec, eventsTable())
	require.NoError(t, err)
	ids, err := src.Readers("id", coltype.Int64)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT `id` FROM").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7).AddRow(8))
	require.NoError(t, src.InitSlot(context.Background(), 0, source.Range{Begin: 0, End: 2}))
	v, err := ids[0].Value(1)
	require.NoError(t, err)
	assert.Equal(t, int64(8), v)

	// Same range on the next pass, but the query fails.
	mock.ExpectQuery("SELECT `id` FROM").WillReturnError(errors.New("lost connection"))
	err = src.InitSlot(context.Background(), 0, source.Range{Begin: 0, End: 2})
	require.ErrorContains(t, err, "lost connection")
	assert.Nil(t, src.buffers[0])
	_, err = ids[0].Value(1)
	assert.ErrorContains(t, err, "not loaded")

	mock.ExpectQuery("SELECT `id` FROM").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(9))
	err = src.InitSlot(context.Background(), 0, source.Range{Begin: 0, End: 2})
	require.ErrorContains(t, err, "changed during the pass")
	assert.Nil(t, src.buffers[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInitSlot_UnsignedBigintAsFloat(t *testing.T) {
	exec, mock := newMock(t)
	table := &introspection.Table{
		Schema: "physics",
		Name:   "events",
		Columns: []introspection.Column{
			{Name: "id", DataType: "bigint", ColumnType: "bigint(20)", IsPrimaryKey: true},
			{Name: "trigger_mask", DataType: "bigint", ColumnType: "bigint(20) unsigned"},
		},
	}
	src, err := FromTable(exec, table)
	require.NoError(t, err)

	got, err := src.ColumnType("trigger_mask")
	require.NoError(t, err)
	assert.Equal(t, coltype.Float64.String(), got)
	mask, err := src.Readers("trigger_mask", coltype.Float64)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT `trigger_mask` FROM").
		WillReturnRows(sqlmock.NewRows([]string{"trigger_mask"}).AddRow("18446744073709551615"))
	require.NoError(t, src.InitSlot(context.Background(), 0, source.Range{Begin: 0, End: 1}))
	v, err := mask[0].Value(0)
	require.NoError(t, err)
	assert.InEpsilon(t, 1.8446744073709552e19, v, 1e-12)
}

func TestNew_DescribesTable(t *testing.T) {
	exec, mock := newMock(t)
	mock.ExpectQuery("FROM INFORMATION_SCHEMA.COLUMNS").
		WithArgs("physics", "events").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME", "DATA_TYPE", "COLUMN_TYPE", "COLUMN_COMMENT", "IS_NULLABLE"}).
			AddRow("run", "int", "int(11)", nil, "NO").
			AddRow("evt", "bigint", "bigint(20)", nil, "NO").
			AddRow("e", "float", "float", nil, "YES"))
	mock.ExpectQuery("FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE").
		WithArgs("physics", "events", "PRIMARY").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME"}).AddRow("run").AddRow("evt"))

	src, err := New(context.Background(), exec, "physics", "events")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	_, err = src.Readers("e", coltype.Float64)
	require.NoError(t, err)
	query, _, err := src.rangeQuery(source.Range{Begin: 10, End: 20})
	require.NoError(t, err)
	assert.Equal(t, "SELECT `e` FROM `physics`.`events` ORDER BY `run`, `evt` LIMIT 10 OFFSET 10", query)
}

func TestNew_UnknownTableListsAvailable(t *testing.T) {
	exec, mock := newMock(t)
	mock.ExpectQuery("FROM INFORMATION_SCHEMA.COLUMNS").
		WithArgs("physics", "evnets").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME", "DATA_TYPE", "COLUMN_TYPE", "COLUMN_COMMENT", "IS_NULLABLE"}))
	mock.ExpectQuery("FROM INFORMATION_SCHEMA.TABLES").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME"}).AddRow("events").AddRow("runs"))

	_, err := New(context.Background(), exec, "physics", "evnets")
	require.ErrorIs(t, err, introspection.ErrTableNotFound)
	assert.ErrorContains(t, err, "available: events, runs")
	assert.NoError(t, mock.ExpectationsWereMet())
}
