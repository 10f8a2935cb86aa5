package table

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dukex/mangotango/pkg/semantic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sampleSchema() Schema {
	return Schema{
		{Name: "user", Type: semantic.Identifier},
		{Name: "text", Type: semantic.Text},
		{Name: "count", Type: semantic.Integer},
		{Name: "score", Type: semantic.Float},
		{Name: "flag", Type: semantic.Boolean},
		{Name: "at", Type: semantic.Datetime},
		{Name: "clock", Type: semantic.Time},
	}
}

func sampleRows() []Row {
	at := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	return []Row{
		{"u1", "hello world", int64(3), 1.5, true, at, 90 * time.Minute},
		{"u2", nil, nil, nil, nil, nil, nil},
		{"u3", "zzz", int64(-7), 0.25, false, at.Add(time.Hour), time.Duration(0)},
	}
}

func TestSchema_Validate(t *testing.T) {
	require.NoError(t, sampleSchema().Validate())

	err := Schema{{Name: "a", Type: semantic.Text}, {Name: "a", Type: semantic.Integer}}.Validate()
	require.ErrorIs(t, err, ErrSchemaMismatch)

	err = Schema{{Name: "a", Type: "blob"}}.Validate()
	require.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestSchema_Rename(t *testing.T) {
	renamed := sampleSchema().Rename(map[string]string{"user": "User ID", "count": ""})

	assert.Equal(t, "User ID", renamed[0].Name)
	assert.Equal(t, "count", renamed[2].Name)
	assert.Equal(t, "user", sampleSchema()[0].Name)
}

func TestParquet_RoundTripKeepsOrderTypesAndNulls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.parquet")

	require.NoError(t, WriteParquet(path, sampleSchema(), sampleRows()))

	r, err := OpenParquet(path)
	require.NoError(t, err)
	assert.Equal(t, sampleSchema(), r.Schema())
	assert.Equal(t, int64(3), r.NumRows())

	rows, err := ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, sampleRows(), rows)

	count, err := ParquetRowCount(path)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestParquet_ReadsInBatches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.parquet")
	schema := Schema{{Name: "n", Type: semantic.Integer}}

	rows := make([]Row, 2500)
	for i := range rows {
		rows[i] = Row{int64(i)}
	}
	require.NoError(t, WriteParquet(path, schema, rows))

	r, err := OpenParquet(path)
	require.NoError(t, err)

	got, err := ReadAll(r)
	require.NoError(t, err)
	require.Len(t, got, 2500)
	assert.Equal(t, int64(2499), got[2499][0])
}

func TestParquet_RejectsWrongWidth(t *testing.T) {
	w, err := CreateParquet(filepath.Join(t.TempDir(), "x.parquet"), sampleSchema())
	require.NoError(t, err)
	defer w.Close()

	require.ErrorIs(t, w.Write(Row{"only one"}), ErrSchemaMismatch)
}

func TestCSV_WritesHeaderAndFormattedValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	schema := Schema{{Name: "name", Type: semantic.Text}, {Name: "n", Type: semantic.Integer}}

	w, err := Create(FormatCSV, path, schema)
	require.NoError(t, err)
	require.NoError(t, w.Write(Row{"a, b", int64(1)}, Row{nil, int64(2)}))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "name,n\n\"a, b\",1\n,2\n", string(data))
}

func TestJSONLines_KeepsColumnOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	schema := Schema{{Name: "z", Type: semantic.Text}, {Name: "a", Type: semantic.Integer}, {Name: "t", Type: semantic.Time}}

	w, err := Create(FormatJSON, path, schema)
	require.NoError(t, err)
	require.NoError(t, w.Write(Row{"x", nil, 90 * time.Second}))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"z":"x","a":null,"t":"00:01:30"}`+"\n", string(data))
}

func TestXLSX_WritesHeaderAndRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.xlsx")
	schema := Schema{{Name: "name", Type: semantic.Text}, {Name: "n", Type: semantic.Integer}}

	w, err := Create(FormatXLSX, path, schema)
	require.NoError(t, err)
	require.NoError(t, w.Write(Row{"a", int64(1)}, Row{"b", int64(2)}))
	require.NoError(t, w.Close())

	book, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer book.Close()

	rows, err := book.GetRows(xlsxSheet)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"name", "n"}, {"a", "1"}, {"b", "2"}}, rows)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(" XLSX ")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)
	assert.Equal(t, "xlsx", f.Extension())

	_, err = ParseFormat("tsv")
	require.ErrorIs(t, err, ErrUnknownFormat)
}

func TestMapReader(t *testing.T) {
	in := NewMemReader(Schema{{Name: "s", Type: semantic.Text}}, []Row{{"a"}, {"bb"}})
	out := NewMapReader(in, Schema{{Name: "len", Type: semantic.Integer}}, func(r Row) (Row, error) {
		return Row{int64(len(r[0].(string)))}, nil
	})

	rows, err := ReadAll(out)
	require.NoError(t, err)
	assert.Equal(t, []Row{{int64(1)}, {int64(2)}}, rows)
	assert.Equal(t, "len", strings.Join(out.Schema().Names(), ","))
}
