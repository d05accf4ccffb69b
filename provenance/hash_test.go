package provenance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTable() *Table {
	return &Table{
		Name:    "block_records",
		Columns: []string{"timestamp", "base_fee", "gas_used"},
		Rows: [][]string{
			{"2024-03-01T00:00:00Z", "30000000000", "1000"},
			{"2024-03-01T00:00:12Z", "31000000000", "2000"},
			{"2024-03-02T00:00:00Z", "29000000000", "1500"},
		},
	}
}

func TestContentHashDeterministic(t *testing.T) {
	for _, alg := range []Algorithm{SHA256, Blake2b256} {
		a, err := ContentHash(sampleTable(), alg)
		require.NoError(t, err)
		b, err := ContentHash(sampleTable(), alg)
		require.NoError(t, err)
		assert.Equal(t, a, b)
		assert.Len(t, a, 64)
	}

	s, err := ContentHash(sampleTable(), SHA256)
	require.NoError(t, err)
	b2, err := ContentHash(sampleTable(), Blake2b256)
	require.NoError(t, err)
	assert.NotEqual(t, s, b2)
}

func TestContentHashPermutationInvariant(t *testing.T) {
	want, err := ContentHash(sampleTable(), SHA256)
	require.NoError(t, err)

	// rows reversed
	rows := sampleTable()
	rows.Rows[0], rows.Rows[2] = rows.Rows[2], rows.Rows[0]
	got, err := ContentHash(rows, SHA256)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// columns rotated
	orig := sampleTable()
	cols := &Table{Name: orig.Name, Columns: []string{orig.Columns[2], orig.Columns[0], orig.Columns[1]}}
	for _, r := range orig.Rows {
		cols.Rows = append(cols.Rows, []string{r[2], r[0], r[1]})
	}
	got, err = ContentHash(cols, SHA256)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestContentHashSensitiveToOneCell(t *testing.T) {
	want, err := ContentHash(sampleTable(), SHA256)
	require.NoError(t, err)

	tb := sampleTable()
	tb.Rows[1][2] = "2001"
	got, err := ContentHash(tb, SHA256)
	require.NoError(t, err)
	assert.NotEqual(t, want, got)

	// renaming a column changes the hash
	tb = sampleTable()
	tb.Columns[2] = "gas"
	got, err = ContentHash(tb, SHA256)
	require.NoError(t, err)
	assert.NotEqual(t, want, got)

	// duplicating a row changes the hash
	tb = sampleTable()
	tb.Rows = append(tb.Rows, tb.Rows[0])
	got, err = ContentHash(tb, SHA256)
	require.NoError(t, err)
	assert.NotEqual(t, want, got)
}

func TestContentHashCellBoundaries(t *testing.T) {
	a := &Table{Name: "t", Columns: []string{"a", "b"}, Rows: [][]string{{"ab", "c"}}}
	b := &Table{Name: "t", Columns: []string{"a", "b"}, Rows: [][]string{{"a", "bc"}}}
	ha, err := ContentHash(a, SHA256)
	require.NoError(t, err)
	hb, err := ContentHash(b, SHA256)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb)
}

func TestContentHashRejectsMalformed(t *testing.T) {
	_, err := ContentHash(&Table{Name: "t"}, SHA256)
	assert.Error(t, err)

	_, err = ContentHash(&Table{Name: "t", Columns: []string{"a", "a"}}, SHA256)
	assert.Error(t, err)

	_, err = ContentHash(&Table{Name: "t", Columns: []string{"a", "b"}, Rows: [][]string{{"x"}}}, SHA256)
	assert.Error(t, err)

	_, err = ContentHash(&Table{Name: "t", Columns: []string{"a"}, Rows: [][]string{{"\xff"}}}, SHA256)
	assert.Error(t, err)

	_, err = ContentHash(sampleTable(), Algorithm("md5"))
	assert.Error(t, err)
}

func TestParseAlgorithm(t *testing.T) {
	a, err := ParseAlgorithm("")
	require.NoError(t, err)
	assert.Equal(t, SHA256, a)

	a, err = ParseAlgorithm("blake2b")
	require.NoError(t, err)
	assert.Equal(t, Blake2b256, a)

	_, err = ParseAlgorithm("crc32")
	assert.Error(t, err)
}
