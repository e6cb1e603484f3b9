package ingest

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const sample = `timestamp,value
2014-04-10 00:00:00,20.5
2014-04-10 00:05:00, 21
2014-04-10 00:10:00,-3,1
`

func TestReadAll(t *testing.T) {
	rows, err := ReadAll(strings.NewReader(sample))
	require.NoError(t, err)
	require.Equal(t, []Row{
		{Line: 2, Timestamp: "2014-04-10 00:00:00", Value: 20.5},
		{Line: 3, Timestamp: "2014-04-10 00:05:00", Value: 21},
		{Line: 4, Timestamp: "2014-04-10 00:10:00", Value: -3, Label: "1"},
	}, rows)

	lo, hi, err := Range(rows)
	require.NoError(t, err)
	require.Equal(t, -3.0, lo)
	require.Equal(t, 21.0, hi)
}

func TestReadSeries_Label(t *testing.T) {
	s, err := ReadSeries(strings.NewReader(sample))
	require.NoError(t, err)
	require.Equal(t, []string{"timestamp", "value"}, s.Header)
	require.False(t, s.HasLabel())

	labeled, err := ReadSeries(strings.NewReader("timestamp,value,label\n2014-04-10 00:00:00,1,0\n2014-04-10 00:05:00,2,1\n"))
	require.NoError(t, err)
	require.True(t, labeled.HasLabel())
	require.Equal(t, []string{"0", "1"}, []string{labeled.Rows[0].Label, labeled.Rows[1].Label})
}

func TestReader_Streams(t *testing.T) {
	r := NewReader(strings.NewReader(sample))
	first, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, 20.5, first.Value)
	_, err = r.Next()
	require.NoError(t, err)
	_, err = r.Next()
	require.NoError(t, err)
	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestReadAll_Errors(t *testing.T) {
	_, err := ReadAll(strings.NewReader("timestamp,value\n2014-04-10 00:00:00,abc\n"))
	require.ErrorContains(t, err, "line 2")

	_, err = ReadAll(strings.NewReader("timestamp,value\nonly-one-field\n"))
	require.ErrorContains(t, err, "line 2")

	rows, err := ReadAll(strings.NewReader("timestamp,value\n"))
	require.NoError(t, err)
	_, _, err = Range(rows)
	require.ErrorIs(t, err, ErrEmptySeries)
}

func TestRestPeriodFor(t *testing.T) {
	cases := map[int]int{
		0:     1,
		10:    1,
		100:   3,
		4032:  120,
		5000:  150,
		22695: 150,
	}
	for rows, want := range cases {
		require.Equal(t, want, RestPeriodFor(rows), "rows=%d", rows)
	}
}
