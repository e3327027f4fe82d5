package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCSV(t *testing.T) {
	t.Run("quoted delimiter stays in one field", func(t *testing.T) {
		records, err := ParseCSV(strings.NewReader("Name,Type\n\"Smith, John\",\"collision\"\n"))

		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Len(t, records[0], 2)
		assert.Equal(t, "Smith, John", records[0]["Name"])
		assert.Equal(t, "collision", records[0]["Type"])
	})

	t.Run("short row fills missing columns", func(t *testing.T) {
		records, err := ParseCSV(strings.NewReader("A,B,C\n1,2\n"))

		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, RawRecord{"A": "1", "B": "2", "C": ""}, records[0])
	})

	t.Run("multi-line narrative and escaped quotes", func(t *testing.T) {
		in := "Report ID,Narrative\n30270-4962,\"The AV was struck\non \"\"Market\"\" Street.\"\n"
		records, err := ParseCSV(strings.NewReader(in))

		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "The AV was struck\non \"Market\" Street.", records[0]["Narrative"])
	})

	t.Run("byte order mark and padded header", func(t *testing.T) {
		records, err := ParseCSV(strings.NewReader("\uFEFFReport ID , State\nabc,CA\n"))

		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "abc", records[0]["Report ID"])
		assert.Equal(t, "CA", records[0]["State"])
	})

	t.Run("empty input", func(t *testing.T) {
		records, err := ParseCSV(strings.NewReader(""))

		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("header only", func(t *testing.T) {
		records, err := ParseCSV(strings.NewReader("A,B,C\n"))

		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("rows keep source order", func(t *testing.T) {
		records, err := ParseCSV(strings.NewReader("ID\n1\n2\n3\n"))

		require.NoError(t, err)
		require.Len(t, records, 3)
		for i, want := range []string{"1", "2", "3"} {
			assert.Equal(t, want, records[i]["ID"])
		}
	})
}
