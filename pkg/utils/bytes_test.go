package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBytes(t *testing.T) {
	cases := map[string]int64{
		"1024":  1024,
		"1K":    1024,
		"1KB":   1024,
		"1M":    1024 * 1024,
		"1.5M":  int64(1.5 * 1024 * 1024),
		"2G":    2 * 1024 * 1024 * 1024,
		"512 b": 512,
	}
	for input, want := range cases {
		got, err := ParseBytes(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	_, err := ParseBytes("")
	assert.Error(t, err)
	_, err = ParseBytes("not-a-size")
	assert.Error(t, err)
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.0 KB", FormatBytes(1024))
	assert.Equal(t, "1.0 MB", FormatBytes(1024*1024))
}
