package snapshot

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-snapshot-scraper/internal/scrape"
)

var keyPattern = regexp.MustCompile(`^snapshot_[A-Za-z0-9]{10}\.json$`)

func TestMinterNewKeyShape(t *testing.T) {
	t.Parallel()

	m := New()
	seen := make(map[scrape.AttemptKey]struct{})
	for range 200 {
		key, err := m.NewKey()
		require.NoError(t, err)
		assert.Regexp(t, keyPattern, string(key))
		assert.True(t, Valid(key))
		seen[key] = struct{}{}
	}
	assert.Len(t, seen, 200)
}

func TestValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		key  scrape.AttemptKey
		want bool
	}{
		{"snapshot_abcDEF0123.json", true},
		{"snapshot_abcDEF012.json", false},
		{"snapshot_abcDEF01-3.json", false},
		{"snap_abcDEF0123.json", false},
		{"snapshot_abcDEF0123.txt", false},
		{"", false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Valid(tc.key), string(tc.key))
	}
}
