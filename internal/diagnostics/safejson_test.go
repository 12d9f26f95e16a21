package diagnostics

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-snapshot-scraper/internal/scrape"
)

type node struct {
	Name string `json:"name"`
	Next *node  `json:"next,omitempty"`
	Peer *node  `json:"peer"`
}

func TestSafeMarshalDropsPointerCycle(t *testing.T) {
	t.Parallel()

	a := &node{Name: "a"}
	b := &node{Name: "b", Next: a}
	a.Next = b

	out, err := SafeMarshal(a)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"a","next":{"name":"b","peer":null},"peer":null}`, string(out))
}

func TestSafeMarshalDropsMapCycle(t *testing.T) {
	t.Parallel()

	cfg := map[string]any{"method": "PUT"}
	cfg["self"] = cfg
	diag := &scrape.Diagnostics{
		SourceURL:    "https://example.com/?searchQueryState=x",
		ErrorMessage: "boom",
		ErrorConfig:  cfg,
	}

	out, err := SafeMarshal(diag)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "boom", decoded["errorMessage"])
	assert.Equal(t, map[string]any{"method": "PUT"}, decoded["errorConfig"])
}

func TestSafeMarshalCycleInsideSliceBecomesNull(t *testing.T) {
	t.Parallel()

	list := make([]any, 2)
	list[0] = "first"
	list[1] = list

	out, err := SafeMarshal(map[string]any{"list": list})
	require.NoError(t, err)
	assert.JSONEq(t, `{"list":["first",null]}`, string(out))
}

func TestSafeMarshalKeepsSharedNonCyclicReferences(t *testing.T) {
	t.Parallel()

	shared := &node{Name: "shared"}
	out, err := SafeMarshal(map[string]any{"x": shared, "y": shared})
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":{"name":"shared","peer":null},"y":{"name":"shared","peer":null}}`, string(out))
}

func TestSafeMarshalHandlesUnencodableValues(t *testing.T) {
	t.Parallel()

	out, err := SafeMarshal(map[string]any{
		"fn":    func() {},
		"ch":    make(chan int),
		"err":   errors.New("dial tcp: refused"),
		"raw":   json.RawMessage(`{"a":1}`),
		"bytes": []byte("plain"),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"err":"dial tcp: refused","raw":{"a":1},"bytes":"plain"}`, string(out))
}

func TestSafeMarshalIndentsTwoSpaces(t *testing.T) {
	t.Parallel()

	out, err := SafeMarshal(map[string]int{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": 1\n}", string(out))
}
