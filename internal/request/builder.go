// Package request builds the target site's search-state payload from a
// listing-search URL.
package request

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/JakeFAU/listing-snapshot-scraper/internal/scrape"
)

// SearchStateParam is the query parameter carrying the URL-encoded search state.
const SearchStateParam = "searchQueryState"

// Filter defaults applied when the source URL omits a toggle.
const (
	DefaultSortSelection = ""
	DefaultDaysOnZillow  = "1"
	DefaultMinPrice      = 0
)

// boolFilters maps source filter keys to payload fields and their defaults.
// Every toggle defaults to include except pre-foreclosure and foreclosed.
var boolFilters = []struct {
	key string
	def bool
	set func(*scrape.FilterState, bool)
}{
	{"nc", true, func(f *scrape.FilterState, v bool) { f.IsNewConstruction.Value = v }},
	{"auc", true, func(f *scrape.FilterState, v bool) { f.IsAuction.Value = v }},
	{"fore", true, func(f *scrape.FilterState, v bool) { f.IsForSaleForeclosure.Value = v }},
	{"pnd", true, func(f *scrape.FilterState, v bool) { f.IsPendingListingsSelected.Value = v }},
	{"cmsn", true, func(f *scrape.FilterState, v bool) { f.IsComingSoon.Value = v }},
	{"tow", true, func(f *scrape.FilterState, v bool) { f.IsTownhome.Value = v }},
	{"mf", true, func(f *scrape.FilterState, v bool) { f.IsMultiFamily.Value = v }},
	{"con", true, func(f *scrape.FilterState, v bool) { f.IsCondo.Value = v }},
	{"land", true, func(f *scrape.FilterState, v bool) { f.IsLotLand.Value = v }},
	{"apa", true, func(f *scrape.FilterState, v bool) { f.IsApartment.Value = v }},
	{"manu", true, func(f *scrape.FilterState, v bool) { f.IsManufactured.Value = v }},
	{"apco", true, func(f *scrape.FilterState, v bool) { f.IsApartmentOrCondo.Value = v }},
	{"pf", false, func(f *scrape.FilterState, v bool) { f.IsPreForeclosure.Value = v }},
	{"pmf", false, func(f *scrape.FilterState, v bool) { f.IsForeclosed.Value = v }},
}

// Builder implements scrape.Builder.
type Builder struct{}

// NewBuilder returns a Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

type sourceState struct {
	MapBounds       *scrape.MapBounds          `json:"mapBounds"`
	MapZoom         *float64                   `json:"mapZoom"`
	UsersSearchTerm *string                    `json:"usersSearchTerm"`
	RegionSelection json.RawMessage            `json:"regionSelection"`
	FilterState     map[string]json.RawMessage `json:"filterState"`
}

type filterEntry struct {
	Value json.RawMessage `json:"value"`
}

type priceEntry struct {
	Min *float64 `json:"min"`
	Max *float64 `json:"max"`
}

// Build extracts the search state embedded in sourceURL and projects it onto
// the payload the target expects. It fails with *scrape.MalformedSourceError
// when the parameter is missing or is not valid encoded JSON.
func (b *Builder) Build(sourceURL string) (scrape.SearchPayload, error) {
	cleaned := strings.TrimSpace(sourceURL)
	parsed, err := url.Parse(cleaned)
	if err != nil {
		return scrape.SearchPayload{}, scrape.NewMalformedSource(sourceURL, err, "parse source url")
	}
	encoded := parsed.Query().Get(SearchStateParam)
	if encoded == "" {
		return scrape.SearchPayload{}, &scrape.MalformedSourceError{
			SourceURL: sourceURL,
			Err:       eris.Wrap(scrape.ErrMissingSearchState, "build payload"),
		}
	}

	raw, err := decodeState(encoded)
	if err != nil {
		return scrape.SearchPayload{}, scrape.NewMalformedSource(sourceURL, err, "decode searchQueryState")
	}

	var state sourceState
	if err := json.Unmarshal(raw, &state); err != nil {
		return scrape.SearchPayload{}, scrape.NewMalformedSource(sourceURL, err, "parse searchQueryState")
	}
	if state.MapBounds == nil {
		return scrape.SearchPayload{}, scrape.NewMalformedSource(sourceURL, nil, "searchQueryState has no mapBounds")
	}

	return scrape.SearchPayload{
		SearchQueryState: scrape.SearchQueryState{
			IsMapVisible:    true,
			IsListVisible:   true,
			MapBounds:       *state.MapBounds,
			MapZoom:         state.MapZoom,
			UsersSearchTerm: state.UsersSearchTerm,
			RegionSelection: state.RegionSelection,
			FilterState:     projectFilters(state.FilterState),
		},
		Wants:          scrape.Wants{Cat1: []string{"mapResults"}},
		RequestID:      2,
		IsDebugRequest: false,
	}, nil
}

// decodeState accepts the parameter after the query decoder ran once. Links
// copied from a browser are usually encoded twice, so a second unescape is
// applied when the value is not JSON yet.
func decodeState(encoded string) ([]byte, error) {
	if json.Valid([]byte(encoded)) {
		return []byte(encoded), nil
	}
	unescaped, err := url.PathUnescape(encoded)
	if err != nil {
		return nil, err
	}
	return []byte(unescaped), nil
}

func projectFilters(src map[string]json.RawMessage) scrape.FilterState {
	fs := scrape.FilterState{
		SortSelection: scrape.StringValue{Value: stringFilter(src, "sort", DefaultSortSelection)},
		DaysOnZillow:  scrape.StringValue{Value: stringFilter(src, "doz", DefaultDaysOnZillow)},
		Price:         priceFilter(src),
	}
	for _, bf := range boolFilters {
		bf.set(&fs, boolFilter(src, bf.key, bf.def))
	}
	return fs
}

func filterValue(src map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	raw, ok := src[key]
	if !ok || isNull(raw) {
		return nil, false
	}
	var entry filterEntry
	if err := json.Unmarshal(raw, &entry); err != nil || isNull(entry.Value) {
		return nil, false
	}
	return entry.Value, true
}

func boolFilter(src map[string]json.RawMessage, key string, def bool) bool {
	raw, ok := filterValue(src, key)
	if !ok {
		return def
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return def
	}
	return v
}

func stringFilter(src map[string]json.RawMessage, key, def string) string {
	raw, ok := filterValue(src, key)
	if !ok {
		return def
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b)
	}
	return def
}

func priceFilter(src map[string]json.RawMessage) scrape.PriceRange {
	out := scrape.PriceRange{Min: DefaultMinPrice}
	raw, ok := src["price"]
	if !ok || isNull(raw) {
		return out
	}
	var p priceEntry
	if err := json.Unmarshal(raw, &p); err != nil {
		return out
	}
	if p.Min != nil {
		out.Min = *p.Min
	}
	out.Max = p.Max
	return out
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
