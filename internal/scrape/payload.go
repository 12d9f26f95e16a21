package scrape

import "encoding/json"

// BoolValue wraps a boolean toggle the way the target site expects it.
type BoolValue struct {
	Value bool `json:"value"`
}

// StringValue wraps a string filter.
type StringValue struct {
	Value string `json:"value"`
}

// PriceRange bounds listing price; a nil Max means unbounded.
type PriceRange struct {
	Min float64  `json:"min"`
	Max *float64 `json:"max"`
}

// MapBounds is the search viewport.
type MapBounds struct {
	West  float64 `json:"west"`
	East  float64 `json:"east"`
	South float64 `json:"south"`
	North float64 `json:"north"`
}

// FilterState is the fixed filter projection sent upstream.
type FilterState struct {
	SortSelection             StringValue `json:"sortSelection"`
	IsNewConstruction         BoolValue   `json:"isNewConstruction"`
	IsAuction                 BoolValue   `json:"isAuction"`
	IsForSaleForeclosure      BoolValue   `json:"isForSaleForeclosure"`
	IsPendingListingsSelected BoolValue   `json:"isPendingListingsSelected"`
	IsComingSoon              BoolValue   `json:"isComingSoon"`
	DaysOnZillow              StringValue `json:"doz"`
	IsTownhome                BoolValue   `json:"isTownhome"`
	IsMultiFamily             BoolValue   `json:"isMultiFamily"`
	IsCondo                   BoolValue   `json:"isCondo"`
	IsLotLand                 BoolValue   `json:"isLotLand"`
	IsApartment               BoolValue   `json:"isApartment"`
	IsManufactured            BoolValue   `json:"isManufactured"`
	IsApartmentOrCondo        BoolValue   `json:"isApartmentOrCondo"`
	IsPreForeclosure          BoolValue   `json:"isPreForeclosure"`
	IsForeclosed              BoolValue   `json:"isForeclosed"`
	Price                     PriceRange  `json:"price"`
}

// SearchQueryState is the inner search state.
type SearchQueryState struct {
	Pagination      struct{}        `json:"pagination"`
	IsMapVisible    bool            `json:"isMapVisible"`
	IsListVisible   bool            `json:"isListVisible"`
	MapBounds       MapBounds       `json:"mapBounds"`
	MapZoom         *float64        `json:"mapZoom"`
	UsersSearchTerm *string         `json:"usersSearchTerm"`
	RegionSelection json.RawMessage `json:"regionSelection"`
	FilterState     FilterState     `json:"filterState"`
}

// Wants selects the result categories the target should return.
type Wants struct {
	Cat1 []string `json:"cat1"`
}

// SearchPayload is the request body for the search-state endpoint.
type SearchPayload struct {
	SearchQueryState SearchQueryState `json:"searchQueryState"`
	Wants            Wants            `json:"wants"`
	RequestID        int              `json:"requestId"`
	IsDebugRequest   bool             `json:"isDebugRequest"`
}
