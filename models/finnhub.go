package models

// DataKind selects which historical dataset is downloaded.
type DataKind string

const (
	// KindNBBO is historical best bid/offer quote data (/stock/bbo).
	KindNBBO DataKind = "nbbo"
	// KindTick is historical trade data (/stock/tick).
	KindTick DataKind = "tick"
)

// Valid reports whether the kind is one of the supported datasets.
func (k DataKind) Valid() bool {
	return k == KindNBBO || k == KindTick
}

// TickPage is one page of the Finnhub historical tick response. Finnhub
// returns columnar arrays; row i is the i-th element of each array. A page
// holds at most the requested limit of rows; Total is the row count for the
// whole day.
type TickPage struct {
	Symbol     string     `json:"s"`
	Skip       int64      `json:"skip"`
	Count      int64      `json:"count"`
	Total      int64      `json:"total"`
	Timestamps []int64    `json:"t"` // UNIX ms
	Prices     []float64  `json:"p"`
	Volumes    []float64  `json:"v"`
	Venues     []string   `json:"x"`
	Conditions [][]string `json:"c"`
}

// NBBOPage is one page of the Finnhub historical NBBO response, columnar like
// TickPage.
type NBBOPage struct {
	Symbol     string     `json:"s"`
	Skip       int64      `json:"skip"`
	Count      int64      `json:"count"`
	Total      int64      `json:"total"`
	Timestamps []int64    `json:"t"` // UNIX ms
	Bids       []float64  `json:"b"`
	BidVolumes []float64  `json:"bv"`
	BidVenues  []string   `json:"bx"`
	Asks       []float64  `json:"a"`
	AskVolumes []float64  `json:"av"`
	AskVenues  []string   `json:"ax"`
	Conditions [][]string `json:"c"`
}
