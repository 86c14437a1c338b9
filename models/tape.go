package models

import (
	"time"
)

// FetchJob is one (symbol, day) download assignment. Path is the target file
// the writer will produce for it.
type FetchJob struct {
	Symbol string
	Date   time.Time
	Kind   DataKind
	Path   string
}

// Day returns the job's calendar day in the canonical YYYY-MM-DD form.
func (j FetchJob) Day() string {
	return j.Date.Format("2006-01-02")
}

// RawDayMessage carries the undecoded response pages for one fully paginated
// (symbol, day) download from the reader to the normalizer.
type RawDayMessage struct {
	Symbol    string
	Date      string
	Kind      DataKind
	Path      string
	Pages     [][]byte
	Total     int64
	Timestamp time.Time
}

// TradeRecord is a single executed trade row flattened from a tick page.
type TradeRecord struct {
	Symbol     string  `json:"symbol"`
	Timestamp  int64   `json:"timestamp"` // UNIX ms
	Price      float64 `json:"price"`
	Volume     float64 `json:"volume"`
	Venue      string  `json:"venue"`
	Conditions string  `json:"conditions"`
}

// QuoteRecord is a single NBBO row flattened from a quote page.
type QuoteRecord struct {
	Symbol     string  `json:"symbol"`
	Timestamp  int64   `json:"timestamp"` // UNIX ms
	Bid        float64 `json:"bid"`
	BidVolume  float64 `json:"bid_volume"`
	BidVenue   string  `json:"bid_venue"`
	Ask        float64 `json:"ask"`
	AskVolume  float64 `json:"ask_volume"`
	AskVenue   string  `json:"ask_venue"`
	Conditions string  `json:"conditions"`
}

// DayBatch is the normalized result for one (symbol, day), exactly one output
// file. Either Trades or Quotes is populated depending on Kind.
type DayBatch struct {
	BatchID     string
	Symbol      string
	Date        string
	Kind        DataKind
	Path        string
	Trades      []TradeRecord
	Quotes      []QuoteRecord
	RecordCount int
	Timestamp   time.Time
}
