package writer

import (
	"bytes"
	"testing"

	"equityflow/config"
	"equityflow/models"
)

func TestEncodeBatchTick(t *testing.T) {
	batch := models.DayBatch{
		Symbol: "AAPL",
		Date:   "2021-01-04",
		Kind:   models.KindTick,
		Trades: []models.TradeRecord{
			{Symbol: "AAPL", Timestamp: 1609772400000, Price: 129.4, Volume: 100, Venue: "Q", Conditions: "1"},
			{Symbol: "AAPL", Timestamp: 1609772401000, Price: 129.5, Volume: 200, Venue: "N", Conditions: "1;12"},
		},
		RecordCount: 2,
	}

	data, err := encodeBatch(batch, config.Default().Writer.Formats.Parquet)
	if err != nil {
		t.Fatalf("encodeBatch failed: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("empty parquet output")
	}
	if !bytes.HasPrefix(data, []byte("PAR1")) {
		t.Errorf("output does not start with parquet magic: %x", data[:4])
	}
	if !bytes.HasSuffix(data, []byte("PAR1")) {
		t.Errorf("output does not end with parquet magic")
	}
}

func TestEncodeBatchNBBO(t *testing.T) {
	batch := models.DayBatch{
		Symbol: "SPY",
		Date:   "2021-01-04",
		Kind:   models.KindNBBO,
		Quotes: []models.QuoteRecord{
			{Symbol: "SPY", Timestamp: 1609772400000, Bid: 372.1, BidVolume: 5, BidVenue: "P", Ask: 372.2, AskVolume: 3, AskVenue: "Q"},
		},
		RecordCount: 1,
	}

	data, err := encodeBatch(batch, config.Default().Writer.Formats.Parquet)
	if err != nil {
		t.Fatalf("encodeBatch failed: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("PAR1")) {
		t.Error("output does not start with parquet magic")
	}
}

func TestEncodeBatchUnknownKind(t *testing.T) {
	batch := models.DayBatch{Kind: models.DataKind("bogus")}
	if _, err := encodeBatch(batch, config.Default().Writer.Formats.Parquet); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestCompressionCodec(t *testing.T) {
	if compressionCodec("snappy") == compressionCodec("gzip") {
		t.Error("snappy and gzip map to the same codec")
	}
	if compressionCodec("unknown") != compressionCodec("") {
		t.Error("unknown compression should fall back to uncompressed")
	}
}
