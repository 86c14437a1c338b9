package processor

import (
	"context"
	"testing"
	"time"

	"equityflow/config"
	"equityflow/internal/channel"
	"equityflow/models"
)

func TestFlattenTickPage(t *testing.T) {
	page := models.TickPage{
		Count:      2,
		Total:      2,
		Timestamps: []int64{1609772400000, 1609772401000},
		Prices:     []float64{129.4, 129.5},
		Volumes:    []float64{100, 200},
		Venues:     []string{"Q", "N"},
		Conditions: [][]string{{"1"}, {"1", "12"}},
	}

	rows := flattenTickPage("AAPL", page)

	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Symbol != "AAPL" || rows[0].Price != 129.4 || rows[0].Venue != "Q" {
		t.Errorf("unexpected first row: %+v", rows[0])
	}
	if rows[1].Conditions != "1;12" {
		t.Errorf("unexpected conditions: %q", rows[1].Conditions)
	}
}

func TestFlattenTickPageRaggedColumns(t *testing.T) {
	// Shorter side columns must not panic; missing cells read as zero values.
	page := models.TickPage{
		Timestamps: []int64{1, 2, 3},
		Prices:     []float64{10.0},
		Venues:     []string{"Q", "N"},
	}

	rows := flattenTickPage("AAPL", page)

	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[1].Price != 0 || rows[2].Venue != "" {
		t.Errorf("expected zero values for missing cells: %+v", rows)
	}
}

func TestFlattenNBBOPage(t *testing.T) {
	page := models.NBBOPage{
		Count:      1,
		Total:      1,
		Timestamps: []int64{1609772400000},
		Bids:       []float64{372.1},
		BidVolumes: []float64{5},
		BidVenues:  []string{"P"},
		Asks:       []float64{372.2},
		AskVolumes: []float64{3},
		AskVenues:  []string{"Q"},
		Conditions: [][]string{{"R"}},
	}

	rows := flattenNBBOPage("SPY", page)

	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	r := rows[0]
	if r.Bid != 372.1 || r.Ask != 372.2 || r.BidVenue != "P" || r.AskVenue != "Q" {
		t.Errorf("unexpected row: %+v", r)
	}
	if r.Conditions != "R" {
		t.Errorf("unexpected conditions: %q", r.Conditions)
	}
}

func TestNormalizerEmitsOneBatchPerDay(t *testing.T) {
	cfg := config.Default()
	cfg.Processor.MaxWorkers = 1

	ch := channel.NewChannels(4, 4)
	norm := NewNormalizer(cfg, ch.Raw, ch)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msg := models.RawDayMessage{
		Symbol: "AAPL",
		Date:   "2021-01-04",
		Kind:   models.KindTick,
		Path:   "db_raw_tick/AAPL/AAPL_2021-01-04.parquet",
		Pages: [][]byte{
			[]byte(`{"s":"AAPL","count":2,"total":3,"t":[1,2],"p":[10.0,10.1],"v":[1,2],"x":["Q","N"],"c":[[],[]]}`),
			[]byte(`{"s":"AAPL","count":1,"total":3,"t":[3],"p":[10.2],"v":[3],"x":["Q"],"c":[[]]}`),
		},
		Total:     3,
		Timestamp: time.Now().UTC(),
	}
	if !ch.SendRaw(ctx, msg) {
		t.Fatal("SendRaw failed")
	}
	ch.CloseRaw()

	if err := norm.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	select {
	case batch := <-ch.Batch:
		if batch.BatchID == "" {
			t.Error("batch has no ID")
		}
		if batch.RecordCount != 3 || len(batch.Trades) != 3 {
			t.Errorf("expected 3 trades, got %d", len(batch.Trades))
		}
		if batch.Path != msg.Path {
			t.Errorf("unexpected path: %s", batch.Path)
		}
		if batch.Trades[2].Price != 10.2 {
			t.Errorf("unexpected last trade: %+v", batch.Trades[2])
		}
	default:
		t.Fatal("no batch produced")
	}
}

func TestNormalizerDropsUndecodablePages(t *testing.T) {
	cfg := config.Default()
	cfg.Processor.MaxWorkers = 1

	ch := channel.NewChannels(2, 2)
	norm := NewNormalizer(cfg, ch.Raw, ch)

	ctx := context.Background()
	msg := models.RawDayMessage{
		Symbol: "AAPL",
		Date:   "2021-01-04",
		Kind:   models.KindNBBO,
		Pages: [][]byte{
			[]byte(`not json`),
			[]byte(`{"s":"AAPL","count":1,"total":1,"t":[1],"b":[1.0],"a":[1.1]}`),
		},
		Total: 1,
	}
	ch.SendRaw(ctx, msg)
	ch.CloseRaw()

	// The surviving page is still flattened, but the run must surface the
	// dropped page as a failure.
	if err := norm.Run(ctx); err == nil {
		t.Fatal("expected error for undecodable page")
	}

	select {
	case batch := <-ch.Batch:
		if len(batch.Quotes) != 1 {
			t.Errorf("expected 1 quote from the valid page, got %d", len(batch.Quotes))
		}
	default:
		t.Fatal("no batch produced")
	}
}
