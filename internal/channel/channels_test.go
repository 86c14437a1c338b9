package channel

import (
	"context"
	"testing"
	"time"

	"equityflow/models"
)

func TestSendRawDelivers(t *testing.T) {
	c := NewChannels(1, 1)
	ctx := context.Background()

	msg := models.RawDayMessage{Symbol: "AAPL", Date: "2021-01-04", Kind: models.KindTick}
	if !c.SendRaw(ctx, msg) {
		t.Fatal("SendRaw returned false on buffered channel")
	}

	got := <-c.Raw
	if got.Symbol != "AAPL" || got.Date != "2021-01-04" {
		t.Errorf("unexpected message: %+v", got)
	}

	stats := c.GetStats()
	if stats.RawSent != 1 {
		t.Errorf("expected 1 raw sent, got %d", stats.RawSent)
	}
}

func TestSendBatchBlocksUntilCancelled(t *testing.T) {
	c := NewChannels(1, 1)

	ctx, cancel := context.WithCancel(context.Background())
	// Fill the buffer so the next send must block.
	if !c.SendBatch(ctx, models.DayBatch{Symbol: "AAPL"}) {
		t.Fatal("first SendBatch should succeed")
	}

	done := make(chan bool, 1)
	go func() {
		done <- c.SendBatch(ctx, models.DayBatch{Symbol: "MSFT"})
	}()

	select {
	case <-done:
		t.Fatal("SendBatch returned while the buffer was full")
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case delivered := <-done:
		if delivered {
			t.Error("SendBatch reported delivery after cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("SendBatch did not return after cancellation")
	}

	stats := c.GetStats()
	if stats.BatchSent != 1 {
		t.Errorf("expected 1 batch sent, got %d", stats.BatchSent)
	}
}

func TestCloseRawEndsRange(t *testing.T) {
	c := NewChannels(2, 2)
	ctx := context.Background()

	c.SendRaw(ctx, models.RawDayMessage{Symbol: "AAPL"})
	c.SendRaw(ctx, models.RawDayMessage{Symbol: "MSFT"})
	c.CloseRaw()

	var n int
	for range c.Raw {
		n++
	}
	if n != 2 {
		t.Errorf("expected 2 drained messages, got %d", n)
	}
}
