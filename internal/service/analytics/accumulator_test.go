package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/guiIerme/JobFinder-sub002/internal/model/chat"
	"github.com/guiIerme/JobFinder-sub002/internal/store"
)

func TestSnapshotCounters(t *testing.T) {
	acc := NewAccumulator(store.NewMemoryStore())
	acc.RecordUserMessage()
	acc.RecordUserMessage()
	acc.RecordBotMessage(100 * time.Millisecond)
	acc.RecordBotMessage(300 * time.Millisecond)
	acc.RecordTopic("vagas")
	acc.RecordTopic("vagas")
	acc.RecordAction("escalation_shown")
	acc.MarkEscalated()

	record := acc.Snapshot("session-1")
	if record.TotalMessages != 4 || record.UserMessages != 2 || record.BotMessages != 2 {
		t.Fatalf("unexpected counts: %+v", record)
	}
	if record.AvgResponseMS != 200 {
		t.Fatalf("expected mean latency 200ms, got %d", record.AvgResponseMS)
	}
	if len(record.Topics) != 1 {
		t.Fatalf("topics must be distinct, got %v", record.Topics)
	}
	if !record.Escalated || record.Resolved {
		t.Fatalf("unexpected flags: %+v", record)
	}
}

func TestFlushIsIdempotent(t *testing.T) {
	durable := store.NewMemoryStore()
	acc := NewAccumulator(durable)
	acc.RecordUserMessage()
	acc.RecordBotMessage(50 * time.Millisecond)
	acc.MarkResolved()

	ctx := context.Background()
	if err := acc.Flush(ctx, "session-1"); err != nil {
		t.Fatalf("first flush err: %v", err)
	}
	first, ok := durable.Analytics("session-1")
	if !ok {
		t.Fatal("expected record after flush")
	}

	// The disconnect path may flush again with no intervening activity.
	if err := acc.Flush(ctx, "session-1"); err != nil {
		t.Fatalf("second flush err: %v", err)
	}
	second, _ := durable.Analytics("session-1")

	if first.TotalMessages != second.TotalMessages ||
		first.AvgResponseMS != second.AvgResponseMS ||
		first.Engagement != second.Engagement ||
		first.Resolved != second.Resolved {
		t.Fatalf("flush not idempotent: %+v vs %+v", first, second)
	}
}

func TestFlushWithoutSessionIsNoop(t *testing.T) {
	acc := NewAccumulator(store.NewMemoryStore())
	if err := acc.Flush(context.Background(), ""); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}

func TestEngagementScore(t *testing.T) {
	cases := []struct {
		messages int
		resolved bool
		want     int
	}{
		{0, false, 0},
		{5, false, 20},
		{5, true, 40},
		{20, false, 80},
		{20, true, 100},
		{50, true, 100}, // volume contribution saturates
	}
	for _, tc := range cases {
		if got := chat.EngagementScore(tc.messages, tc.resolved); got != tc.want {
			t.Fatalf("EngagementScore(%d, %v) = %d, want %d", tc.messages, tc.resolved, got, tc.want)
		}
	}
}
