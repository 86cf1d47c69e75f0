// Package analytics accumulates per-connection engagement counters and
// writes the session's one analytics record when the connection ends. The
// accumulator is owned by a single connection task; nothing here is shared.
package analytics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/guiIerme/JobFinder-sub002/internal/model/chat"
	"github.com/guiIerme/JobFinder-sub002/internal/store"
)

// Accumulator gathers counters for one connection. The mutex only guards
// against the flush-on-disconnect racing a flush-on-close; the counters
// themselves are written from the single pipeline goroutine.
type Accumulator struct {
	durable store.Store

	mu           sync.Mutex
	userCount    int
	botCount     int
	latencySum   time.Duration
	latencyCount int
	topics       map[string]struct{}
	actions      []string
	resolved     bool
	escalated    bool
}

// NewAccumulator builds an empty accumulator writing to durable at flush.
func NewAccumulator(durable store.Store) *Accumulator {
	return &Accumulator{
		durable: durable,
		topics:  make(map[string]struct{}),
	}
}

// RecordUserMessage counts one inbound user turn.
func (a *Accumulator) RecordUserMessage() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.userCount++
}

// RecordBotMessage counts one assistant turn and its pipeline latency.
func (a *Accumulator) RecordBotMessage(latency time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.botCount++
	if latency > 0 {
		a.latencySum += latency
		a.latencyCount++
	}
}

// RecordTopic adds a distinct conversation topic.
func (a *Accumulator) RecordTopic(topic string) {
	if topic == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.topics[topic] = struct{}{}
}

// RecordAction appends a discrete action (escalation shown, rating given).
func (a *Accumulator) RecordAction(action string) {
	if action == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
}

// MarkResolved notes the visitor confirmed the conversation helped.
func (a *Accumulator) MarkResolved() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resolved = true
}

// MarkEscalated notes the conversation was handed to human support.
func (a *Accumulator) MarkEscalated() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.escalated = true
}

// Snapshot renders the current counters as the session's analytics record.
func (a *Accumulator) Snapshot(sessionID string) chat.AnalyticsRecord {
	a.mu.Lock()
	defer a.mu.Unlock()

	topics := make([]string, 0, len(a.topics))
	for topic := range a.topics {
		topics = append(topics, topic)
	}

	var avgLatency int64
	if a.latencyCount > 0 {
		avgLatency = a.latencySum.Milliseconds() / int64(a.latencyCount)
	}

	total := a.userCount + a.botCount
	actions := make([]string, len(a.actions))
	copy(actions, a.actions)

	return chat.AnalyticsRecord{
		SessionID:     sessionID,
		TotalMessages: total,
		UserMessages:  a.userCount,
		BotMessages:   a.botCount,
		AvgResponseMS: avgLatency,
		Resolved:      a.resolved,
		Escalated:     a.escalated,
		Topics:        topics,
		Actions:       actions,
		Engagement:    chat.EngagementScore(total, a.resolved),
	}
}

// Flush upserts the session's analytics record. It is idempotent: the close
// path and the disconnect path may both call it and the second write lands
// the same final values.
func (a *Accumulator) Flush(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	record := a.Snapshot(sessionID)
	if err := a.durable.UpsertAnalytics(ctx, record); err != nil {
		return fmt.Errorf("flush analytics: %w", err)
	}
	return nil
}
