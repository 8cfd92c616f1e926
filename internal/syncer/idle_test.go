package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	mqcontracts "mailpipe/contracts/mq"
)

type recordingPublisher struct {
	routingKeys []string
	payloads    []any
	err         error
}

func (p *recordingPublisher) Publish(ctx context.Context, routingKey string, payload any) error {
	if p.err != nil {
		return p.err
	}
	p.routingKeys = append(p.routingKeys, routingKey)
	p.payloads = append(p.payloads, payload)
	return nil
}

func newTestWatcher(publisher fetchPublisher, limit pollLimiter) *Watcher {
	w := &Watcher{
		publisher: publisher,
		logger:    zap.NewNop(),
		watched:   make(map[string]context.CancelFunc),
	}
	return w.WithPollLimiter(limit)
}

func TestTriggerManualPollRateLimited(t *testing.T) {
	publisher := &recordingPublisher{}
	granted := 0
	w := newTestWatcher(publisher, func(ctx context.Context, accountID string) (bool, error) {
		// 模拟限流窗口：每个区间只放行第一次
		granted++
		return granted == 1, nil
	})

	for i := 0; i < 5; i++ {
		if err := w.TriggerManualPoll(context.Background(), "acc-1"); err != nil {
			t.Fatalf("TriggerManualPoll() error = %v", err)
		}
	}

	if len(publisher.payloads) != 1 {
		t.Fatalf("published %d fetch jobs, want 1", len(publisher.payloads))
	}
	if publisher.routingKeys[0] != mqcontracts.RoutingKeyFetch {
		t.Errorf("routing key = %q, want %q", publisher.routingKeys[0], mqcontracts.RoutingKeyFetch)
	}
	payload, ok := publisher.payloads[0].(mqcontracts.FetchJobPayload)
	if !ok {
		t.Fatalf("payload type = %T, want FetchJobPayload", publisher.payloads[0])
	}
	if payload.AccountID != "acc-1" {
		t.Errorf("account id = %q, want acc-1", payload.AccountID)
	}
	if payload.Reason != mqcontracts.FetchReasonPoll {
		t.Errorf("reason = %q, want %q", payload.Reason, mqcontracts.FetchReasonPoll)
	}
}

func TestTriggerManualPollNewIntervalPublishesAgain(t *testing.T) {
	publisher := &recordingPublisher{}
	allow := true
	w := newTestWatcher(publisher, func(ctx context.Context, accountID string) (bool, error) {
		return allow, nil
	})

	if err := w.TriggerManualPoll(context.Background(), "acc-1"); err != nil {
		t.Fatalf("TriggerManualPoll() error = %v", err)
	}
	allow = false
	if err := w.TriggerManualPoll(context.Background(), "acc-1"); err != nil {
		t.Fatalf("TriggerManualPoll() error = %v", err)
	}
	allow = true
	if err := w.TriggerManualPoll(context.Background(), "acc-1"); err != nil {
		t.Fatalf("TriggerManualPoll() error = %v", err)
	}

	if len(publisher.payloads) != 2 {
		t.Fatalf("published %d fetch jobs, want 2", len(publisher.payloads))
	}
}

func TestTriggerManualPollLimiterError(t *testing.T) {
	publisher := &recordingPublisher{}
	w := newTestWatcher(publisher, func(ctx context.Context, accountID string) (bool, error) {
		return false, errors.New("redis down")
	})

	if err := w.TriggerManualPoll(context.Background(), "acc-1"); err == nil {
		t.Fatal("TriggerManualPoll() error = nil, want limiter error")
	}
	if len(publisher.payloads) != 0 {
		t.Errorf("published %d fetch jobs, want 0", len(publisher.payloads))
	}
}

func TestReconnectBackoff(t *testing.T) {
	base := 10 * time.Second
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 10 * time.Second},
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{3, 40 * time.Second},
		{4, idleReconnectMax},
		{100, idleReconnectMax},
	}
	for _, tt := range tests {
		if got := reconnectBackoff(base, tt.attempt); got != tt.want {
			t.Errorf("reconnectBackoff(%v, %d) = %v, want %v", base, tt.attempt, got, tt.want)
		}
	}
}
