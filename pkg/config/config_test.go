package config

import (
	"testing"
	"time"
)

func TestQueueBoundsPerStage(t *testing.T) {
	cfg := Default()

	tests := []struct {
		name        string
		concurrency int
		lock        time.Duration
	}{
		{"fetch", 1, 10 * time.Minute},
		{"parse", 3, 5 * time.Minute},
		{"classify", 2, 5 * time.Minute},
		{"summarize", 1, 5 * time.Minute},
	}
	for _, tt := range tests {
		q := cfg.Queue(tt.name)
		if q.Concurrency != tt.concurrency {
			t.Errorf("Queue(%q).Concurrency = %d, want %d", tt.name, q.Concurrency, tt.concurrency)
		}
		if q.LockDuration != tt.lock {
			t.Errorf("Queue(%q).LockDuration = %v, want %v", tt.name, q.LockDuration, tt.lock)
		}
	}
}

func TestQueueUnknownNameFallsBack(t *testing.T) {
	cfg := Default()

	q := cfg.Queue("mail.fetch.q")
	want := cfg.Queues["parse"]
	if q != want {
		t.Errorf("Queue(unknown) = %+v, want parse defaults %+v", q, want)
	}
}
