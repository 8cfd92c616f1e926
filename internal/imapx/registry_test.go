package imapx

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"mailpipe/pkg/vault"
)

func testSettings() *vault.ConnectionSettings {
	return &vault.ConnectionSettings{Host: "imap.example.com", Port: 993, User: "u", Pass: "p"}
}

func fakeDialer(t *testing.T) Dialer {
	t.Helper()
	return func(settings *vault.ConnectionSettings, debug bool) (*Session, error) {
		return &Session{}, nil
	}
}

func TestRegistryCapEnforced(t *testing.T) {
	reg := NewRegistry(2, false, zap.NewNop()).WithDialer(fakeDialer(t))
	ctx := context.Background()

	s1, err := reg.Acquire(ctx, "acct-1", testSettings())
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if _, err := reg.Acquire(ctx, "acct-1", testSettings()); err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}

	if _, err := reg.Acquire(ctx, "acct-1", testSettings()); !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("expected ErrPoolExhausted, got %v", err)
	}

	// 不同账户不受影响
	if _, err := reg.Acquire(ctx, "acct-2", testSettings()); err != nil {
		t.Fatalf("other account acquire failed: %v", err)
	}

	// 释放后槽位可复用
	reg.release("acct-1")
	_ = s1
	if _, err := reg.Acquire(ctx, "acct-1", testSettings()); err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
}

func TestRegistryDialFailureFreesSlot(t *testing.T) {
	dialErr := errors.New("connection refused")
	reg := NewRegistry(1, false, zap.NewNop()).WithDialer(
		func(settings *vault.ConnectionSettings, debug bool) (*Session, error) {
			return nil, dialErr
		},
	)

	if _, err := reg.Acquire(context.Background(), "acct-1", testSettings()); !errors.Is(err, dialErr) {
		t.Fatalf("expected dial error, got %v", err)
	}
	if reg.Active("acct-1") != 0 {
		t.Errorf("failed dial must not hold a pool slot, active=%d", reg.Active("acct-1"))
	}
}
