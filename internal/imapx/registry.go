package imapx

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"mailpipe/pkg/vault"
)

// ErrPoolExhausted is returned when an account already has the maximum
// number of concurrent sessions. It is retryable: the job system backs
// off and tries again instead of queueing behind a lock.
var ErrPoolExhausted = errors.New("session pool exhausted")

// Dialer 建立一条已认证的会话，测试中可替换
type Dialer func(settings *vault.ConnectionSettings, debug bool) (*Session, error)

// Registry bounds the number of live IMAP sessions per account. It is
// an explicit capacity check, not a wait queue: Acquire beyond the cap
// fails fast with ErrPoolExhausted.
type Registry struct {
	mu     sync.Mutex
	active map[string]int

	cap    int
	debug  bool
	dial   Dialer
	logger *zap.Logger
}

func NewRegistry(capPerAccount int, debug bool, logger *zap.Logger) *Registry {
	if capPerAccount <= 0 {
		capPerAccount = 5
	}
	return &Registry{
		active: make(map[string]int),
		cap:    capPerAccount,
		debug:  debug,
		dial:   Dial,
		logger: logger,
	}
}

// WithDialer 替换拨号函数（测试用）
func (r *Registry) WithDialer(dial Dialer) *Registry {
	r.dial = dial
	return r
}

// Acquire opens a session for the account, counting it against the
// per-account cap. The caller must Release on every exit path.
func (r *Registry) Acquire(ctx context.Context, accountID string, settings *vault.ConnectionSettings) (*Session, error) {
	r.mu.Lock()
	if r.active[accountID] >= r.cap {
		count := r.active[accountID]
		r.mu.Unlock()
		r.logger.Warn("IMAP session pool exhausted",
			zap.String("account_id", accountID),
			zap.Int("active", count),
			zap.Int("cap", r.cap),
		)
		return nil, ErrPoolExhausted
	}
	r.active[accountID]++
	r.mu.Unlock()

	session, err := r.dial(settings, r.debug)
	if err != nil {
		r.release(accountID)
		return nil, err
	}
	return session, nil
}

// Release closes the session and frees its pool slot.
func (r *Registry) Release(accountID string, session *Session) {
	if session != nil {
		if err := session.Close(); err != nil {
			r.logger.Debug("IMAP logout failed",
				zap.String("account_id", accountID),
				zap.Error(err),
			)
		}
	}
	r.release(accountID)
}

func (r *Registry) release(accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active[accountID] > 0 {
		r.active[accountID]--
	}
	if r.active[accountID] == 0 {
		delete(r.active, accountID)
	}
}

// Active 返回账户当前持有的会话数
func (r *Registry) Active(accountID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[accountID]
}
