package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	mqcontracts "mailpipe/contracts/mq"
	"mailpipe/internal/imapx"
	"mailpipe/internal/repository"
	"mailpipe/pkg/config"
	"mailpipe/pkg/metrics"
	"mailpipe/pkg/vault"
)

// idleTimeout keeps each IDLE below the 29 minute server limit.
const idleTimeout = 25 * time.Minute

const idleReconnectMax = time.Minute

// fetchPublisher 只暴露 watcher 需要的发布能力，测试中可替换
type fetchPublisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// pollLimiter grants at most one manual-poll slot per account per
// configured interval.
type pollLimiter func(ctx context.Context, accountID string) (bool, error)

// Watcher keeps one IDLE session per sync-enabled account, bounded by a
// global connection ceiling, and enqueues fetch jobs when the server
// reports new mail. IDLE is an optimization only; the poll scheduler
// guarantees progress when a watcher is down.
type Watcher struct {
	accountRepo *repository.AccountRepository
	registry    *imapx.Registry
	vault       *vault.Vault
	publisher   fetchPublisher
	limit       pollLimiter
	cfg         config.IdleConfig
	logger      *zap.Logger

	mu      sync.Mutex
	watched map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewWatcher(
	accountRepo *repository.AccountRepository,
	registry *imapx.Registry,
	v *vault.Vault,
	publisher fetchPublisher,
	rdb *redis.Client,
	cfg config.IdleConfig,
	log *zap.Logger,
) *Watcher {
	return &Watcher{
		accountRepo: accountRepo,
		registry:    registry,
		vault:       v,
		publisher:   publisher,
		limit:       redisPollLimiter(rdb, cfg.ManualPollMin),
		cfg:         cfg,
		logger:      log,
		watched:     make(map[string]context.CancelFunc),
	}
}

// WithPollLimiter 替换限流器（测试用）
func (w *Watcher) WithPollLimiter(limit pollLimiter) *Watcher {
	w.limit = limit
	return w
}

func redisPollLimiter(rdb *redis.Client, interval time.Duration) pollLimiter {
	return func(ctx context.Context, accountID string) (bool, error) {
		key := fmt.Sprintf("manualpoll:%s", accountID)
		return rdb.SetNX(ctx, key, 1, interval).Result()
	}
}

// Run sweeps the account table and reconciles watchers until ctx is
// cancelled.
func (w *Watcher) Run(ctx context.Context) {
	if !w.cfg.Enabled {
		w.logger.Info("IDLE watcher disabled")
		return
	}

	w.sweep(ctx)
	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// Stop cancels every watcher and waits for them to drain.
func (w *Watcher) Stop() {
	w.mu.Lock()
	for id, cancel := range w.watched {
		cancel()
		delete(w.watched, id)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

// sweep adopts newly enabled accounts and drops disabled ones.
func (w *Watcher) sweep(ctx context.Context) {
	accounts, err := w.accountRepo.ListSyncEnabled(ctx)
	if err != nil {
		w.logger.Error("IDLE sweep failed to list accounts", zap.Error(err))
		return
	}

	current := make(map[string]bool, len(accounts))
	for _, account := range accounts {
		current[account.ID] = true
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for id, cancel := range w.watched {
		if !current[id] {
			cancel()
			delete(w.watched, id)
			w.logger.Info("IDLE watcher stopped, account no longer synced", zap.String("account_id", id))
		}
	}

	for _, account := range accounts {
		if _, ok := w.watched[account.ID]; ok {
			continue
		}
		if len(w.watched) >= w.cfg.MaxConnections {
			// 超出上限的账户依赖轮询兜底
			w.logger.Warn("IDLE connection ceiling reached, account falls back to polling",
				zap.String("account_id", account.ID),
				zap.Int("ceiling", w.cfg.MaxConnections),
			)
			continue
		}

		watchCtx, cancel := context.WithCancel(ctx)
		w.watched[account.ID] = cancel
		w.wg.Add(1)
		go w.watchAccount(watchCtx, account.ID)
	}
}

// watchAccount is the per-account loop: connect, idle, enqueue on
// change, reconnect with capped exponential backoff on failure.
func (w *Watcher) watchAccount(ctx context.Context, accountID string) {
	defer w.wg.Done()

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		start := time.Now()
		err := w.idleSession(ctx, accountID)
		if ctx.Err() != nil {
			return
		}
		if time.Since(start) > idleTimeout {
			// session was healthy for a while, forget old failures
			attempt = 0
		}
		if err != nil {
			w.logger.Warn("IDLE session ended with error",
				zap.String("account_id", accountID),
				zap.Error(err),
			)
			// 连接失败不能让同步静默停摆，限流后立刻补一次 fetch
			if pollErr := w.TriggerManualPoll(ctx, accountID); pollErr != nil {
				w.logger.Error("Failed to trigger manual poll",
					zap.String("account_id", accountID),
					zap.Error(pollErr),
				)
			}
		}

		attempt++
		metrics.IncrementIdleReconnect(accountID)
		backoff := reconnectBackoff(w.cfg.ReconnectBase, attempt)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

func (w *Watcher) idleSession(ctx context.Context, accountID string) error {
	account, err := w.accountRepo.FindByID(ctx, accountID)
	if err != nil {
		return err
	}
	if !account.SyncEnabled {
		return nil
	}
	settings, err := w.vault.Decrypt(account.EncryptedCred)
	if err != nil {
		return err
	}

	session, err := w.registry.Acquire(ctx, accountID, settings)
	if err != nil {
		return err
	}
	defer w.registry.Release(accountID, session)

	selectData, err := session.SelectReadOnly(ctx, "INBOX")
	if err != nil {
		return err
	}
	lastUIDNext := uint32(selectData.UIDNext)

	for {
		changed, err := session.Idle(ctx, idleTimeout)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if !changed {
			// timeout: re-issue IDLE to keep the connection alive
			continue
		}

		uidNext, err := session.Status(ctx, "INBOX")
		if err != nil {
			return err
		}
		if uidNext > lastUIDNext {
			lastUIDNext = uidNext
			if err := w.enqueueFetch(ctx, accountID, mqcontracts.FetchReasonIdle); err != nil {
				w.logger.Error("Failed to enqueue fetch from IDLE",
					zap.String("account_id", accountID),
					zap.Error(err),
				)
			}
		}
	}
}

// reconnectBackoff doubles per attempt, capped.
func reconnectBackoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > 7 {
		shift = 7
	}
	backoff := base << shift
	if backoff > idleReconnectMax {
		backoff = idleReconnectMax
	}
	return backoff
}

// TriggerManualPoll enqueues an on-demand fetch, rate limited per
// account so repeated connect failures or a click storm cannot flood
// the queue.
func (w *Watcher) TriggerManualPoll(ctx context.Context, accountID string) error {
	ok, err := w.limit(ctx, accountID)
	if err != nil {
		return fmt.Errorf("manual poll rate limit check failed: %w", err)
	}
	if !ok {
		w.logger.Info("Manual poll suppressed by rate limit", zap.String("account_id", accountID))
		return nil
	}
	return w.enqueueFetch(ctx, accountID, mqcontracts.FetchReasonPoll)
}

func (w *Watcher) enqueueFetch(ctx context.Context, accountID, reason string) error {
	return w.publisher.Publish(ctx, mqcontracts.RoutingKeyFetch, mqcontracts.FetchJobPayload{
		AccountID: accountID,
		Reason:    reason,
	})
}
