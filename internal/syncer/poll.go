package syncer

import (
	"context"
	"time"

	"go.uber.org/zap"

	mqcontracts "mailpipe/contracts/mq"
	"mailpipe/internal/repository"
	"mailpipe/pkg/config"
	"mailpipe/pkg/mq"
)

// Poller is the correctness backstop: every sync-enabled account gets a
// fetch job on a fixed cadence whether or not its IDLE watcher is
// alive. Accounts checked inside the skip window are left alone so an
// active IDLE stream does not produce duplicate work.
type Poller struct {
	accountRepo *repository.AccountRepository
	publisher   *mq.Publisher
	cfg         config.PollConfig
	logger      *zap.Logger
}

func NewPoller(accountRepo *repository.AccountRepository, publisher *mq.Publisher, cfg config.PollConfig, log *zap.Logger) *Poller {
	return &Poller{
		accountRepo: accountRepo,
		publisher:   publisher,
		cfg:         cfg,
		logger:      log,
	}
}

// Run ticks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	accounts, err := p.accountRepo.ListStale(ctx, p.cfg.SkipWindow)
	if err != nil {
		p.logger.Error("Poll tick failed to list stale accounts", zap.Error(err))
		return
	}

	for _, account := range accounts {
		payload := mqcontracts.FetchJobPayload{
			AccountID: account.ID,
			Reason:    mqcontracts.FetchReasonPoll,
		}
		if err := p.publisher.Publish(ctx, mqcontracts.RoutingKeyFetch, payload); err != nil {
			p.logger.Error("Failed to enqueue poll fetch",
				zap.String("account_id", account.ID),
				zap.Error(err),
			)
			continue
		}
	}
	if len(accounts) > 0 {
		p.logger.Debug("Poll tick enqueued fetches", zap.Int("accounts", len(accounts)))
	}
}
