package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/emersion/go-imap/v2"
	"go.uber.org/zap"

	mqcontracts "mailpipe/contracts/mq"
	"mailpipe/internal/imapx"
	"mailpipe/internal/model"
	"mailpipe/internal/repository"
	"mailpipe/pkg/config"
	"mailpipe/pkg/logger"
	"mailpipe/pkg/metrics"
	"mailpipe/pkg/mq"
	"mailpipe/pkg/vault"
)

// backfillWindow is how many UIDs below the cursor each fetch revisits
// to pick up messages an earlier crash may have dropped.
const backfillWindow = 200

// recentWindow bounds the first fetch of a mailbox with no cursor so a
// huge mailbox does not explode the queue.
const recentWindow = 200

// FetchHandler discovers folders and turns new UIDs into parse jobs.
// It never advances the sync ledger itself; only a persisted message
// moves the cursor, so a crash between enqueue and parse re-fetches
// instead of losing mail.
type FetchHandler struct {
	accountRepo *repository.AccountRepository
	mailboxRepo *repository.MailboxRepository
	messageRepo *repository.MessageRepository
	syncRepo    *repository.SyncStateRepository

	registry  *imapx.Registry
	vault     *vault.Vault
	publisher *mq.Publisher
	importCfg config.ImportConfig
	logger    *zap.Logger
}

func NewFetchHandler(
	accountRepo *repository.AccountRepository,
	mailboxRepo *repository.MailboxRepository,
	messageRepo *repository.MessageRepository,
	syncRepo *repository.SyncStateRepository,
	registry *imapx.Registry,
	v *vault.Vault,
	publisher *mq.Publisher,
	importCfg config.ImportConfig,
	log *zap.Logger,
) *FetchHandler {
	return &FetchHandler{
		accountRepo: accountRepo,
		mailboxRepo: mailboxRepo,
		messageRepo: messageRepo,
		syncRepo:    syncRepo,
		registry:    registry,
		vault:       v,
		publisher:   publisher,
		importCfg:   importCfg,
		logger:      log,
	}
}

func (h *FetchHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	// --------------------------
	// Step 1: decode payload
	// --------------------------
	var payload mqcontracts.FetchJobPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.logger.Error("Invalid FetchJobPayload",
			zap.String("raw", string(raw)),
			zap.Error(err),
		)
		return fmt.Errorf("bad_payload: %w", err)
	}

	traceLogger := logger.WithTrace(ctx, h.logger)
	traceLogger.Info("Fetch: received job",
		zap.String("account_id", payload.AccountID),
		zap.String("reason", payload.Reason),
	)

	// --------------------------
	// Step 2: load account and credentials
	// --------------------------
	account, err := h.accountRepo.FindByID(ctx, payload.AccountID)
	if err != nil {
		return err
	}
	if !account.SyncEnabled {
		return fmt.Errorf("sync disabled for account %s", account.ID)
	}
	settings, err := h.vault.Decrypt(account.EncryptedCred)
	if err != nil {
		return err
	}

	// --------------------------
	// Step 3: open a session
	// --------------------------
	session, err := h.registry.Acquire(ctx, account.ID, settings)
	if err != nil {
		return err
	}
	defer h.registry.Release(account.ID, session)

	// --------------------------
	// Step 4: walk every selectable folder
	// 单个文件夹失败不拖垮整个账户
	// --------------------------
	folders, err := session.ListSelectableFolders(ctx)
	if err != nil {
		return fmt.Errorf("failed to list folders: %w", err)
	}

	var failed int
	var lastErr error
	for _, folder := range folders {
		if err := h.syncFolder(ctx, traceLogger, session, account, folder, &payload); err != nil {
			failed++
			lastErr = err
			traceLogger.Error("Folder sync failed",
				zap.String("account_id", account.ID),
				zap.String("folder", folder),
				zap.Error(err),
			)
		}
	}
	if failed == len(folders) && failed > 0 {
		return fmt.Errorf("all %d folders failed: %w", failed, lastErr)
	}
	return nil
}

func (h *FetchHandler) syncFolder(ctx context.Context, traceLogger *zap.Logger, session *imapx.Session, account *model.Account, folder string, payload *mqcontracts.FetchJobPayload) error {
	mailbox, err := h.mailboxRepo.Upsert(ctx, account.ID, folder)
	if err != nil {
		return err
	}

	selectData, err := session.SelectReadOnly(ctx, folder)
	if err != nil {
		return err
	}
	uidNext := uint32(selectData.UIDNext)

	state, err := h.syncRepo.Get(ctx, mailbox.ID)
	if err != nil {
		return err
	}

	uids, err := h.candidateUIDs(ctx, session, state, uidNext, payload)
	if err != nil {
		return err
	}

	enqueued, err := h.enqueueParseJobs(ctx, mailbox, account.ID, folder, uids, payload.Reason)
	if err != nil {
		return err
	}
	if enqueued > 0 {
		traceLogger.Info("Enqueued parse jobs",
			zap.String("account_id", account.ID),
			zap.String("folder", folder),
			zap.Int("count", enqueued),
		)
	}

	// 只更新 last_checked_at，游标由 parse 推进
	return h.syncRepo.Touch(ctx, mailbox.ID)
}

// candidateUIDs builds the UID list for one folder depending on cursor
// presence and job reason.
func (h *FetchHandler) candidateUIDs(ctx context.Context, session *imapx.Session, state *model.SyncState, uidNext uint32, payload *mqcontracts.FetchJobPayload) ([]imap.UID, error) {
	if payload.Reason == mqcontracts.FetchReasonImport {
		return h.importUIDs(ctx, session, payload)
	}
	cursor := uint32(0)
	if state != nil {
		cursor = state.LastUID
	}

	var all []imap.UID
	for _, window := range syncWindows(cursor, uidNext) {
		uids, err := h.searchChunked(ctx, session, window.Lo, window.Hi)
		if err != nil {
			return nil, err
		}
		all = append(all, uids...)
	}
	return all, nil
}

// syncWindows computes the UID ranges one fetch inspects: everything
// above the cursor plus a bounded backfill below it, or a bounded
// recent window when no cursor exists yet. An empty mailbox yields no
// windows.
func syncWindows(cursor, uidNext uint32) []imapx.UIDRange {
	if uidNext <= 1 {
		return nil
	}
	highest := uidNext - 1

	if cursor > 0 {
		var windows []imapx.UIDRange
		if highest > cursor {
			// incremental: everything above the cursor
			windows = append(windows, imapx.UIDRange{Lo: cursor + 1, Hi: highest})
		}
		// bounded backfill below the cursor; already stored UIDs get
		// filtered out cheaply before enqueue
		backLo := uint32(1)
		if cursor > backfillWindow {
			backLo = cursor - backfillWindow + 1
		}
		return append(windows, imapx.UIDRange{Lo: backLo, Hi: cursor})
	}

	// no cursor yet: bounded recent window instead of the whole mailbox
	lo := uint32(1)
	if highest > recentWindow {
		lo = highest - recentWindow + 1
	}
	return []imapx.UIDRange{{Lo: lo, Hi: highest}}
}

// importUIDs is the initial-import path: date bounded, count capped,
// newest kept when the cap bites.
func (h *FetchHandler) importUIDs(ctx context.Context, session *imapx.Session, payload *mqcontracts.FetchJobPayload) ([]imap.UID, error) {
	lookbackDays := payload.LookbackDays
	if lookbackDays == 0 {
		lookbackDays = h.importCfg.LookbackDays
	}
	maxMessages := payload.MaxMessages
	if maxMessages <= 0 {
		maxMessages = h.importCfg.MaxMessages
	}

	// negative lookback means the whole mailbox
	since := time.Unix(0, 0)
	if lookbackDays > 0 {
		since = time.Now().AddDate(0, 0, -lookbackDays)
	}
	uids, err := session.SearchSince(ctx, since)
	if err != nil {
		return nil, err
	}
	if len(uids) > maxMessages {
		uids = uids[len(uids)-maxMessages:]
	}
	return uids, nil
}

func (h *FetchHandler) searchChunked(ctx context.Context, session *imapx.Session, lo, hi uint32) ([]imap.UID, error) {
	if hi < lo {
		return nil, nil
	}
	var all []imap.UID
	for _, chunk := range imapx.ChunkRange(lo, hi, imapx.DefaultChunkSize) {
		uids, err := imapx.SearchRangeResilient(ctx, session, chunk.Lo, chunk.Hi)
		if err != nil {
			return nil, err
		}
		all = append(all, uids...)
	}
	return all, nil
}

func (h *FetchHandler) enqueueParseJobs(ctx context.Context, mailbox *model.Mailbox, accountID, folder string, uids []imap.UID, reason string) (int, error) {
	if len(uids) == 0 {
		return 0, nil
	}

	plain := make([]uint32, 0, len(uids))
	for _, uid := range uids {
		plain = append(plain, uint32(uid))
	}
	stored, err := h.messageRepo.FilterStoredUIDs(ctx, mailbox.ID, plain)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, uid := range plain {
		if stored[uid] {
			continue
		}
		job := mqcontracts.ParseJobPayload{
			AccountID: accountID,
			Mailbox:   folder,
			UID:       uid,
		}
		// 确定性 JobID：重复的 fetch 产生同一个任务
		if err := h.publisher.PublishJob(ctx, mqcontracts.RoutingKeyParse, job.JobID(), job); err != nil {
			return enqueued, fmt.Errorf("failed to enqueue parse job: %w", err)
		}
		metrics.IncrementParseJobsEnqueued(reason)
		enqueued++
	}
	return enqueued, nil
}
