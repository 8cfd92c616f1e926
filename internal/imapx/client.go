package imapx

import (
	"context"
	"fmt"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"

	"mailpipe/pkg/vault"
)

// Session wraps one authenticated IMAP connection. Sessions are not
// safe for concurrent use; the registry hands each one to a single job.
type Session struct {
	client  *imapclient.Client
	updates chan struct{}
}

// Dial connects and authenticates using decrypted account settings.
// Secure accounts use implicit TLS, the rest STARTTLS.
func Dial(settings *vault.ConnectionSettings, debug bool) (*Session, error) {
	addr := fmt.Sprintf("%s:%d", settings.Host, settings.Port)

	updates := make(chan struct{}, 1)
	opts := &imapclient.Options{
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: func(data *imapclient.UnilateralDataMailbox) {
				if data.NumMessages != nil {
					select {
					case updates <- struct{}{}:
					default:
					}
				}
			},
		},
	}

	var client *imapclient.Client
	var err error
	if settings.Secure {
		client, err = imapclient.DialTLS(addr, opts)
	} else {
		client, err = imapclient.DialStartTLS(addr, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to imap %s: %w", addr, err)
	}

	if settings.OAuthToken != "" {
		sc := sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: settings.User,
			Token:    settings.OAuthToken,
			Host:     settings.Host,
			Port:     settings.Port,
		})
		err = client.Authenticate(sc)
	} else {
		err = client.Login(settings.User, settings.Pass).Wait()
	}
	if err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("imap authentication failed for %s: %w", settings.User, err)
	}

	return &Session{client: client, updates: updates}, nil
}

// ListSelectableFolders returns folder paths that can be selected,
// skipping \Noselect containers.
func (s *Session) ListSelectableFolders(ctx context.Context) ([]string, error) {
	boxes, err := s.client.List("", "*", nil).Collect()
	if err != nil {
		return nil, fmt.Errorf("listing folders: %w", err)
	}

	var folders []string
	for _, box := range boxes {
		selectable := true
		for _, attr := range box.Attrs {
			if attr == imap.MailboxAttrNoSelect {
				selectable = false
				break
			}
		}
		if selectable {
			folders = append(folders, box.Mailbox)
		}
	}
	return folders, nil
}

// SelectReadOnly opens a folder without marking messages as seen.
func (s *Session) SelectReadOnly(ctx context.Context, folder string) (*imap.SelectData, error) {
	data, err := s.client.Select(folder, &imap.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return nil, fmt.Errorf("selecting %s: %w", folder, err)
	}
	return data, nil
}

// SearchUIDRange enumerates the UIDs that actually exist within a UID
// set in the selected folder.
func (s *Session) SearchUIDRange(ctx context.Context, set imap.UIDSet) ([]imap.UID, error) {
	criteria := &imap.SearchCriteria{
		UID: []imap.UIDSet{set},
	}
	data, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching uid range: %w", err)
	}
	return data.AllUIDs(), nil
}

// SearchSince returns the UIDs of messages received on or after the
// given date. Used for initial imports.
func (s *Session) SearchSince(ctx context.Context, since time.Time) ([]imap.UID, error) {
	criteria := &imap.SearchCriteria{}
	if !since.IsZero() {
		criteria.Since = since
	}
	data, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching since %s: %w", since.Format("2006-01-02"), err)
	}
	return data.AllUIDs(), nil
}

// ResolveSeq translates a transient sequence number into a UID. Some
// servers answer UID SEARCH with sequence numbers; the caller retries
// through here before giving up on an identifier.
func (s *Session) ResolveSeq(ctx context.Context, seq uint32) (imap.UID, error) {
	var seqSet imap.SeqSet
	seqSet.AddNum(seq)

	fetchCmd := s.client.Fetch(seqSet, &imap.FetchOptions{UID: true})
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return 0, fmt.Errorf("message not found for seq %d", seq)
	}
	buf, err := msg.Collect()
	if err != nil {
		return 0, err
	}
	if err := fetchCmd.Close(); err != nil {
		return 0, err
	}
	return buf.UID, nil
}

// FetchFull downloads the complete message for one UID: envelope,
// flags, internal date, size, and the raw source via a peeking BODY[]
// so the fetch does not set \Seen.
func (s *Session) FetchFull(ctx context.Context, uid imap.UID) (*imapclient.FetchMessageBuffer, []byte, error) {
	bodySection := &imap.FetchItemBodySection{Peek: true}

	fetchCmd := s.client.Fetch(imap.UIDSetNum(uid), &imap.FetchOptions{
		Envelope:     true,
		Flags:        true,
		UID:          true,
		InternalDate: true,
		RFC822Size:   true,
		BodySection:  []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, nil, fmt.Errorf("message not found for uid %d", uid)
	}
	buf, err := msg.Collect()
	if err != nil {
		return nil, nil, fmt.Errorf("collecting message data: %w", err)
	}
	if err := fetchCmd.Close(); err != nil {
		return nil, nil, fmt.Errorf("fetching uid %d: %w", uid, err)
	}
	return buf, buf.FindBodySection(bodySection), nil
}

// Status queries UIDNEXT for a folder without selecting it.
func (s *Session) Status(ctx context.Context, folder string) (uint32, error) {
	data, err := s.client.Status(folder, &imap.StatusOptions{UIDNext: true}).Wait()
	if err != nil {
		return 0, fmt.Errorf("status %s: %w", folder, err)
	}
	return uint32(data.UIDNext), nil
}

// Idle blocks until the server pushes a mailbox change, the timeout
// elapses, or ctx is cancelled. Returns true when a change arrived.
func (s *Session) Idle(ctx context.Context, timeout time.Duration) (bool, error) {
	idleCmd, err := s.client.Idle()
	if err != nil {
		return false, fmt.Errorf("entering idle: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- idleCmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		_ = idleCmd.Close()
		<-done
		return false, ctx.Err()
	case <-s.updates:
		_ = idleCmd.Close()
		if err := <-done; err != nil {
			return true, fmt.Errorf("idle ended: %w", err)
		}
		return true, nil
	case <-timer.C:
		// 服务器超时前主动退出，由调用方重新进入 IDLE
		_ = idleCmd.Close()
		if err := <-done; err != nil {
			return false, fmt.Errorf("idle ended: %w", err)
		}
		return false, nil
	case err := <-done:
		if err != nil {
			return false, fmt.Errorf("idle ended: %w", err)
		}
		return true, nil
	}
}

// Close logs out and drops the connection.
func (s *Session) Close() error {
	return s.client.Logout().Wait()
}
