package notify

import (
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	mqcontracts "mailpipe/contracts/mq"
	"mailpipe/pkg/util"
)

// ErrInvalidToken is returned when a subscriber token fails validation.
var ErrInvalidToken = errors.New("invalid subscriber token")

const subscriberBuffer = 16

// Subscriber receives the notifications addressed to one user. C is
// closed on unsubscribe.
type Subscriber struct {
	UserID string
	C      chan mqcontracts.Notification
}

// Hub fans notifications out to in-process subscribers keyed by user
// ID. Delivery is best effort: a subscriber that cannot keep up loses
// notifications instead of blocking the relay.
type Hub struct {
	jwtSecret string
	logger    *zap.Logger

	mu          sync.RWMutex
	subscribers map[string]map[*Subscriber]struct{}
	dropped     atomic.Uint64
}

func NewHub(jwtSecret string, log *zap.Logger) *Hub {
	return &Hub{
		jwtSecret:   jwtSecret,
		logger:      log,
		subscribers: make(map[string]map[*Subscriber]struct{}),
	}
}

// SubscribeWithToken validates the JWT and registers a subscriber for
// the user it names.
func (h *Hub) SubscribeWithToken(token string) (*Subscriber, error) {
	userID, err := util.ParseJWT(token, h.jwtSecret)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return h.Subscribe(userID), nil
}

// Subscribe registers a subscriber for a user known to be
// authenticated already.
func (h *Hub) Subscribe(userID string) *Subscriber {
	sub := &Subscriber{
		UserID: userID,
		C:      make(chan mqcontracts.Notification, subscriberBuffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subscribers[userID] == nil {
		h.subscribers[userID] = make(map[*Subscriber]struct{})
	}
	h.subscribers[userID][sub] = struct{}{}
	return sub
}

// Unsubscribe removes the subscriber and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subscribers[sub.UserID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subscribers, sub.UserID)
	}
	close(sub.C)
}

// Publish delivers to every subscriber of the notification's user.
// Full channels drop the notification.
func (h *Hub) Publish(n mqcontracts.Notification) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subscribers[n.UserID] {
		select {
		case sub.C <- n:
		default:
			h.dropped.Add(1)
			h.logger.Warn("Subscriber channel full, notification dropped",
				zap.String("user_id", n.UserID),
				zap.String("type", n.Type),
			)
		}
	}
}

// Dropped reports how many notifications were lost to slow
// subscribers since startup.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// SubscriberCount reports the number of active subscribers for a user.
func (h *Hub) SubscriberCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[userID])
}
