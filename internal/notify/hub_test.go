package notify

import (
	"testing"
	"time"

	"go.uber.org/zap"

	mqcontracts "mailpipe/contracts/mq"
	"mailpipe/pkg/util"
)

func testHub() *Hub {
	return NewHub("test-secret", zap.NewNop())
}

func TestHubDeliversToOwnUserOnly(t *testing.T) {
	hub := testHub()
	alice := hub.Subscribe("user-alice")
	bob := hub.Subscribe("user-bob")
	defer hub.Unsubscribe(alice)
	defer hub.Unsubscribe(bob)

	hub.Publish(mqcontracts.Notification{
		Type:      mqcontracts.NotificationMessageCreated,
		UserID:    "user-alice",
		MessageID: "msg-1",
	})

	select {
	case n := <-alice.C:
		if n.MessageID != "msg-1" {
			t.Errorf("message_id = %q", n.MessageID)
		}
	case <-time.After(time.Second):
		t.Fatal("alice did not receive the notification")
	}

	select {
	case n := <-bob.C:
		t.Fatalf("bob received a notification for alice: %+v", n)
	default:
	}
}

func TestHubFanOut(t *testing.T) {
	hub := testHub()
	first := hub.Subscribe("user-1")
	second := hub.Subscribe("user-1")
	defer hub.Unsubscribe(first)
	defer hub.Unsubscribe(second)

	hub.Publish(mqcontracts.Notification{Type: mqcontracts.NotificationMessageUpdated, UserID: "user-1", MessageID: "m"})

	for _, sub := range []*Subscriber{first, second} {
		select {
		case <-sub.C:
		case <-time.After(time.Second):
			t.Fatal("fan-out subscriber missed the notification")
		}
	}
}

func TestHubSlowSubscriberDrops(t *testing.T) {
	hub := testHub()
	sub := hub.Subscribe("user-1")
	defer hub.Unsubscribe(sub)

	// fill the buffer and then some; Publish must never block
	for i := 0; i < subscriberBuffer+5; i++ {
		hub.Publish(mqcontracts.Notification{UserID: "user-1", MessageID: "m"})
	}

	if got := hub.Dropped(); got != 5 {
		t.Errorf("dropped = %d, want 5", got)
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	hub := testHub()
	sub := hub.Subscribe("user-1")
	hub.Unsubscribe(sub)

	if _, ok := <-sub.C; ok {
		t.Error("channel should be closed after unsubscribe")
	}
	if hub.SubscriberCount("user-1") != 0 {
		t.Error("subscriber still registered")
	}

	// double unsubscribe must not panic
	hub.Unsubscribe(sub)
}

func TestSubscribeWithToken(t *testing.T) {
	hub := testHub()

	token, err := util.GenerateJWT("user-42", "test-secret")
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}
	sub, err := hub.SubscribeWithToken(token)
	if err != nil {
		t.Fatalf("SubscribeWithToken: %v", err)
	}
	defer hub.Unsubscribe(sub)
	if sub.UserID != "user-42" {
		t.Errorf("user id = %q", sub.UserID)
	}

	if _, err := hub.SubscribeWithToken("garbage"); err == nil {
		t.Error("expected invalid token to be rejected")
	}

	wrong, _ := util.GenerateJWT("user-42", "other-secret")
	if _, err := hub.SubscribeWithToken(wrong); err == nil {
		t.Error("expected token with wrong secret to be rejected")
	}
}
