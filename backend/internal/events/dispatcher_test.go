package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/DeepselSystems/deepsel-cms-sub000/backend/internal/conflict"
	"github.com/DeepselSystems/deepsel-cms-sub000/backend/internal/ws"
)

func mockProducer(t *testing.T) *mocks.SyncProducer {
	t.Helper()
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	return mocks.NewSyncProducer(t, cfg)
}

func TestDispatcher_PublishesJoinEvent(t *testing.T) {
	producer := mockProducer(t)
	got := make(chan EditSessionEvent, 1)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var evt EditSessionEvent
		if err := json.Unmarshal(val, &evt); err != nil {
			return err
		}
		got <- evt
		return nil
	})

	d := NewDispatcher(producer, "edit-session-events", "instance-a", DispatcherOptions{
		QueueSize:   8,
		Workers:     1,
		MaxRetry:    1,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  time.Millisecond,
	})
	d.EditorJoined(ws.Session{RecordType: conflict.RecordTypePage, RecordID: 7, ContentID: 2}, 42, "alice")

	select {
	case evt := <-got:
		if evt.EventType != EventEditorJoined {
			t.Fatalf("EventType = %q, want %q", evt.EventType, EventEditorJoined)
		}
		if evt.Origin != "instance-a" {
			t.Fatalf("Origin = %q, want instance-a", evt.Origin)
		}
		if evt.RecordType != "page" || evt.RecordID != 7 || evt.ContentID != 2 {
			t.Fatalf("session fields = %s/%d/%d", evt.RecordType, evt.RecordID, evt.ContentID)
		}
		if evt.UserID != 42 || evt.Username != "alice" {
			t.Fatalf("editor fields = %d/%q", evt.UserID, evt.Username)
		}
		if evt.Session().Key() != "page:7:2" {
			t.Fatalf("Session().Key() = %q", evt.Session().Key())
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for kafka publish")
	}
	if err := producer.Close(); err != nil {
		t.Fatalf("producer expectations: %v", err)
	}
}

func TestDispatcher_RetriesTransientFailure(t *testing.T) {
	producer := mockProducer(t)
	delivered := make(chan struct{}, 1)
	producer.ExpectSendMessageAndFail(sarama.ErrBrokerNotAvailable)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func([]byte) error {
		delivered <- struct{}{}
		return nil
	})

	d := NewDispatcher(producer, "edit-session-events", "instance-a", DispatcherOptions{
		QueueSize:   8,
		Workers:     1,
		MaxRetry:    2,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  2 * time.Millisecond,
	})
	d.EditorLeft(ws.Session{RecordType: conflict.RecordTypeBlogPost, RecordID: 3}, 1, "bob")

	select {
	case <-delivered:
	case <-time.After(3 * time.Second):
		t.Fatalf("event not re-sent after transient failure")
	}
	if err := producer.Close(); err != nil {
		t.Fatalf("producer expectations: %v", err)
	}
}
