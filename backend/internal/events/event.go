package events

import (
	"time"

	"github.com/DeepselSystems/deepsel-cms-sub000/backend/internal/conflict"
	"github.com/DeepselSystems/deepsel-cms-sub000/backend/internal/ws"
)

const (
	EventEditorJoined = "EDITOR_JOINED"
	EventEditorLeft   = "EDITOR_LEFT"
)

// EditSessionEvent 是跨实例扇出的会话事件。
// Origin 是发出事件的实例 ID，消费侧用它跳过自己发的事件。
type EditSessionEvent struct {
	EventType  string    `json:"eventType"`
	Origin     string    `json:"origin"`
	RecordType string    `json:"recordType"`
	RecordID   uint64    `json:"recordId"`
	ContentID  uint64    `json:"contentId,omitempty"`
	UserID     uint64    `json:"userId"`
	Username   string    `json:"username"`
	OccurredAt time.Time `json:"occurredAt"`
}

func (e EditSessionEvent) Session() ws.Session {
	return ws.Session{
		RecordType: conflict.RecordType(e.RecordType),
		RecordID:   e.RecordID,
		ContentID:  e.ContentID,
	}
}
