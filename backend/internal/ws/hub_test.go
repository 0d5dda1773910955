package ws

import (
	"testing"

	"github.com/DeepselSystems/deepsel-cms-sub000/backend/internal/conflict"
)

func TestSessionKey(t *testing.T) {
	s := Session{RecordType: conflict.RecordTypePage, RecordID: 7}
	if got := s.Key(); got != "page:7" {
		t.Fatalf("Key() = %q, want %q", got, "page:7")
	}
	s.ContentID = 12
	if got := s.Key(); got != "page:7:12" {
		t.Fatalf("Key() = %q, want %q", got, "page:7:12")
	}
}

// 测试里不真建 websocket；Enqueue 只碰 send 队列
func testConn(hub *Hub, session Session, userID uint64, username string) *Conn {
	return NewConn(nil, hub, session, userID, username, nil)
}

func drain(c *Conn) []OutboundMessage {
	var out []OutboundMessage
	for {
		select {
		case msg := <-c.send:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestHub_BroadcastSkipsSender(t *testing.T) {
	hub := NewHub(nil)
	session := Session{RecordType: conflict.RecordTypePage, RecordID: 1}
	a := testConn(hub, session, 1, "alice")
	b := testConn(hub, session, 2, "bob")
	hub.Join(session.Key(), a)
	hub.Join(session.Key(), b)

	hub.Broadcast(session.Key(), ServerMessage{Type: "x"}, a)
	if got := drain(a); len(got) != 0 {
		t.Fatalf("sender received its own broadcast: %v", got)
	}
	if got := drain(b); len(got) != 1 {
		t.Fatalf("peer received %d messages, want 1", len(got))
	}

	hub.Leave(session.Key(), b)
	hub.Broadcast(session.Key(), ServerMessage{Type: "y"}, nil)
	if got := drain(b); len(got) != 0 {
		t.Fatalf("left connection still receives broadcasts")
	}
}

func TestHub_EditorJoinedOnlyWithExistingEditors(t *testing.T) {
	hub := NewHub(nil)
	session := Session{RecordType: conflict.RecordTypeBlogPost, RecordID: 9}
	first := testConn(hub, session, 1, "alice")
	hub.Join(session.Key(), first)

	// 第一个编辑者进来：房间里没别人，不广播
	hub.BroadcastEditorJoined(session, EditorInfo{UserID: 1, Username: "alice"}, nil, first)
	if got := drain(first); len(got) != 0 {
		t.Fatalf("first editor must not trigger a warning, got %v", got)
	}

	second := testConn(hub, session, 2, "bob")
	hub.Join(session.Key(), second)
	hub.BroadcastEditorJoined(session, EditorInfo{UserID: 2, Username: "bob"},
		[]EditorInfo{{UserID: 1, Username: "alice"}}, second)

	msgs := drain(first)
	if len(msgs) != 1 {
		t.Fatalf("existing editor received %d messages, want 1", len(msgs))
	}
	warn, ok := msgs[0].(ParallelEditWarningMessage)
	if !ok {
		t.Fatalf("message type = %T, want ParallelEditWarningMessage", msgs[0])
	}
	if warn.Type != MsgParallelEditWarning || warn.NewEditor.Username != "bob" {
		t.Fatalf("warning = %+v", warn)
	}
	if warn.TotalEditors != 2 || !warn.IsFirstUser {
		t.Fatalf("TotalEditors=%d IsFirstUser=%v, want 2/true", warn.TotalEditors, warn.IsFirstUser)
	}
	if got := drain(second); len(got) != 0 {
		t.Fatalf("joining editor must not receive its own join warning")
	}
}

func TestHub_EditorLeftCarriesClearWarning(t *testing.T) {
	hub := NewHub(nil)
	session := Session{RecordType: conflict.RecordTypePage, RecordID: 3}
	stay := testConn(hub, session, 1, "alice")
	hub.Join(session.Key(), stay)

	hub.BroadcastEditorLeft(session, EditorInfo{UserID: 2, Username: "bob"}, true, nil)
	msgs := drain(stay)
	if len(msgs) != 1 {
		t.Fatalf("received %d messages, want 1", len(msgs))
	}
	left, ok := msgs[0].(UserLeftMessage)
	if !ok {
		t.Fatalf("message type = %T, want UserLeftMessage", msgs[0])
	}
	if left.Type != MsgUserLeft || left.UserID != 2 || !left.ClearWarning {
		t.Fatalf("user_left = %+v", left)
	}
}
