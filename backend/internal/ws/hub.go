package ws

import (
	"fmt"
	"sync"

	"github.com/DeepselSystems/deepsel-cms-sub000/backend/internal/cache"
)

// EventSink 把本地 join/leave 往外发（跨实例扇出用），由 events 包实现。
// 通道是建议性功能，发失败不影响会话。
type EventSink interface {
	EditorJoined(session Session, userID uint64, username string)
	EditorLeft(session Session, userID uint64, username string)
}

type Hub struct {
	presence cache.EditorPresence
	// 读写锁保护 rooms；加入/离开/广播都会并发到这里
	mu sync.RWMutex
	// session key -> set of connections
	rooms map[string]map[*Conn]struct{}
}

func NewHub(p cache.EditorPresence) *Hub {
	return &Hub{presence: p, rooms: make(map[string]map[*Conn]struct{})}
}

func (h *Hub) Presence() cache.EditorPresence { return h.presence }

// Join 将连接加入会话房间。
// 房间里存连接而不是 userID：同一用户可开多个标签页，广播要逐连接发。
func (h *Hub) Join(key string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[key] == nil {
		h.rooms[key] = make(map[*Conn]struct{})
	}
	h.rooms[key][c] = struct{}{}
}

// Leave 将连接从会话房间移除
func (h *Hub) Leave(key string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[key]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, key)
		}
	}
}

// Broadcast 向房间内所有连接投递；except 非 nil 时跳过该连接。
func (h *Hub) Broadcast(key string, msg OutboundMessage, except *Conn) {
	h.mu.RLock()
	conns := h.rooms[key]
	targets := make([]*Conn, 0, len(conns))
	for c := range conns {
		if c != except {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range targets {
		c.Enqueue(msg)
	}
}

// BroadcastEditorJoined 组装并发送并行编辑提示。
// existing 是加入者之外的存活编辑者；只有出现第二个编辑者时才值得广播。
func (h *Hub) BroadcastEditorJoined(session Session, newEditor EditorInfo, existing []EditorInfo, except *Conn) {
	if len(existing) == 0 {
		return
	}
	msg := ParallelEditWarningMessage{
		Type:            MsgParallelEditWarning,
		Message:         fmt.Sprintf("%s is also editing this %s.", newEditor.Username, session.RecordType),
		NewEditor:       newEditor,
		ExistingEditors: existing,
		IsFirstUser:     len(existing) == 1,
		TotalEditors:    len(existing) + 1,
	}
	h.Broadcast(session.Key(), msg, except)
}

// BroadcastEditorLeft 发送 user_left；clearWarning 表示房间里已无其他编辑者。
func (h *Hub) BroadcastEditorLeft(session Session, editor EditorInfo, clearWarning bool, except *Conn) {
	msg := UserLeftMessage{
		Type:         MsgUserLeft,
		UserID:       editor.UserID,
		Username:     editor.Username,
		ClearWarning: clearWarning,
	}
	h.Broadcast(session.Key(), msg, except)
}
