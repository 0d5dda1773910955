package ws

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/DeepselSystems/deepsel-cms-sub000/backend/internal/conflict"
)

// 全局的WebSocket upgrader（允许本地开发环境的来源）
var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" {
		return true
	}
	allowedPrefixes := []string{
		"http://localhost",
		"http://127.0.0.1",
		"https://localhost",
		"https://127.0.0.1",
	}
	for _, p := range allowedPrefixes {
		if strings.HasPrefix(origin, p) {
			return true
		}
	}
	return false
}}

type Manager struct {
	hub  *Hub
	sink EventSink
}

func NewManager(hub *Hub, sink EventSink) *Manager {
	return &Manager{hub: hub, sink: sink}
}

// WebSocketConnect 处理 GET /v1/edit-sessions/ws。
// 鉴权中间件已把 userId/username 写进上下文；会话身份取自 query。
func (m *Manager) WebSocketConnect(c *gin.Context) {
	userID := c.GetUint64("userId")
	username := c.GetString("username")

	session, ok := sessionFromQuery(c)
	if !ok {
		c.String(http.StatusBadRequest, "missing or invalid record_type/record_id")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws: upgrade error: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	wsConn := NewConn(conn, m.hub, session, userID, username, m.sink)

	// 先启动写循环，保证后续广播能发出去
	go wsConn.writeLoop()

	// 注册 presence，并查出加入前已经在场的编辑者
	existing, err := m.hub.presence.GetAliveEditors(ctx, session.Key())
	if err != nil {
		log.Printf("ws: get alive editors error: %v", err)
	}
	if err := m.hub.presence.AddEditor(ctx, session.Key(), userID, username, editorTTL); err != nil {
		log.Printf("ws: add editor error: %v", err)
	}
	m.hub.Join(session.Key(), wsConn)

	others := make([]EditorInfo, 0, len(existing))
	for _, e := range existing {
		if e.UserID == userID {
			continue
		}
		others = append(others, EditorInfo{UserID: e.UserID, Username: e.Username})
	}
	// 有第二个编辑者出现时才广播提示（发给包括新人在内的整个房间）
	m.hub.BroadcastEditorJoined(session, wsConn.Editor(), others, nil)
	if m.sink != nil {
		m.sink.EditorJoined(session, userID, username)
	}

	wsConn.readLoop(ctx)

	// 读循环退出后的清理不能挂在请求 ctx 上（此时多半已取消）
	cleanupCtx, cancel := contextWithCleanupTimeout()
	defer cancel()
	wsConn.teardown(cleanupCtx)
}

// RemoteJoined / RemoteLeft 把其他实例上的进出转发到本地房间。
func (m *Manager) RemoteJoined(session Session, editor EditorInfo, existing []EditorInfo) {
	m.hub.BroadcastEditorJoined(session, editor, existing, nil)
}

func (m *Manager) RemoteLeft(session Session, editor EditorInfo, clearWarning bool) {
	m.hub.BroadcastEditorLeft(session, editor, clearWarning, nil)
}

func (m *Manager) Hub() *Hub { return m.hub }

func sessionFromQuery(c *gin.Context) (Session, bool) {
	recordType := conflict.RecordType(c.Query("record_type"))
	if !recordType.Valid() {
		return Session{}, false
	}
	recordID, err := strconv.ParseUint(c.Query("record_id"), 10, 64)
	if err != nil || recordID == 0 {
		return Session{}, false
	}
	var contentID uint64
	if raw := c.Query("content_id"); raw != "" {
		contentID, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return Session{}, false
		}
	}
	return Session{RecordType: recordType, RecordID: recordID, ContentID: contentID}, true
}

func contextWithCleanupTimeout() (ctx context.Context, cancel context.CancelFunc) {
	return context.WithTimeout(context.Background(), 3*time.Second)
}
