package ws

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

// editorTTL 是心跳键的存活时间；客户端每 30s 心跳一次，3 倍冗余。
const editorTTL = 90 * time.Second

type Conn struct {
	ws       *websocket.Conn
	hub      *Hub
	session  Session
	userID   uint64
	username string
	send     chan OutboundMessage
	sink     EventSink
}

func NewConn(ws *websocket.Conn, hub *Hub, session Session, userID uint64, username string, sink EventSink) *Conn {
	return &Conn{
		ws:       ws,
		hub:      hub,
		session:  session,
		userID:   userID,
		username: username,
		send:     make(chan OutboundMessage, 32),
		sink:     sink,
	}
}

func (c *Conn) Editor() EditorInfo { return EditorInfo{UserID: c.userID, Username: c.username} }

// Enqueue 入队出站消息；队列满则丢弃（通道是建议性的，不值得反压）。
func (c *Conn) Enqueue(msg OutboundMessage) {
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Conn) readLoop(ctx context.Context) {
	defer close(c.send)
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			// 连接断了（含客户端正常关闭）
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("ws: drop unparseable message (user=%d, session=%s): %v", c.userID, c.session.Key(), err)
			continue
		}
		switch msg.Type {
		case MsgHeartbeat:
			if err := c.hub.presence.RefreshEditor(ctx, c.session.Key(), c.userID, editorTTL); err != nil {
				log.Printf("ws: refresh editor error: %v", err)
			}
		case MsgLeaveEditSession:
			// 显式离开：交给 teardown 统一清理
			return
		default:
			log.Printf("ws: ignore unknown message type %q (user=%d)", msg.Type, c.userID)
		}
	}
}

func (c *Conn) writeLoop() {
	for msg := range c.send {
		_ = c.ws.WriteJSON(msg)
	}
}

// teardown 在读循环退出后执行：出房间、清 presence、广播 user_left。
func (c *Conn) teardown(ctx context.Context) {
	c.hub.Leave(c.session.Key(), c)
	if err := c.hub.presence.RemoveEditor(ctx, c.session.Key(), c.userID); err != nil {
		log.Printf("ws: remove editor error: %v", err)
	}
	remaining, err := c.hub.presence.GetAliveEditors(ctx, c.session.Key())
	if err != nil {
		log.Printf("ws: get alive editors error: %v", err)
	}
	c.hub.BroadcastEditorLeft(c.session, c.Editor(), len(remaining) <= 1, c)
	if c.sink != nil {
		c.sink.EditorLeft(c.session, c.userID, c.username)
	}
}
