package editsession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/DeepselSystems/deepsel-cms-sub000/backend/internal/conflict"
)

const (
	heartbeatInterval    = 30 * time.Second
	reconnectBase        = 1 * time.Second
	reconnectMaxDelay    = 30 * time.Second
	maxReconnectAttempts = 5
	// Disconnect 时给显式 leave 消息留的冲刷时间
	leaveGracePeriod = 100 * time.Millisecond
)

var (
	ErrNoToken            = errors.New("edit session channel requires an auth token")
	ErrChannelUnsupported = errors.New("edit session channel marked unsupported after repeated failures")
)

type ConnState int

const (
	StateClosed ConnState = iota
	StateConnecting
	StateOpen
)

// Warning 即“有人也在编辑”的提示，由入站消息推导，属临时状态。
type Warning struct {
	Message         string
	NewEditor       string
	ExistingEditors []string
	IsFirstUser     bool
	TotalEditors    int
}

type wireEditor struct {
	UserID   uint64 `json:"user_id"`
	Username string `json:"username"`
}

// 入站信封：type 判别，其余字段按需取
type wireEnvelope struct {
	Type            string       `json:"type"`
	Message         string       `json:"message"`
	NewEditor       wireEditor   `json:"new_editor"`
	ExistingEditors []wireEditor `json:"existing_editors"`
	IsFirstUser     bool         `json:"is_first_user"`
	TotalEditors    int          `json:"total_editors"`
	UserID          uint64       `json:"user_id"`
	Username        string       `json:"username"`
	ClearWarning    bool         `json:"clear_warning"`
}

type ChannelOptions struct {
	// BaseURL 形如 ws://host:port
	BaseURL    string
	Token      string
	RecordType conflict.RecordType
	RecordID   uint64
	ContentID  uint64

	// 回调都在读循环里同步调用；都是可选的
	OnWarning      func(Warning)
	OnClearWarning func()

	Dialer *websocket.Dialer
}

// Channel maintains the advisory presence connection for one open record.
// Total channel failure only costs the "someone else is editing" hint; the
// conflict-check save path never depends on it.
type Channel struct {
	opts     ChannelOptions
	clientID string

	mu             sync.Mutex
	conn           *websocket.Conn
	state          ConnState
	attempt        int
	unsupported    bool
	closed         bool
	gen            int // 连接代数，作废旧的读循环/心跳
	reconnectTimer *time.Timer
	warning        *Warning
}

func NewChannel(opts ChannelOptions) *Channel {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Channel{opts: opts, clientID: uuid.NewString()}
}

func (c *Channel) ClientID() string { return c.clientID }

func (c *Channel) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Unsupported 为真表示重连次数已用尽，本会话内不再尝试。
func (c *Channel) Unsupported() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unsupported
}

func (c *Channel) ReconnectAttempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

func (c *Channel) Warning() *Warning {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.warning == nil {
		return nil
	}
	w := *c.warning
	return &w
}

// DismissWarning 由用户显式清掉提示。
func (c *Channel) DismissWarning() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warning = nil
}

// Connect 打开通道并启动心跳。没有 token 直接失败。
func (c *Channel) Connect(ctx context.Context) error {
	if c.opts.Token == "" {
		return ErrNoToken
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	if c.unsupported {
		c.mu.Unlock()
		return ErrChannelUnsupported
	}
	c.state = StateConnecting
	c.mu.Unlock()

	conn, resp, err := c.opts.Dialer.DialContext(ctx, c.channelURL(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.mu.Lock()
		c.state = StateClosed
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return fmt.Errorf("dial edit session channel: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	// 重复 Connect 时旧连接被顶掉：gen 已作废它的循环，socket 也要关掉
	prev := c.conn
	c.conn = conn
	c.state = StateOpen
	c.attempt = 0 // 连上就清计数，上限按一次掉线算
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	if prev != nil {
		prev.Close()
	}

	go c.readLoop(conn, gen)
	go c.heartbeatLoop(gen)
	return nil
}

func (c *Channel) channelURL() string {
	q := url.Values{}
	q.Set("record_type", string(c.opts.RecordType))
	q.Set("record_id", strconv.FormatUint(c.opts.RecordID, 10))
	if c.opts.ContentID != 0 {
		q.Set("content_id", strconv.FormatUint(c.opts.ContentID, 10))
	}
	q.Set("token", c.opts.Token)
	return c.opts.BaseURL + "/v1/edit-sessions/ws?" + q.Encode()
}

func (c *Channel) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.gen != gen || c.closed {
				c.mu.Unlock()
				return
			}
			c.conn = nil
			c.state = StateClosed
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				// 非正常断开才重连
				c.scheduleReconnectLocked()
			}
			c.mu.Unlock()
			return
		}
		c.handleMessage(raw)
	}
}

func (c *Channel) handleMessage(raw []byte) {
	var env wireEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("editsession: drop unparseable channel message: %v", err)
		return
	}
	switch env.Type {
	case "parallel_edit_warning":
		existing := make([]string, 0, len(env.ExistingEditors))
		for _, e := range env.ExistingEditors {
			existing = append(existing, e.Username)
		}
		total := env.TotalEditors
		if total == 0 {
			// 服务端没给总数时按 existing+1 兜底
			total = len(existing) + 1
		}
		w := Warning{
			Message:         env.Message,
			NewEditor:       env.NewEditor.Username,
			ExistingEditors: existing,
			IsFirstUser:     env.IsFirstUser,
			TotalEditors:    total,
		}
		c.mu.Lock()
		c.warning = &w
		cb := c.opts.OnWarning
		c.mu.Unlock()
		if cb != nil {
			cb(w)
		}
	case "user_left":
		if !env.ClearWarning {
			return
		}
		c.mu.Lock()
		c.warning = nil
		cb := c.opts.OnClearWarning
		c.mu.Unlock()
		if cb != nil {
			cb()
		}
	default:
		log.Printf("editsession: ignore channel message type %q", env.Type)
	}
}

func (c *Channel) heartbeatLoop(gen int) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for range ticker.C {
		c.mu.Lock()
		if c.gen != gen || c.state != StateOpen || c.conn == nil {
			c.mu.Unlock()
			return
		}
		conn := c.conn
		c.mu.Unlock()
		// 通道不在 open 状态时心跳被静默丢弃；写失败交给读循环善后
		_ = conn.WriteJSON(map[string]string{"type": "heartbeat"})
	}
}

// scheduleReconnectLocked：指数退避 min(base*2^attempt, cap)，至多 5 次，
// 用尽后本会话内永久标记为不可用。调用方需持有 c.mu。
func (c *Channel) scheduleReconnectLocked() {
	if c.attempt >= maxReconnectAttempts {
		c.unsupported = true
		log.Printf("editsession: channel unsupported after %d reconnect attempts", c.attempt)
		return
	}
	delay := reconnectDelay(c.attempt)
	c.attempt++
	c.reconnectTimer = time.AfterFunc(delay, func() {
		_ = c.Connect(context.Background())
	})
}

func reconnectDelay(attempt int) time.Duration {
	delay := reconnectBase << uint(attempt)
	if delay > reconnectMaxDelay {
		delay = reconnectMaxDelay
	}
	return delay
}

// Disconnect 是作用域式收尾：取消挂起的重连、尽力发显式 leave、等一小段
// 冲刷时间、正常码关闭。无论 leave 是否成功，本地状态一定清掉。
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.closed = true
	c.gen++
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	wasOpen := c.state == StateOpen
	c.conn = nil
	c.state = StateClosed
	c.warning = nil
	c.mu.Unlock()

	if conn == nil {
		return
	}
	if wasOpen {
		_ = conn.WriteJSON(map[string]string{"type": "leave_edit_session"})
		time.Sleep(leaveGracePeriod)
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	conn.Close()
}
