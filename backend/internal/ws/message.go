package ws

import (
	"fmt"

	"github.com/DeepselSystems/deepsel-cms-sub000/backend/internal/conflict"
)

// Session 标识一个编辑会话通道：record_type + record_id + 可选 content_id。
type Session struct {
	RecordType conflict.RecordType
	RecordID   uint64
	ContentID  uint64 // 0 表示无子范围
}

func (s Session) Key() string {
	if s.ContentID == 0 {
		return fmt.Sprintf("%s:%d", s.RecordType, s.RecordID)
	}
	return fmt.Sprintf("%s:%d:%d", s.RecordType, s.RecordID, s.ContentID)
}

// ClientMessage 是入站 JSON 信封，type 为判别字段。
// 未知 type / 解析失败只记日志并忽略，不影响连接。
type ClientMessage struct {
	Type string `json:"type"`
}

const (
	MsgHeartbeat           = "heartbeat"
	MsgLeaveEditSession    = "leave_edit_session"
	MsgParallelEditWarning = "parallel_edit_warning"
	MsgUserLeft            = "user_left"
)

type EditorInfo struct {
	UserID   uint64 `json:"user_id"`
	Username string `json:"username,omitempty"`
}

// 出站消息接口
type OutboundMessage interface {
	MessageType() string
}

type ServerMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// ParallelEditWarningMessage 提示“有别人也在编辑这条记录”。
// TotalEditors 缺省时客户端按 len(existing_editors)+1 兜底。
type ParallelEditWarningMessage struct {
	Type            string       `json:"type"` // 固定 "parallel_edit_warning"
	Message         string       `json:"message"`
	NewEditor       EditorInfo   `json:"new_editor"`
	ExistingEditors []EditorInfo `json:"existing_editors"`
	IsFirstUser     bool         `json:"is_first_user"`
	TotalEditors    int          `json:"total_editors,omitempty"`
}

type UserLeftMessage struct {
	Type     string `json:"type"` // 固定 "user_left"
	UserID   uint64 `json:"user_id"`
	Username string `json:"username,omitempty"`
	// ClearWarning 为 true 时客户端清掉并行编辑提示
	ClearWarning bool `json:"clear_warning"`
}

func (m ServerMessage) MessageType() string              { return m.Type }
func (m ParallelEditWarningMessage) MessageType() string { return m.Type }
func (m UserLeftMessage) MessageType() string            { return m.Type }
