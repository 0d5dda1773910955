package conflict

import "time"

// CheckRequest 是冲突检查端点的请求体。
// UserContents 只用于生成更可读的解释文本，不影响 has_conflict 的判定。
type CheckRequest struct {
	RecordType         RecordType         `json:"record_type"`
	RecordID           uint64             `json:"record_id"`
	EditStartTimestamp time.Time          `json:"edit_start_timestamp"`
	UserContents       []LocalizedContent `json:"user_contents,omitempty"`
}

// Report 即冲突检查的应答。每次保存/提交前重新计算，从不落库。
type Report struct {
	HasConflict         bool      `json:"has_conflict"`
	ServerRecord        *Record   `json:"newer_record,omitempty"`
	LastModifiedBy      string    `json:"last_modified_by,omitempty"`
	LastModifiedAt      time.Time `json:"last_modified_at,omitempty"`
	ConflictExplanation string    `json:"conflict_explanation,omitempty"`
}
