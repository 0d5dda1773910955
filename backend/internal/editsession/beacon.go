package editsession

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/DeepselSystems/deepsel-cms-sub000/backend/internal/conflict"
)

type leavePayload struct {
	RecordType string `json:"record_type"`
	RecordID   uint64 `json:"record_id"`
	ContentID  uint64 `json:"content_id,omitempty"`
	UserID     uint64 `json:"user_id"`
}

// SendLeaveBeacon 在页面硬卸载时带外通知服务端“我走了”。
// 不依赖通道还开着；尽力而为，一切失败都吞掉。
func SendLeaveBeacon(httpBaseURL string, recordType conflict.RecordType, recordID, contentID, userID uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	body, err := json.Marshal(leavePayload{
		RecordType: string(recordType),
		RecordID:   recordID,
		ContentID:  contentID,
		UserID:     userID,
	})
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, httpBaseURL+"/v1/edit-sessions/leave", bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return
	}
	resp.Body.Close()
}
