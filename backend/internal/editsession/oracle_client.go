package editsession

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/DeepselSystems/deepsel-cms-sub000/backend/internal/conflict"
)

// ErrEditNotStarted：基线没捕获就发起冲突检查，属编程错误，响亮失败。
var ErrEditNotStarted = errors.New("edit session not started: edit baseline not captured")

// OracleClient 问服务端“这条记录在我开始编辑之后变了没有”。
// 基线时间戳在一次编辑会话里只捕获一次，作为所有检查的乐观并发水位。
// 组件内部不做重试；网络失败原样抛给调用方。
type OracleClient struct {
	httpClient *http.Client
	baseURL    string
	token      string

	mu            sync.Mutex
	editStartedAt time.Time
}

func NewOracleClient(baseURL, token string, httpClient *http.Client) *OracleClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &OracleClient{httpClient: httpClient, baseURL: baseURL, token: token}
}

// StartEditing 捕获编辑基线；会话内重复调用不覆盖已有基线。
func (o *OracleClient) StartEditing(at time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.editStartedAt.IsZero() {
		o.editStartedAt = at
	}
}

// ResetBaseline 开启新的编辑会话（例如切换记录后）。
func (o *OracleClient) ResetBaseline() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.editStartedAt = time.Time{}
}

func (o *OracleClient) EditStartedAt() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.editStartedAt
}

// CheckForConflicts 在保存前调用。userContents 只影响解释文本。
func (o *OracleClient) CheckForConflicts(ctx context.Context, recordType conflict.RecordType, recordID uint64, userContents []conflict.LocalizedContent) (*conflict.Report, error) {
	return o.check(ctx, recordType, recordID, userContents)
}

// RecheckConflicts 在提交解决结果前再探一次；纯探测，契约与 Check 相同。
func (o *OracleClient) RecheckConflicts(ctx context.Context, recordType conflict.RecordType, recordID uint64, userContents []conflict.LocalizedContent) (*conflict.Report, error) {
	return o.check(ctx, recordType, recordID, userContents)
}

func (o *OracleClient) check(ctx context.Context, recordType conflict.RecordType, recordID uint64, userContents []conflict.LocalizedContent) (*conflict.Report, error) {
	o.mu.Lock()
	startedAt := o.editStartedAt
	o.mu.Unlock()
	if startedAt.IsZero() {
		return nil, ErrEditNotStarted
	}

	body, err := json.Marshal(conflict.CheckRequest{
		RecordType:         recordType,
		RecordID:           recordID,
		EditStartTimestamp: startedAt,
		UserContents:       userContents,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/v1/conflict-check", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+o.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("conflict check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("conflict check returned status %d", resp.StatusCode)
	}
	var report conflict.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("decode conflict report: %w", err)
	}
	return &report, nil
}
