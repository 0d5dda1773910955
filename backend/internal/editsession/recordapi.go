package editsession

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/DeepselSystems/deepsel-cms-sub000/backend/internal/conflict"
)

// RecordAPI 是保存路径依赖的记录读写协作方。
type RecordAPI interface {
	FetchRecord(ctx context.Context, recordType conflict.RecordType, id uint64) (*conflict.Record, error)
	CreateRecord(ctx context.Context, rec *conflict.Record) (*conflict.Record, error)
	UpdateRecord(ctx context.Context, rec *conflict.Record) (*conflict.Record, error)
}

// Notifier 是通知收口（toast 的抽象），不属于核心语义。
type Notifier interface {
	Notify(message, level string)
}

const (
	NotifySuccess = "success"
	NotifyError   = "error"
	NotifyWarning = "warning"
)

type logNotifier struct{}

func (logNotifier) Notify(message, level string) {
	log.Printf("notify [%s]: %s", level, message)
}

// NewLogNotifier 在没有界面的场合把通知打到日志。
func NewLogNotifier() Notifier { return logNotifier{} }

type httpRecordAPI struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

func NewRecordAPI(baseURL, token string, httpClient *http.Client) RecordAPI {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &httpRecordAPI{httpClient: httpClient, baseURL: baseURL, token: token}
}

func (a *httpRecordAPI) FetchRecord(ctx context.Context, recordType conflict.RecordType, id uint64) (*conflict.Record, error) {
	url := fmt.Sprintf("%s/v1/records/%s/%d", a.baseURL, recordType, id)
	return a.roundTrip(ctx, http.MethodGet, url, nil)
}

func (a *httpRecordAPI) CreateRecord(ctx context.Context, rec *conflict.Record) (*conflict.Record, error) {
	url := fmt.Sprintf("%s/v1/records/%s", a.baseURL, rec.Type)
	return a.roundTrip(ctx, http.MethodPost, url, rec)
}

func (a *httpRecordAPI) UpdateRecord(ctx context.Context, rec *conflict.Record) (*conflict.Record, error) {
	url := fmt.Sprintf("%s/v1/records/%s/%d", a.baseURL, rec.Type, rec.ID)
	return a.roundTrip(ctx, http.MethodPut, url, rec)
}

func (a *httpRecordAPI) roundTrip(ctx context.Context, method, url string, payload *conflict.Record) (*conflict.Record, error) {
	var body *bytes.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("record request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("record request returned status %d", resp.StatusCode)
	}
	var rec conflict.Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}
