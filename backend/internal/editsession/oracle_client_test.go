package editsession

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DeepselSystems/deepsel-cms-sub000/backend/internal/conflict"
)

func TestOracleClient_RequiresBaseline(t *testing.T) {
	o := NewOracleClient("http://127.0.0.1:1", "token", nil)
	_, err := o.CheckForConflicts(context.Background(), conflict.RecordTypePage, 1, nil)
	if !errors.Is(err, ErrEditNotStarted) {
		t.Fatalf("check without baseline error = %v, want ErrEditNotStarted", err)
	}
}

func TestOracleClient_BaselineCapturedOnce(t *testing.T) {
	first := time.Date(2026, 8, 5, 9, 0, 0, 0, time.UTC)
	o := NewOracleClient("http://127.0.0.1:1", "token", nil)
	o.StartEditing(first)
	// 会话内重复调用不得覆盖水位
	o.StartEditing(first.Add(time.Hour))
	if got := o.EditStartedAt(); !got.Equal(first) {
		t.Fatalf("EditStartedAt() = %v, want %v", got, first)
	}

	o.ResetBaseline()
	if !o.EditStartedAt().IsZero() {
		t.Fatalf("ResetBaseline() did not clear the watermark")
	}
}

func TestOracleClient_CheckRequestShape(t *testing.T) {
	editStart := time.Date(2026, 8, 5, 9, 0, 0, 0, time.UTC)
	modified := editStart.Add(time.Minute)

	var gotReq conflict.CheckRequest
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/conflict-check" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(conflict.Report{
			HasConflict:         true,
			LastModifiedBy:      "bob",
			LastModifiedAt:      modified,
			ConflictExplanation: "Language en: content changed on the server.",
		})
	}))
	defer srv.Close()

	o := NewOracleClient(srv.URL, "test-token", srv.Client())
	o.StartEditing(editStart)

	contents := []conflict.LocalizedContent{{ID: 10, LocaleID: 1, Title: "Draft"}}
	report, err := o.CheckForConflicts(context.Background(), conflict.RecordTypeBlogPost, 42, contents)
	if err != nil {
		t.Fatalf("CheckForConflicts() error = %v", err)
	}

	if gotAuth != "Bearer test-token" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if gotReq.RecordType != conflict.RecordTypeBlogPost || gotReq.RecordID != 42 {
		t.Fatalf("request identifies %s/%d", gotReq.RecordType, gotReq.RecordID)
	}
	if !gotReq.EditStartTimestamp.Equal(editStart) {
		t.Fatalf("edit_start_timestamp = %v, want %v", gotReq.EditStartTimestamp, editStart)
	}
	if len(gotReq.UserContents) != 1 || gotReq.UserContents[0].Title != "Draft" {
		t.Fatalf("user_contents not forwarded: %+v", gotReq.UserContents)
	}

	if !report.HasConflict || report.LastModifiedBy != "bob" {
		t.Fatalf("report not decoded: %+v", report)
	}
}

func TestOracleClient_NonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	o := NewOracleClient(srv.URL, "token", srv.Client())
	o.StartEditing(time.Now())
	// 不在内部重试，失败原样上抛
	if _, err := o.RecheckConflicts(context.Background(), conflict.RecordTypePage, 1, nil); err == nil {
		t.Fatalf("non-200 response must surface as an error")
	}
}
