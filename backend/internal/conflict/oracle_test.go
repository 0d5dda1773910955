package conflict

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestCheck_TimestampWatermark(t *testing.T) {
	editStart := time.Date(2026, 8, 3, 12, 0, 0, 0, time.UTC)
	rec := &Record{
		ID:             1,
		Type:           RecordTypeBlogPost,
		LastModifiedBy: "alice",
	}

	cases := []struct {
		name         string
		lastModified time.Time
		wantConflict bool
	}{
		{"modified before edit start", editStart.Add(-time.Minute), false},
		{"modified exactly at edit start", editStart, false},
		{"modified after edit start", editStart.Add(time.Second), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec.LastModifiedAt = tc.lastModified
			report := Check(CheckRequest{
				RecordType:         rec.Type,
				RecordID:           rec.ID,
				EditStartTimestamp: editStart,
			}, rec)
			if report.HasConflict != tc.wantConflict {
				t.Fatalf("HasConflict = %v, want %v", report.HasConflict, tc.wantConflict)
			}
		})
	}
}

func TestCheck_ConflictCarriesSnapshot(t *testing.T) {
	editStart := time.Date(2026, 8, 3, 12, 0, 0, 0, time.UTC)
	rec := &Record{
		ID:             5,
		Type:           RecordTypePage,
		Contents:       []LocalizedContent{lc(10, 1, "en", "Server", "body")},
		LastModifiedBy: "alice",
		LastModifiedAt: editStart.Add(time.Minute),
	}

	report := Check(CheckRequest{RecordType: rec.Type, RecordID: rec.ID, EditStartTimestamp: editStart}, rec)
	if !report.HasConflict {
		t.Fatalf("expected conflict")
	}
	if report.LastModifiedBy != "alice" || !report.LastModifiedAt.Equal(rec.LastModifiedAt) {
		t.Fatalf("attribution wrong: by=%q at=%v", report.LastModifiedBy, report.LastModifiedAt)
	}
	if report.ServerRecord == nil || len(report.ServerRecord.Contents) != 1 {
		t.Fatalf("server snapshot missing: %+v", report.ServerRecord)
	}
	// 快照是拷贝，不与存储的记录共享
	report.ServerRecord.Contents[0].Title = "mutated"
	if rec.Contents[0].Title != "Server" {
		t.Fatalf("report snapshot shares memory with stored record")
	}
}

func TestExplain_PerLocaleDeltas(t *testing.T) {
	user := []LocalizedContent{
		lc(10, 1, "en", "Old title", "old body"),
		lc(11, 2, "fr", "FR", "corps"),
	}
	server := []LocalizedContent{
		lc(10, 1, "en", "New title", "old body"),
		lc(12, 3, "de", "DE", "körper"),
	}

	got := Explain(user, server)
	for _, want := range []string{
		`Language en: title changed to "New title" on the server.`,
		"Language de was added on the server.",
		"Language fr was removed on the server.",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("Explain() = %q, missing %q", got, want)
		}
	}
}

func TestExplain_GenericFallbacks(t *testing.T) {
	if got := Explain(nil, nil); !strings.Contains(got, "modified on the server") {
		t.Fatalf("Explain(nil) = %q", got)
	}
	// 逐语言无差异（时间戳前移但内容一致）也给通用解释
	same := []LocalizedContent{lc(10, 1, "en", "Same", "same")}
	if got := Explain(same, same); !strings.Contains(got, "modified on the server") {
		t.Fatalf("Explain(same, same) = %q", got)
	}
}

func TestExtractText_BothRepresentations(t *testing.T) {
	// blog_post：纯字符串
	if got := ExtractText(json.RawMessage(`"plain body"`)); got != "plain body" {
		t.Fatalf("plain string: got %q", got)
	}

	// page：字段树，文本在嵌套的 value 下
	tree := json.RawMessage(`{
		"hero": {"value": "Welcome"},
		"sections": [
			{"value": {"value": " to"}},
			{"heading": {"value": " the site"}}
		]
	}`)
	if got := ExtractText(tree); got != "Welcome to the site" {
		t.Fatalf("field tree: got %q", got)
	}

	if got := ExtractText(nil); got != "" {
		t.Fatalf("empty: got %q", got)
	}
	// 非法 JSON 按原文比较，不炸
	if got := ExtractText(json.RawMessage(`{broken`)); got != "{broken" {
		t.Fatalf("invalid json: got %q", got)
	}
}
