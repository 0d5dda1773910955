package conflict

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func lc(id, localeID uint64, code, title, text string) LocalizedContent {
	raw, _ := json.Marshal(text)
	return LocalizedContent{
		ID:       id,
		LocaleID: localeID,
		Locale:   &Locale{ID: localeID, Code: code},
		Title:    title,
		Content:  raw,
	}
}

func TestNewMerge_SeedsUserFirstThenServerOnly(t *testing.T) {
	user := []LocalizedContent{
		lc(10, 1, "en", "My EN title", "my en body"),
		lc(11, 2, "fr", "Mon titre", "mon corps"),
	}
	server := []LocalizedContent{
		lc(10, 1, "en", "Server EN title", "server en body"),
		lc(12, 3, "de", "Servertitel", "serverkörper"),
	}

	m := NewMerge(user, server)
	got := m.Contents()

	if len(got) != 3 {
		t.Fatalf("Contents() len = %d, want 3", len(got))
	}
	// id 升序
	if got[0].ID != 10 || got[1].ID != 11 || got[2].ID != 12 {
		t.Fatalf("Contents() ids = %d,%d,%d, want 10,11,12", got[0].ID, got[1].ID, got[2].ID)
	}
	// 双侧 locale 取用户的版本
	if got[0].Title != "My EN title" {
		t.Fatalf("en title = %q, want user's version", got[0].Title)
	}
	// 服务端独有的 locale 原样带入
	if got[2].Title != "Servertitel" {
		t.Fatalf("de title = %q, want server's version", got[2].Title)
	}
}

func TestMerge_DoesNotMutateSnapshots(t *testing.T) {
	user := []LocalizedContent{lc(10, 1, "en", "Original", "body")}
	server := []LocalizedContent{lc(10, 1, "en", "Server", "body")}

	m := NewMerge(user, server)
	m.SetTitle(1, "Edited")

	if user[0].Title != "Original" {
		t.Fatalf("user snapshot mutated: title = %q", user[0].Title)
	}
	if got := m.Contents()[0].Title; got != "Edited" {
		t.Fatalf("working copy title = %q, want %q", got, "Edited")
	}
}

func TestConflicts_Classification(t *testing.T) {
	older := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	userEN := lc(10, 1, "en", "Same title", "same body")
	userEN.UpdatedAt = older
	serverEN := lc(10, 1, "en", "Same title", "same body")
	serverEN.UpdatedAt = older

	userFR := lc(11, 2, "fr", "User FR", "corps")
	userFR.UpdatedAt = older
	serverFR := lc(11, 2, "fr", "Server FR", "corps")
	serverFR.UpdatedAt = newer

	userES := lc(13, 4, "es", "Solo usuario", "cuerpo")
	serverDE := lc(12, 3, "de", "Nur Server", "körper")

	m := NewMerge(
		[]LocalizedContent{userEN, userFR, userES},
		[]LocalizedContent{serverEN, serverFR, serverDE},
	)
	conflicts := m.Conflicts()
	if len(conflicts) != 4 {
		t.Fatalf("Conflicts() len = %d, want 4", len(conflicts))
	}

	byLocale := map[uint64]LocaleConflict{}
	for _, c := range conflicts {
		byLocale[c.LocaleID] = c
	}

	if c := byLocale[1]; c.SingleSided || c.HasDifferences {
		t.Fatalf("en: SingleSided=%v HasDifferences=%v, want both false", c.SingleSided, c.HasDifferences)
	}
	if c := byLocale[2]; c.SingleSided || !c.HasDifferences {
		t.Fatalf("fr: SingleSided=%v HasDifferences=%v, want false/true", c.SingleSided, c.HasDifferences)
	}
	if c := byLocale[3]; !c.SingleSided || c.User != nil {
		t.Fatalf("de should be server-only single-sided")
	}
	if c := byLocale[4]; !c.SingleSided || c.Server != nil {
		t.Fatalf("es should be user-only single-sided")
	}
	// 默认全部保留
	for _, c := range conflicts {
		if !c.Kept {
			t.Fatalf("locale %d not kept by default", c.LocaleID)
		}
	}
}

func TestSetKeep_DiscardAndRestoreExactly(t *testing.T) {
	user := []LocalizedContent{lc(10, 1, "en", "EN", "en body")}
	serverDE := lc(12, 3, "de", "Nur Server", "körper")
	serverDE.Slug = "nur-server"
	serverDE.MetaTitle = "meta"

	m := NewMerge(user, []LocalizedContent{lc(10, 1, "en", "EN", "en body"), serverDE})

	if err := m.SetKeep(3, false); err != nil {
		t.Fatalf("SetKeep(discard) error = %v", err)
	}
	got := m.Contents()
	if len(got) != 1 || got[0].LocaleID != 1 {
		t.Fatalf("after discard, contents = %+v, want only locale 1", got)
	}
	for _, c := range m.Conflicts() {
		if c.LocaleID == 3 && c.Kept {
			t.Fatalf("locale 3 still marked kept after discard")
		}
	}

	// 翻回 keep 必须逐字段恢复
	if err := m.SetKeep(3, true); err != nil {
		t.Fatalf("SetKeep(keep) error = %v", err)
	}
	got = m.Contents()
	if len(got) != 2 {
		t.Fatalf("after restore, contents len = %d, want 2", len(got))
	}
	restored := got[1]
	if restored.Title != "Nur Server" || restored.Slug != "nur-server" || restored.MetaTitle != "meta" {
		t.Fatalf("restored content lost fields: %+v", restored)
	}
}

func TestSetKeep_RejectsTwoSidedLocale(t *testing.T) {
	m := NewMerge(
		[]LocalizedContent{lc(10, 1, "en", "User", "a")},
		[]LocalizedContent{lc(10, 1, "en", "Server", "b")},
	)
	if err := m.SetKeep(1, false); !errors.Is(err, ErrNotSingleSided) {
		t.Fatalf("SetKeep on two-sided locale error = %v, want ErrNotSingleSided", err)
	}
}

func TestValidateContents_DuplicateLocale(t *testing.T) {
	dup := []LocalizedContent{
		lc(10, 1, "en", "A", "a"),
		lc(11, 1, "en", "B", "b"),
	}
	if err := ValidateContents(dup); !errors.Is(err, ErrDuplicateLocale) {
		t.Fatalf("ValidateContents(dup) error = %v, want ErrDuplicateLocale", err)
	}

	ok := []LocalizedContent{
		lc(10, 1, "en", "A", "a"),
		lc(11, 2, "fr", "B", "b"),
	}
	if err := ValidateContents(ok); err != nil {
		t.Fatalf("ValidateContents(ok) error = %v", err)
	}
}

func TestMerge_ValidateAfterEdits(t *testing.T) {
	m := NewMerge(
		[]LocalizedContent{lc(10, 1, "en", "EN", "a")},
		[]LocalizedContent{lc(12, 3, "de", "DE", "c")},
	)
	m.SetTitle(1, "EN edited")
	m.SetContent(3, json.RawMessage(`"neuer körper"`))
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestBuildSaveRecord_ServerIsStructuralBase(t *testing.T) {
	server := &Record{
		ID:             7,
		Type:           RecordTypePage,
		Published:      true,
		Contents:       []LocalizedContent{lc(10, 1, "en", "Server", "s")},
		LastModifiedBy: "bob",
		LastModifiedAt: time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC),
	}
	merged := []LocalizedContent{
		lc(11, 2, "fr", "FR", "f"),
		lc(10, 1, "en", "Resolved", "r"),
	}

	out := BuildSaveRecord(server, merged)

	if out.ID != 7 || out.Type != RecordTypePage || !out.Published {
		t.Fatalf("server-side fields not preserved: %+v", out)
	}
	if len(out.Contents) != 2 || out.Contents[0].ID != 10 || out.Contents[1].ID != 11 {
		t.Fatalf("contents not replaced/sorted: %+v", out.Contents)
	}
	if out.Contents[0].Title != "Resolved" {
		t.Fatalf("merged content not used: %q", out.Contents[0].Title)
	}
	// 不共享底层切片
	out.Contents[0].Title = "mutated"
	if server.Contents[0].Title != "Server" {
		t.Fatalf("BuildSaveRecord shared contents with server record")
	}
}
