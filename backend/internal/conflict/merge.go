package conflict

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

var (
	ErrDuplicateLocale = errors.New("resolved contents contain duplicate locale")
	ErrNotSingleSided  = errors.New("keep/discard toggle only applies to single-sided locales")
)

// LocaleConflict 描述一个 locale 在两份快照之间的状态，只用于驱动
// 界面强调与单侧开关，不改变合并结果本身。
type LocaleConflict struct {
	LocaleID       uint64
	Locale         *Locale
	User           *LocalizedContent
	Server         *LocalizedContent
	SingleSided    bool
	HasDifferences bool
	// Kept 是单侧开关的当前状态，默认 true（保留）。
	Kept bool
}

// Merge is the working copy for one conflict-resolution pass. It owns the
// resolved per-locale contents keyed by locale id, tracks single-sided
// keep/discard decisions, and never mutates either source snapshot.
type Merge struct {
	user   []LocalizedContent
	server []LocalizedContent

	resolved map[uint64]LocalizedContent
	// discarded 保存被“丢弃”的单侧内容，翻回 keep 时原样恢复
	discarded map[uint64]LocalizedContent
}

// NewMerge seeds the working copy: every locale from the user's contents
// first (user edits are the working value), then any server locale absent
// from the user's set, inserted unedited.
func NewMerge(user, server []LocalizedContent) *Merge {
	m := &Merge{
		user:      CloneContents(user),
		server:    CloneContents(server),
		resolved:  make(map[uint64]LocalizedContent),
		discarded: make(map[uint64]LocalizedContent),
	}
	for _, c := range m.user {
		m.resolved[c.LocaleID] = c
	}
	for _, c := range m.server {
		if _, ok := m.resolved[c.LocaleID]; !ok {
			m.resolved[c.LocaleID] = c
		}
	}
	return m
}

// Contents returns the current resolved contents, ordered by id ascending.
func (m *Merge) Contents() []LocalizedContent {
	out := make([]LocalizedContent, 0, len(m.resolved))
	for _, c := range m.resolved {
		out = append(out, c)
	}
	SortContentsByID(out)
	return CloneContents(out)
}

// Conflicts classifies every locale present in either snapshot.
// A locale is single-sided if exactly one snapshot has it; a two-sided
// locale "has differences" when titles differ, extracted content text
// differs, or the server copy was modified strictly later.
func (m *Merge) Conflicts() []LocaleConflict {
	userBy := contentsByLocale(m.user)
	serverBy := contentsByLocale(m.server)

	ids := make([]uint64, 0, len(userBy)+len(serverBy))
	seen := make(map[uint64]struct{})
	for _, c := range append(CloneContents(m.user), m.server...) {
		if _, ok := seen[c.LocaleID]; ok {
			continue
		}
		seen[c.LocaleID] = struct{}{}
		ids = append(ids, c.LocaleID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]LocaleConflict, 0, len(ids))
	for _, id := range ids {
		lc := LocaleConflict{LocaleID: id, Kept: true}
		if uc, ok := userBy[id]; ok {
			c := uc
			lc.User = &c
			lc.Locale = c.Locale
		}
		if sc, ok := serverBy[id]; ok {
			c := sc
			lc.Server = &c
			if lc.Locale == nil {
				lc.Locale = c.Locale
			}
		}
		lc.SingleSided = (lc.User == nil) != (lc.Server == nil)
		if lc.User != nil && lc.Server != nil {
			lc.HasDifferences = lc.User.Title != lc.Server.Title ||
				ExtractText(lc.User.Content) != ExtractText(lc.Server.Content) ||
				lc.Server.UpdatedAt.After(lc.User.UpdatedAt)
		}
		if _, gone := m.discarded[id]; gone {
			lc.Kept = false
		}
		out = append(out, lc)
	}
	return out
}

// SetKeep flips the single-sided keep/discard toggle. Discard removes the
// locale from the resolved contents entirely; keep restores the original
// one-sided version exactly. Two-sided locales cannot be removed this way.
func (m *Merge) SetKeep(localeID uint64, keep bool) error {
	userBy := contentsByLocale(m.user)
	serverBy := contentsByLocale(m.server)
	_, inUser := userBy[localeID]
	_, inServer := serverBy[localeID]
	if inUser == inServer {
		return fmt.Errorf("%w: locale %d", ErrNotSingleSided, localeID)
	}

	if keep {
		if c, ok := m.discarded[localeID]; ok {
			m.resolved[localeID] = c
			delete(m.discarded, localeID)
		}
		return nil
	}
	if c, ok := m.resolved[localeID]; ok {
		m.discarded[localeID] = c
		delete(m.resolved, localeID)
	}
	return nil
}

// SetTitle writes an in-place edit into the working copy, upserting a stub
// if the locale is somehow not present.
func (m *Merge) SetTitle(localeID uint64, title string) {
	c := m.upsert(localeID)
	c.Title = title
	m.resolved[localeID] = c
}

// SetContent writes an in-place content edit into the working copy.
func (m *Merge) SetContent(localeID uint64, content json.RawMessage) {
	c := m.upsert(localeID)
	c.Content = append(json.RawMessage(nil), content...)
	m.resolved[localeID] = c
}

func (m *Merge) upsert(localeID uint64) LocalizedContent {
	if c, ok := m.resolved[localeID]; ok {
		return c
	}
	// 防御路径：界面对一个尚不存在的 locale 写入时先补一个壳
	return LocalizedContent{LocaleID: localeID}
}

// Validate guards the structural invariant before persistence: no two
// resolved entries may share a locale id. The map-based merge should make
// this impossible; the check protects against merge-logic regressions.
func (m *Merge) Validate() error {
	return ValidateContents(m.Contents())
}

// ValidateContents 检查一组内容中 locale_id 是否唯一。
func ValidateContents(contents []LocalizedContent) error {
	seen := make(map[uint64]struct{}, len(contents))
	for _, c := range contents {
		if _, dup := seen[c.LocaleID]; dup {
			return fmt.Errorf("%w: locale %d appears more than once", ErrDuplicateLocale, c.LocaleID)
		}
		seen[c.LocaleID] = struct{}{}
	}
	return nil
}

// BuildSaveRecord builds the record to persist after resolution: the server
// record is the structural base (server-side fields the client never had are
// preserved), with contents replaced by the merged set.
func BuildSaveRecord(server *Record, contents []LocalizedContent) *Record {
	out := server.Clone()
	out.Contents = CloneContents(contents)
	SortContentsByID(out.Contents)
	return out
}
