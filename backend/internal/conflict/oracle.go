package conflict

import (
	"fmt"
	"sort"
	"strings"
)

// Check 回答“这条记录在我开始编辑之后是否被别人改过”。
// 判定只看记录级 last_modified_at 与水位时间戳的先后；userContents 仅用于解释文本。
func Check(req CheckRequest, current *Record) *Report {
	if !current.LastModifiedAt.After(req.EditStartTimestamp) {
		return &Report{HasConflict: false}
	}
	return &Report{
		HasConflict:         true,
		ServerRecord:        current.Clone(),
		LastModifiedBy:      current.LastModifiedBy,
		LastModifiedAt:      current.LastModifiedAt,
		ConflictExplanation: Explain(req.UserContents, current.Contents),
	}
}

// Explain renders a human-readable per-locale delta between the caller's
// draft contents and the stored contents. Empty user contents yields a
// generic explanation.
func Explain(userContents, serverContents []LocalizedContent) string {
	if len(userContents) == 0 {
		return "The record was modified on the server after you started editing."
	}

	userByLocale := contentsByLocale(userContents)
	serverByLocale := contentsByLocale(serverContents)

	var lines []string
	for _, sc := range sortedByLocale(serverContents) {
		uc, ok := userByLocale[sc.LocaleID]
		name := localeLabel(sc)
		if !ok {
			lines = append(lines, fmt.Sprintf("Language %s was added on the server.", name))
			continue
		}
		if uc.Title != sc.Title {
			lines = append(lines, fmt.Sprintf("Language %s: title changed to %q on the server.", name, sc.Title))
		}
		if ExtractText(uc.Content) != ExtractText(sc.Content) {
			lines = append(lines, fmt.Sprintf("Language %s: content changed on the server.", name))
		}
	}
	for _, uc := range sortedByLocale(userContents) {
		if _, ok := serverByLocale[uc.LocaleID]; !ok {
			lines = append(lines, fmt.Sprintf("Language %s was removed on the server.", localeLabel(uc)))
		}
	}
	if len(lines) == 0 {
		// 时间戳前移但逐语言看不出差异（例如只改了发布状态等记录级字段）
		return "The record was modified on the server after you started editing."
	}
	return strings.Join(lines, "\n")
}

func localeLabel(c LocalizedContent) string {
	if c.Locale != nil && c.Locale.Code != "" {
		return c.Locale.Code
	}
	return fmt.Sprintf("#%d", c.LocaleID)
}

func sortedByLocale(contents []LocalizedContent) []LocalizedContent {
	out := CloneContents(contents)
	sort.Slice(out, func(i, j int) bool { return out[i].LocaleID < out[j].LocaleID })
	return out
}
