package conflict

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

type RecordType string

const (
	RecordTypePage     RecordType = "page"
	RecordTypeBlogPost RecordType = "blog_post"
)

func (t RecordType) Valid() bool {
	return t == RecordTypePage || t == RecordTypeBlogPost
}

// Locale 展示信息，冗余在内容行上，避免客户端再查一次
type Locale struct {
	ID   uint64 `json:"id"`
	Code string `json:"code"`
	Name string `json:"name,omitempty"`
}

// LocalizedContent 是一条记录在某个语言下的版本。
// Content 对 blog_post 是纯字符串，对 page 是带嵌套 "value" 字段的结构树，
// 两种表示都以原始 JSON 携带。
type LocalizedContent struct {
	ID              uint64          `json:"id"`
	LocaleID        uint64          `json:"locale_id"`
	Locale          *Locale         `json:"locale,omitempty"`
	Title           string          `json:"title"`
	Content         json.RawMessage `json:"content,omitempty"`
	Slug            string          `json:"slug,omitempty"`
	MetaTitle       string          `json:"meta_title,omitempty"`
	MetaDescription string          `json:"meta_description,omitempty"`
	FeaturedImage   string          `json:"featured_image,omitempty"`
	CustomCode      string          `json:"custom_code,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at,omitempty"`
}

// Record 是 page / blog_post 的统一快照，contents 按 locale_id 唯一。
type Record struct {
	ID             uint64             `json:"id"`
	Type           RecordType         `json:"record_type"`
	Published      bool               `json:"published"`
	Contents       []LocalizedContent `json:"contents"`
	LastModifiedBy string             `json:"last_modified_by,omitempty"`
	LastModifiedAt time.Time          `json:"last_modified_at"`
}

// Clone returns a deep copy; contents slices must never be shared between
// the user's working record and a merge working copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Contents = CloneContents(r.Contents)
	return &out
}

func CloneContents(in []LocalizedContent) []LocalizedContent {
	out := make([]LocalizedContent, len(in))
	for i, c := range in {
		out[i] = c
		if c.Locale != nil {
			l := *c.Locale
			out[i].Locale = &l
		}
		if c.Content != nil {
			out[i].Content = append(json.RawMessage(nil), c.Content...)
		}
	}
	return out
}

// SortContentsByID 按 id 升序排序（记录对 contents 的规范顺序）。
func SortContentsByID(contents []LocalizedContent) {
	sort.Slice(contents, func(i, j int) bool { return contents[i].ID < contents[j].ID })
}

// ExtractText pulls comparable plain text out of a content payload.
// Handles both representations uniformly: a bare JSON string, or a field
// tree where meaningful text sits under nested "value" keys.
func ExtractText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		// 非法 JSON 按原文比较
		return string(raw)
	}
	var b strings.Builder
	collectText(v, &b)
	return b.String()
}

func collectText(v any, b *strings.Builder) {
	switch x := v.(type) {
	case string:
		b.WriteString(x)
	case []any:
		for _, item := range x {
			collectText(item, b)
		}
	case map[string]any:
		if inner, ok := x["value"]; ok {
			collectText(inner, b)
			return
		}
		// 没有 value 字段时按 key 排序遍历，保证抽取结果稳定
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectText(x[k], b)
		}
	}
}

func contentsByLocale(contents []LocalizedContent) map[uint64]LocalizedContent {
	m := make(map[uint64]LocalizedContent, len(contents))
	for _, c := range contents {
		m[c.LocaleID] = c
	}
	return m
}
