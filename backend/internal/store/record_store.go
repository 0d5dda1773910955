package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/DeepselSystems/deepsel-cms-sub000/backend/internal/conflict"
)

var ErrRecordNotFound = errors.New("record not found")

type RecordRow struct {
	ID             uint64 `gorm:"primaryKey;autoIncrement"`
	Type           string `gorm:"type:varchar(32);index"`
	Published      bool
	Revision       uint64
	LastModifiedBy string `gorm:"type:varchar(255)"`
	LastModifiedAt time.Time
	Contents       []ContentRow `gorm:"foreignKey:RecordID"`
}

func (RecordRow) TableName() string { return "records" }

type ContentRow struct {
	ID              uint64 `gorm:"primaryKey;autoIncrement"`
	RecordID        uint64 `gorm:"uniqueIndex:uniq_record_locale"`
	LocaleID        uint64 `gorm:"uniqueIndex:uniq_record_locale"`
	LocaleCode      string `gorm:"type:varchar(16)"`
	LocaleName      string `gorm:"type:varchar(64)"`
	Title           string `gorm:"type:varchar(512)"`
	Content         string `gorm:"type:longtext"` // 原始 JSON：字符串或字段树
	Slug            string `gorm:"type:varchar(512)"`
	MetaTitle       string `gorm:"type:varchar(512)"`
	MetaDescription string `gorm:"type:text"`
	FeaturedImage   string `gorm:"type:varchar(1024)"`
	CustomCode      string `gorm:"type:mediumtext"`
	UpdatedAt       time.Time
}

func (ContentRow) TableName() string { return "record_contents" }

// RecordStore 负责记录及其多语言内容的读写。
// Get 用 singleflight 去重：保存时序里冲突检查会突发地重复读同一条记录。
type RecordStore struct {
	db        *gorm.DB
	sf        singleflight.Group
	revisions *RevisionStore
}

func NewRecordStore(db *gorm.DB, revisions *RevisionStore) *RecordStore {
	return &RecordStore{db: db, revisions: revisions}
}

func (s *RecordStore) Get(ctx context.Context, recordType conflict.RecordType, id uint64) (*conflict.Record, error) {
	key := fmt.Sprintf("%s:%d", recordType, id)
	v, err, _ := s.sf.Do(key, func() (any, error) {
		return s.get(ctx, recordType, id)
	})
	if err != nil {
		return nil, err
	}
	// singleflight 的结果可能被多个调用方共享，返回副本
	return v.(*conflict.Record).Clone(), nil
}

func (s *RecordStore) get(ctx context.Context, recordType conflict.RecordType, id uint64) (*conflict.Record, error) {
	var row RecordRow
	err := s.db.WithContext(ctx).
		Preload("Contents").
		Where("id = ? AND type = ?", id, string(recordType)).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return rowToRecord(&row), nil
}

func (s *RecordStore) Create(ctx context.Context, rec *conflict.Record, modifiedBy string) (*conflict.Record, error) {
	if err := conflict.ValidateContents(rec.Contents); err != nil {
		return nil, err
	}
	now := time.Now()
	row := RecordRow{
		Type:           string(rec.Type),
		Published:      rec.Published,
		Revision:       1,
		LastModifiedBy: modifiedBy,
		LastModifiedAt: now,
	}
	for _, c := range rec.Contents {
		row.Contents = append(row.Contents, contentToRow(c, now))
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, err
	}
	s.appendRevision(ctx, &row)
	return s.get(ctx, rec.Type, row.ID)
}

// Update 以事务替换整组内容：被移除的 locale 删行，其余按 locale 匹配更新，
// 新 locale 插入（客户端临时 id 不落库），最后推进修改水位。
func (s *RecordStore) Update(ctx context.Context, rec *conflict.Record, modifiedBy string) (*conflict.Record, error) {
	if err := conflict.ValidateContents(rec.Contents); err != nil {
		return nil, err
	}
	now := time.Now()
	var saved RecordRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row RecordRow
		if err := tx.Preload("Contents").
			Where("id = ? AND type = ?", rec.ID, string(rec.Type)).
			First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRecordNotFound
			}
			return err
		}

		wanted := make(map[uint64]conflict.LocalizedContent, len(rec.Contents))
		for _, c := range rec.Contents {
			wanted[c.LocaleID] = c
		}

		existing := make(map[uint64]ContentRow, len(row.Contents))
		for _, cr := range row.Contents {
			if _, keep := wanted[cr.LocaleID]; !keep {
				if err := tx.Delete(&ContentRow{}, cr.ID).Error; err != nil {
					return err
				}
				continue
			}
			existing[cr.LocaleID] = cr
		}

		for localeID, c := range wanted {
			if cr, ok := existing[localeID]; ok {
				updated := contentToRow(c, now)
				updated.ID = cr.ID
				updated.RecordID = row.ID
				if err := tx.Save(&updated).Error; err != nil {
					return err
				}
			} else {
				inserted := contentToRow(c, now)
				inserted.RecordID = row.ID
				if err := tx.Create(&inserted).Error; err != nil {
					return err
				}
			}
		}

		row.Published = rec.Published
		row.Revision++
		row.LastModifiedBy = modifiedBy
		row.LastModifiedAt = now
		row.Contents = nil
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		saved = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.appendRevision(ctx, &saved)
	return s.get(ctx, rec.Type, rec.ID)
}

// appendRevision 写修订日志；失败只记日志（日志不是保存路径的正确性保证）。
func (s *RecordStore) appendRevision(ctx context.Context, row *RecordRow) {
	if s.revisions == nil {
		return
	}
	fresh, err := s.get(ctx, conflict.RecordType(row.Type), row.ID)
	if err != nil {
		return
	}
	payload, err := json.Marshal(fresh)
	if err != nil {
		return
	}
	_ = s.revisions.SaveRevision(ctx, row.Type, row.ID, row.Revision, row.LastModifiedBy, string(payload))
}

func rowToRecord(row *RecordRow) *conflict.Record {
	rec := &conflict.Record{
		ID:             row.ID,
		Type:           conflict.RecordType(row.Type),
		Published:      row.Published,
		LastModifiedBy: row.LastModifiedBy,
		LastModifiedAt: row.LastModifiedAt,
	}
	for _, cr := range row.Contents {
		c := conflict.LocalizedContent{
			ID:              cr.ID,
			LocaleID:        cr.LocaleID,
			Title:           cr.Title,
			Slug:            cr.Slug,
			MetaTitle:       cr.MetaTitle,
			MetaDescription: cr.MetaDescription,
			FeaturedImage:   cr.FeaturedImage,
			CustomCode:      cr.CustomCode,
			UpdatedAt:       cr.UpdatedAt,
		}
		if cr.Content != "" {
			c.Content = json.RawMessage(cr.Content)
		}
		if cr.LocaleCode != "" || cr.LocaleName != "" {
			c.Locale = &conflict.Locale{ID: cr.LocaleID, Code: cr.LocaleCode, Name: cr.LocaleName}
		}
		rec.Contents = append(rec.Contents, c)
	}
	conflict.SortContentsByID(rec.Contents)
	return rec
}

func contentToRow(c conflict.LocalizedContent, now time.Time) ContentRow {
	row := ContentRow{
		LocaleID:        c.LocaleID,
		Title:           c.Title,
		Content:         string(c.Content),
		Slug:            c.Slug,
		MetaTitle:       c.MetaTitle,
		MetaDescription: c.MetaDescription,
		FeaturedImage:   c.FeaturedImage,
		CustomCode:      c.CustomCode,
		UpdatedAt:       now,
	}
	if c.Locale != nil {
		row.LocaleCode = c.Locale.Code
		row.LocaleName = c.Locale.Name
	}
	return row
}
