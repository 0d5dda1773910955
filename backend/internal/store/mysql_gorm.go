package store

import (
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func InitMySQL(dsn string) (*gorm.DB, error) {
	// TranslateError：把驱动的重复键错误翻译成 gorm.ErrDuplicatedKey
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}
	return db, nil
}

// AutoMigrate 建表：records / record_contents / users。
// record_revisions 用原生 SQL 维护（见 revision_store.go），也在这里一并建。
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&RecordRow{}, &ContentRow{}, &UserRow{}); err != nil {
		return err
	}
	return db.Exec(`CREATE TABLE IF NOT EXISTS record_revisions (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		record_type VARCHAR(32) NOT NULL,
		record_id BIGINT UNSIGNED NOT NULL,
		revision BIGINT UNSIGNED NOT NULL,
		modified_by VARCHAR(255) NOT NULL DEFAULT '',
		payload LONGTEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE KEY uniq_record_revision (record_type, record_id, revision)
	)`).Error
}
