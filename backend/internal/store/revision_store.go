package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
)

// RevisionStore 追加记录的修订快照，审计用。
type RevisionStore struct{ db *sql.DB }

func NewRevisionStore(db *sql.DB) *RevisionStore {
	return &RevisionStore{db: db}
}

func (s *RevisionStore) SaveRevision(ctx context.Context, recordType string, recordID, revision uint64, modifiedBy, payload string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO record_revisions (record_type, record_id, revision, modified_by, payload)
		VALUES (?, ?, ?, ?, ?)`,
		recordType,
		recordID,
		revision,
		modifiedBy,
		payload,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		// 1062 = duplicate key：同一修订重复记录不算错
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return nil
		}
		return err
	}
	return nil
}
