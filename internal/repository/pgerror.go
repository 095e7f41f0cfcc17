package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/novelshelf/internal/model"
)

// wrapError はドライバエラーをmodel.DataErrorに変換し、操作名を付けてラップする。
// pq.Error以外（接続断など）はそのままラップする。
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fmt.Errorf("%s: %w", op, &model.DataError{
			Code:    string(pqErr.Code),
			Message: pqErr.Message,
			Err:     err,
		})
	}

	return fmt.Errorf("%s: %w", op, err)
}

// isUUID はidがUUID形式かを返す。
// 形式が不正なIDは該当行なしとして扱い、データベースには問い合わせない。
func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}
