package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hitoshi/novelshelf/internal/model"
)

// PostgresNovelRepo はPostgreSQLを使用した作品リポジトリ。
type PostgresNovelRepo struct {
	db *sql.DB
}

// NewPostgresNovelRepo はPostgresNovelRepoを生成する。
func NewPostgresNovelRepo(db *sql.DB) *PostgresNovelRepo {
	return &PostgresNovelRepo{db: db}
}

const novelColumns = `id, title, description, cover_image, genre, status,
	source_feed_url, sync_status, consecutive_errors, sync_error, next_sync_at,
	created_at, updated_at`

func scanNovel(row rowScanner) (*model.Novel, error) {
	novel := &model.Novel{}
	var description, coverImage, genre, sourceFeedURL, syncError sql.NullString

	if err := row.Scan(
		&novel.ID, &novel.Title, &description, &coverImage, &genre, &novel.Status,
		&sourceFeedURL, &novel.SyncStatus, &novel.ConsecutiveErrors, &syncError, &novel.NextSyncAt,
		&novel.CreatedAt, &novel.UpdatedAt,
	); err != nil {
		return nil, err
	}

	novel.Description = nullStringValue(description)
	novel.CoverImage = nullStringValue(coverImage)
	novel.Genre = nullStringValue(genre)
	novel.SourceFeedURL = nullStringValue(sourceFeedURL)
	novel.SyncError = nullStringValue(syncError)
	return novel, nil
}

func scanNovels(rows *sql.Rows) ([]*model.Novel, error) {
	defer rows.Close()

	var novels []*model.Novel
	for rows.Next() {
		novel, err := scanNovel(rows)
		if err != nil {
			return nil, fmt.Errorf("作品の読み取りに失敗しました: %w", err)
		}
		novels = append(novels, novel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("作品の走査に失敗しました: %w", err)
	}
	return novels, nil
}

// List は作品をcreated_at降順で返す。limitが0以下の場合は全件。
func (r *PostgresNovelRepo) List(ctx context.Context, limit int) ([]*model.Novel, error) {
	query := `SELECT ` + novelColumns + ` FROM novels ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapError("作品一覧の取得に失敗しました", err)
	}
	return scanNovels(rows)
}

// Search は作品を部分一致で検索する。LIKEのメタ文字はエスケープする。
func (r *PostgresNovelRepo) Search(ctx context.Context, query string) ([]*model.Novel, error) {
	pattern := "%" + likeEscaper.Replace(query) + "%"
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+novelColumns+`
		 FROM novels
		 WHERE title ILIKE $1 OR description ILIKE $1 OR genre ILIKE $1
		 ORDER BY created_at DESC`,
		pattern,
	)
	if err != nil {
		return nil, wrapError("作品の検索に失敗しました", err)
	}
	return scanNovels(rows)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// FindByID は指定IDの作品を取得する。見つからない場合はnilを返す。
func (r *PostgresNovelRepo) FindByID(ctx context.Context, id string) (*model.Novel, error) {
	if !isUUID(id) {
		return nil, nil
	}
	novel, err := scanNovel(r.db.QueryRowContext(ctx,
		`SELECT `+novelColumns+` FROM novels WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapError("作品の取得に失敗しました", err)
	}
	return novel, nil
}

// Create は作品を作成する。
func (r *PostgresNovelRepo) Create(ctx context.Context, novel *model.Novel) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO novels (id, title, description, cover_image, genre, status,
		                     source_feed_url, sync_status, next_sync_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		novel.ID, novel.Title, nullString(novel.Description), nullString(novel.CoverImage),
		nullString(novel.Genre), novel.Status, nullString(novel.SourceFeedURL),
		novel.SyncStatus, novel.NextSyncAt, novel.CreatedAt, novel.UpdatedAt,
	)
	return wrapError("作品の作成に失敗しました", err)
}

// Update は作品の編集可能項目を更新する。
func (r *PostgresNovelRepo) Update(ctx context.Context, novel *model.Novel) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE novels SET
		    title = $2,
		    description = $3,
		    cover_image = $4,
		    genre = $5,
		    status = $6,
		    source_feed_url = $7,
		    updated_at = $8
		 WHERE id = $1`,
		novel.ID, novel.Title, nullString(novel.Description), nullString(novel.CoverImage),
		nullString(novel.Genre), novel.Status, nullString(novel.SourceFeedURL), novel.UpdatedAt,
	)
	return wrapError("作品の更新に失敗しました", err)
}

// Delete は作品を削除する。
func (r *PostgresNovelRepo) Delete(ctx context.Context, id string) error {
	if !isUUID(id) {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM novels WHERE id = $1`, id)
	return wrapError("作品の削除に失敗しました", err)
}

// Count は作品数を返す。
func (r *PostgresNovelRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM novels`).Scan(&n); err != nil {
		return 0, wrapError("作品数の取得に失敗しました", err)
	}
	return n, nil
}

// ListDueForSync は同期対象の作品を取得する。
func (r *PostgresNovelRepo) ListDueForSync(ctx context.Context) ([]*model.Novel, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+novelColumns+`
		 FROM novels
		 WHERE source_feed_url IS NOT NULL
		   AND next_sync_at <= now()
		   AND sync_status IN ('active', 'error')
		 ORDER BY next_sync_at ASC`,
	)
	if err != nil {
		return nil, wrapError("同期対象作品の取得に失敗しました", err)
	}
	return scanNovels(rows)
}

// UpdateSyncState は作品の同期状態を更新する。
func (r *PostgresNovelRepo) UpdateSyncState(ctx context.Context, novel *model.Novel) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE novels SET
		    sync_status = $2,
		    consecutive_errors = $3,
		    sync_error = $4,
		    next_sync_at = $5
		 WHERE id = $1`,
		novel.ID,
		novel.SyncStatus,
		novel.ConsecutiveErrors,
		nullString(novel.SyncError),
		novel.NextSyncAt,
	)
	return wrapError("同期状態の更新に失敗しました", err)
}

// compile-time interface check
var _ NovelRepository = (*PostgresNovelRepo)(nil)
