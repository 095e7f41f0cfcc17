package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/novelshelf/internal/model"
)

// PostgresBookmarkRepo はPostgreSQLを使用したブックマークリポジトリ。
type PostgresBookmarkRepo struct {
	db *sql.DB
}

// NewPostgresBookmarkRepo はPostgresBookmarkRepoを生成する。
func NewPostgresBookmarkRepo(db *sql.DB) *PostgresBookmarkRepo {
	return &PostgresBookmarkRepo{db: db}
}

// Find はユーザーと作品のブックマークを取得する。見つからない場合はnilを返す。
func (r *PostgresBookmarkRepo) Find(ctx context.Context, userID, novelID string) (*model.Bookmark, error) {
	if !isUUID(userID) || !isUUID(novelID) {
		return nil, nil
	}
	b := &model.Bookmark{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, novel_id, created_at
		 FROM bookmarks
		 WHERE user_id = $1 AND novel_id = $2`,
		userID, novelID,
	).Scan(&b.ID, &b.UserID, &b.NovelID, &b.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapError("ブックマークの取得に失敗しました", err)
	}
	return b, nil
}

// Create はブックマークを作成する。
// (user_id, novel_id)の一意制約はデータベース側で保証する。
func (r *PostgresBookmarkRepo) Create(ctx context.Context, b *model.Bookmark) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO bookmarks (id, user_id, novel_id, created_at)
		 VALUES ($1, $2, $3, $4)`,
		b.ID, b.UserID, b.NovelID, b.CreatedAt,
	)
	return wrapError("ブックマークの作成に失敗しました", err)
}

// Delete はユーザーと作品のブックマークを削除する。
func (r *PostgresBookmarkRepo) Delete(ctx context.Context, userID, novelID string) error {
	if !isUUID(userID) || !isUUID(novelID) {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM bookmarks WHERE user_id = $1 AND novel_id = $2`,
		userID, novelID,
	)
	return wrapError("ブックマークの削除に失敗しました", err)
}

// ListByUserWithNovel はユーザーのブックマークを作品情報付きで返す。
// ChapterCountは呼び出し側で一括集計して埋める。
func (r *PostgresBookmarkRepo) ListByUserWithNovel(ctx context.Context, userID string) ([]model.BookmarkWithNovel, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT b.id, b.user_id, b.novel_id, b.created_at,
		        n.id, n.title, n.description, n.cover_image, n.genre, n.status,
		        n.source_feed_url, n.sync_status, n.consecutive_errors, n.sync_error, n.next_sync_at,
		        n.created_at, n.updated_at
		 FROM bookmarks b
		 INNER JOIN novels n ON n.id = b.novel_id
		 WHERE b.user_id = $1
		 ORDER BY b.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, wrapError("ブックマーク一覧の取得に失敗しました", err)
	}
	defer rows.Close()

	var result []model.BookmarkWithNovel
	for rows.Next() {
		var bw model.BookmarkWithNovel
		novel := &model.Novel{}
		var description, coverImage, genre, sourceFeedURL, syncError sql.NullString

		if err := rows.Scan(
			&bw.ID, &bw.UserID, &bw.NovelID, &bw.CreatedAt,
			&novel.ID, &novel.Title, &description, &coverImage, &genre, &novel.Status,
			&sourceFeedURL, &novel.SyncStatus, &novel.ConsecutiveErrors, &syncError, &novel.NextSyncAt,
			&novel.CreatedAt, &novel.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("ブックマークの読み取りに失敗しました: %w", err)
		}

		novel.Description = nullStringValue(description)
		novel.CoverImage = nullStringValue(coverImage)
		novel.Genre = nullStringValue(genre)
		novel.SourceFeedURL = nullStringValue(sourceFeedURL)
		novel.SyncError = nullStringValue(syncError)
		bw.Novel = novel

		result = append(result, bw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ブックマークの走査に失敗しました: %w", err)
	}
	return result, nil
}

// compile-time interface check
var _ BookmarkRepository = (*PostgresBookmarkRepo)(nil)
