package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/novelshelf/internal/model"
)

// PostgresChapterRepo はPostgreSQLを使用した章リポジトリ。
type PostgresChapterRepo struct {
	db *sql.DB
}

// NewPostgresChapterRepo はPostgresChapterRepoを生成する。
func NewPostgresChapterRepo(db *sql.DB) *PostgresChapterRepo {
	return &PostgresChapterRepo{db: db}
}

const chapterColumns = `id, novel_id, chapter_number, title, content, published_date, source_guid, created_at`

func scanChapter(row rowScanner) (*model.Chapter, error) {
	ch := &model.Chapter{}
	var guid sql.NullString
	if err := row.Scan(
		&ch.ID, &ch.NovelID, &ch.Number, &ch.Title, &ch.Content,
		&ch.PublishedDate, &guid, &ch.CreatedAt,
	); err != nil {
		return nil, err
	}
	ch.SourceGUID = nullStringValue(guid)
	return ch, nil
}

func (r *PostgresChapterRepo) findOne(ctx context.Context, op, query string, args ...any) (*model.Chapter, error) {
	ch, err := scanChapter(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapError(op, err)
	}
	return ch, nil
}

// ListByNovel は作品の章を章番号昇順で返す。
func (r *PostgresChapterRepo) ListByNovel(ctx context.Context, novelID string) ([]*model.Chapter, error) {
	if !isUUID(novelID) {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+chapterColumns+`
		 FROM chapters
		 WHERE novel_id = $1
		 ORDER BY chapter_number ASC, created_at ASC`,
		novelID,
	)
	if err != nil {
		return nil, wrapError("章一覧の取得に失敗しました", err)
	}
	defer rows.Close()

	var chapters []*model.Chapter
	for rows.Next() {
		ch, err := scanChapter(rows)
		if err != nil {
			return nil, fmt.Errorf("章の読み取りに失敗しました: %w", err)
		}
		chapters = append(chapters, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("章の走査に失敗しました: %w", err)
	}
	return chapters, nil
}

// FindByID は指定IDの章を取得する。見つからない場合はnilを返す。
func (r *PostgresChapterRepo) FindByID(ctx context.Context, id string) (*model.Chapter, error) {
	if !isUUID(id) {
		return nil, nil
	}
	return r.findOne(ctx, "章の取得に失敗しました",
		`SELECT `+chapterColumns+` FROM chapters WHERE id = $1`, id)
}

// Create は章を作成する。
func (r *PostgresChapterRepo) Create(ctx context.Context, ch *model.Chapter) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO chapters (id, novel_id, chapter_number, title, content, published_date, source_guid, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ch.ID, ch.NovelID, ch.Number, ch.Title, ch.Content,
		ch.PublishedDate, nullString(ch.SourceGUID), ch.CreatedAt,
	)
	return wrapError("章の作成に失敗しました", err)
}

// Update は章の編集可能項目を更新する。
func (r *PostgresChapterRepo) Update(ctx context.Context, ch *model.Chapter) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE chapters SET chapter_number = $2, title = $3, content = $4
		 WHERE id = $1`,
		ch.ID, ch.Number, ch.Title, ch.Content,
	)
	return wrapError("章の更新に失敗しました", err)
}

// Delete は章を削除する。
func (r *PostgresChapterRepo) Delete(ctx context.Context, id string) error {
	if !isUUID(id) {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM chapters WHERE id = $1`, id)
	return wrapError("章の削除に失敗しました", err)
}

// Count は全章数を返す。
func (r *PostgresChapterRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chapters`).Scan(&n); err != nil {
		return 0, wrapError("章数の取得に失敗しました", err)
	}
	return n, nil
}

// CountByNovelIDs は作品IDごとの章数をGROUP BYで一括集計する。
func (r *PostgresChapterRepo) CountByNovelIDs(ctx context.Context, novelIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(novelIDs))
	if len(novelIDs) == 0 {
		return counts, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT novel_id, COUNT(*)
		 FROM chapters
		 WHERE novel_id = ANY($1::uuid[])
		 GROUP BY novel_id`,
		pq.Array(novelIDs),
	)
	if err != nil {
		return nil, wrapError("章数の集計に失敗しました", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("章数の読み取りに失敗しました: %w", err)
		}
		counts[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("章数の走査に失敗しました: %w", err)
	}
	return counts, nil
}

// FindPrev は前の章を返す。存在しない場合はnil。
func (r *PostgresChapterRepo) FindPrev(ctx context.Context, novelID string, number int) (*model.Chapter, error) {
	return r.findOne(ctx, "前の章の取得に失敗しました",
		`SELECT `+chapterColumns+`
		 FROM chapters
		 WHERE novel_id = $1 AND chapter_number < $2
		 ORDER BY chapter_number DESC
		 LIMIT 1`,
		novelID, number)
}

// FindNext は次の章を返す。存在しない場合はnil。
func (r *PostgresChapterRepo) FindNext(ctx context.Context, novelID string, number int) (*model.Chapter, error) {
	return r.findOne(ctx, "次の章の取得に失敗しました",
		`SELECT `+chapterColumns+`
		 FROM chapters
		 WHERE novel_id = $1 AND chapter_number > $2
		 ORDER BY chapter_number ASC
		 LIMIT 1`,
		novelID, number)
}

// MaxNumber は作品内の最大章番号を返す。
func (r *PostgresChapterRepo) MaxNumber(ctx context.Context, novelID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(chapter_number), 0) FROM chapters WHERE novel_id = $1`, novelID,
	).Scan(&n)
	if err != nil {
		return 0, wrapError("最大章番号の取得に失敗しました", err)
	}
	return n, nil
}

// ExistsBySourceGUID は取り込み元GUIDの章が既に存在するかを返す。
func (r *PostgresChapterRepo) ExistsBySourceGUID(ctx context.Context, novelID, guid string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM chapters WHERE novel_id = $1 AND source_guid = $2)`,
		novelID, guid,
	).Scan(&exists)
	if err != nil {
		return false, wrapError("章の存在確認に失敗しました", err)
	}
	return exists, nil
}

// compile-time interface check
var _ ChapterRepository = (*PostgresChapterRepo)(nil)
