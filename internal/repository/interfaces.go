// Package repository はデータ永続化のインターフェースを定義する。
// 読み取り系メソッドは対象が存在しない場合に (nil, nil) を返し、未検出をエラーとして扱わない。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/novelshelf/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// Create はユーザーを作成する。メールアドレス重複時は23505のDataErrorを返す。
	Create(ctx context.Context, user *model.User) error

	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// ConfirmByToken は確認トークンに一致する未確認ユーザーを確認済みにする。
	// 一致するユーザーがいない場合はnilを返す。
	ConfirmByToken(ctx context.Context, token string, at time.Time) (*model.User, error)

	// Count は全ユーザー数を返す。
	Count(ctx context.Context) (int, error)

	// CountCreatedSince はsince以降に登録されたユーザー数を返す。
	CountCreatedSince(ctx context.Context, since time.Time) (int, error)

	// RegistrationsSince はsince以降の登録数を日付ごとに集計して日付昇順で返す。
	RegistrationsSince(ctx context.Context, since time.Time) ([]model.RegistrationCount, error)
}

// SessionRepository はリフレッシュセッションの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// NovelRepository は作品データの永続化インターフェース。
type NovelRepository interface {
	// List は作品をcreated_at降順で返す。limitが0以下の場合は全件。
	List(ctx context.Context, limit int) ([]*model.Novel, error)

	// Search はタイトル・あらすじ・ジャンルの部分一致（大文字小文字を区別しない）で
	// 作品を検索し、created_at降順で返す。
	Search(ctx context.Context, query string) ([]*model.Novel, error)

	// FindByID は指定IDの作品を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Novel, error)

	// Create は作品を作成する。
	Create(ctx context.Context, novel *model.Novel) error

	// Update は作品の編集可能項目を更新する。
	Update(ctx context.Context, novel *model.Novel) error

	// Delete は作品を削除する。章とブックマークはCASCADE削除される。
	Delete(ctx context.Context, id string) error

	// Count は作品数を返す。
	Count(ctx context.Context) (int, error)

	// ListDueForSync は取り込み元フィードが設定され、next_sync_at <= now() かつ
	// 同期が停止されていない（activeまたはerror）作品を返す。
	ListDueForSync(ctx context.Context) ([]*model.Novel, error)

	// UpdateSyncState は作品の同期状態を更新する。
	UpdateSyncState(ctx context.Context, novel *model.Novel) error
}

// ChapterRepository は章データの永続化インターフェース。
type ChapterRepository interface {
	// ListByNovel は作品の章を章番号昇順で返す。
	ListByNovel(ctx context.Context, novelID string) ([]*model.Chapter, error)

	// FindByID は指定IDの章を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Chapter, error)

	// Create は章を作成する。
	Create(ctx context.Context, chapter *model.Chapter) error

	// Update は章の編集可能項目を更新する。
	Update(ctx context.Context, chapter *model.Chapter) error

	// Delete は章を削除する。
	Delete(ctx context.Context, id string) error

	// Count は全章数を返す。
	Count(ctx context.Context) (int, error)

	// CountByNovelIDs は作品IDごとの章数を1クエリで集計する。
	// 章がない作品はマップに含まれない。
	CountByNovelIDs(ctx context.Context, novelIDs []string) (map[string]int, error)

	// FindPrev は同一作品内でnumberより小さい最大の章番号の章を返す。
	FindPrev(ctx context.Context, novelID string, number int) (*model.Chapter, error)

	// FindNext は同一作品内でnumberより大きい最小の章番号の章を返す。
	FindNext(ctx context.Context, novelID string, number int) (*model.Chapter, error)

	// MaxNumber は作品内の最大章番号を返す。章がない場合は0。
	MaxNumber(ctx context.Context, novelID string) (int, error)

	// ExistsBySourceGUID は取り込み元GUIDの章が既に存在するかを返す。
	ExistsBySourceGUID(ctx context.Context, novelID, guid string) (bool, error)
}

// BookmarkRepository はブックマークの永続化インターフェース。
type BookmarkRepository interface {
	// Find はユーザーと作品のブックマークを取得する。見つからない場合はnilを返す。
	Find(ctx context.Context, userID, novelID string) (*model.Bookmark, error)

	// Create はブックマークを作成する。重複時は23505のDataErrorを返す。
	Create(ctx context.Context, bookmark *model.Bookmark) error

	// Delete はユーザーと作品のブックマークを削除する。
	Delete(ctx context.Context, userID, novelID string) error

	// ListByUserWithNovel はユーザーのブックマークを作品情報付きでcreated_at降順に返す。
	ListByUserWithNovel(ctx context.Context, userID string) ([]model.BookmarkWithNovel, error)
}
