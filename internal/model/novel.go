package model

import "time"

// NovelStatus は作品の連載状態を表す。
type NovelStatus string

const (
	// NovelStatusOngoing は連載中。
	NovelStatusOngoing NovelStatus = "ongoing"
	// NovelStatusCompleted は完結済み。
	NovelStatusCompleted NovelStatus = "completed"
	// NovelStatusHiatus は休載中。
	NovelStatusHiatus NovelStatus = "hiatus"
)

// ValidNovelStatus はstatusが既知の値かどうかを返す。
func ValidNovelStatus(s NovelStatus) bool {
	switch s {
	case NovelStatusOngoing, NovelStatusCompleted, NovelStatusHiatus:
		return true
	}
	return false
}

// SyncStatus は取り込み元フィードの同期状態を表す。
type SyncStatus string

const (
	// SyncStatusActive は定期同期の対象。
	SyncStatusActive SyncStatus = "active"
	// SyncStatusStopped は同期停止（404/410等）。
	SyncStatusStopped SyncStatus = "stopped"
	// SyncStatusError はエラーが続いている状態。
	SyncStatusError SyncStatus = "error"
)

// Novel は連載作品を表す。
// Description、CoverImage、Genre、SourceFeedURLは任意項目で、未設定は空文字列。
type Novel struct {
	ID          string
	Title       string
	Description string
	CoverImage  string
	Genre       string
	Status      NovelStatus

	SourceFeedURL     string
	SyncStatus        SyncStatus
	ConsecutiveErrors int
	SyncError         string
	NextSyncAt        time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NovelWithCount は章数付きの作品を表す。
type NovelWithCount struct {
	*Novel
	ChapterCount int
}

// Chapter は作品の章を表す。
// Numberは作品内の並び順で、連番や一意性は保証しない。
type Chapter struct {
	ID            string
	NovelID       string
	Number        int
	Title         string
	Content       string
	PublishedDate time.Time
	SourceGUID    string
	CreatedAt     time.Time
}

// Bookmark はユーザーと作品のブックマーク関係を表す。
type Bookmark struct {
	ID        string
	UserID    string
	NovelID   string
	CreatedAt time.Time
}

// BookmarkWithNovel は作品情報付きのブックマークを表す。
type BookmarkWithNovel struct {
	Bookmark
	Novel        *Novel
	ChapterCount int
}

// DashboardStats は管理画面の集計値を表す。
type DashboardStats struct {
	TotalUsers    int
	TotalNovels   int
	TotalChapters int
	RecentUsers   int
	AvgChapters   float64
	Registrations []RegistrationCount
}
