// Package repofakes はテスト用のインメモリリポジトリを提供する。
// 一意制約などデータベース側の制約は、PostgreSQLと同じSQLSTATEのDataErrorで再現する。
package repofakes

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/novelshelf/internal/model"
	"github.com/hitoshi/novelshelf/internal/repository"
)

func uniqueViolation(msg string) error {
	return &model.DataError{Code: model.DataCodeUniqueViolation, Message: msg}
}

// NovelStore はNovelRepositoryのインメモリ実装。
type NovelStore struct {
	mu     sync.Mutex
	Novels map[string]*model.Novel
	Err    error // 設定されている場合、全メソッドがこのエラーを返す

	SyncUpdates int
}

// NewNovelStore はNovelStoreを生成する。
func NewNovelStore(novels ...*model.Novel) *NovelStore {
	s := &NovelStore{Novels: make(map[string]*model.Novel)}
	for _, n := range novels {
		s.Novels[n.ID] = n
	}
	return s
}

func (s *NovelStore) sorted() []*model.Novel {
	out := make([]*model.Novel, 0, len(s.Novels))
	for _, n := range s.Novels {
		cp := *n
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *NovelStore) List(_ context.Context, limit int) ([]*model.Novel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := s.sorted()
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *NovelStore) Search(_ context.Context, query string) ([]*model.Novel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	q := strings.ToLower(query)
	var out []*model.Novel
	for _, n := range s.sorted() {
		for _, field := range []string{n.Title, n.Description, n.Genre} {
			if strings.Contains(strings.ToLower(field), q) {
				out = append(out, n)
				break
			}
		}
	}
	return out, nil
}

func (s *NovelStore) FindByID(_ context.Context, id string) (*model.Novel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	n, ok := s.Novels[id]
	if !ok {
		return nil, nil
	}
	cp := *n
	return &cp, nil
}

func (s *NovelStore) Create(_ context.Context, novel *model.Novel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if _, ok := s.Novels[novel.ID]; ok {
		return uniqueViolation("duplicate novel id")
	}
	cp := *novel
	s.Novels[novel.ID] = &cp
	return nil
}

func (s *NovelStore) Update(_ context.Context, novel *model.Novel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	cur, ok := s.Novels[novel.ID]
	if !ok {
		return nil
	}
	cur.Title = novel.Title
	cur.Description = novel.Description
	cur.CoverImage = novel.CoverImage
	cur.Genre = novel.Genre
	cur.Status = novel.Status
	cur.SourceFeedURL = novel.SourceFeedURL
	cur.UpdatedAt = novel.UpdatedAt
	return nil
}

func (s *NovelStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	delete(s.Novels, id)
	return nil
}

func (s *NovelStore) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	return len(s.Novels), nil
}

func (s *NovelStore) ListDueForSync(_ context.Context) ([]*model.Novel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	now := time.Now()
	var out []*model.Novel
	for _, n := range s.sorted() {
		if n.SourceFeedURL != "" && n.SyncStatus != model.SyncStatusStopped && !n.NextSyncAt.After(now) {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].NextSyncAt.Before(out[j].NextSyncAt) })
	return out, nil
}

func (s *NovelStore) UpdateSyncState(_ context.Context, novel *model.Novel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.SyncUpdates++
	cur, ok := s.Novels[novel.ID]
	if !ok {
		return nil
	}
	cur.SyncStatus = novel.SyncStatus
	cur.ConsecutiveErrors = novel.ConsecutiveErrors
	cur.SyncError = novel.SyncError
	cur.NextSyncAt = novel.NextSyncAt
	return nil
}

// Get はテストの検証用に保存済みの作品を返す。
func (s *NovelStore) Get(id string) *model.Novel {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.Novels[id]
	if !ok {
		return nil
	}
	cp := *n
	return &cp
}

// ChapterStore はChapterRepositoryのインメモリ実装。
type ChapterStore struct {
	mu       sync.Mutex
	Chapters map[string]*model.Chapter
	Err      error

	CountQueries int // CountByNovelIDsの呼び出し回数
}

// NewChapterStore はChapterStoreを生成する。
func NewChapterStore(chapters ...*model.Chapter) *ChapterStore {
	s := &ChapterStore{Chapters: make(map[string]*model.Chapter)}
	for _, c := range chapters {
		s.Chapters[c.ID] = c
	}
	return s
}

func (s *ChapterStore) byNovel(novelID string) []*model.Chapter {
	var out []*model.Chapter
	for _, c := range s.Chapters {
		if c.NovelID == novelID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Number == out[j].Number {
			return out[i].ID < out[j].ID
		}
		return out[i].Number < out[j].Number
	})
	return out
}

func (s *ChapterStore) ListByNovel(_ context.Context, novelID string) ([]*model.Chapter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	return s.byNovel(novelID), nil
}

func (s *ChapterStore) FindByID(_ context.Context, id string) (*model.Chapter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	c, ok := s.Chapters[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *ChapterStore) Create(_ context.Context, ch *model.Chapter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if ch.SourceGUID != "" {
		for _, c := range s.Chapters {
			if c.NovelID == ch.NovelID && c.SourceGUID == ch.SourceGUID {
				return uniqueViolation("duplicate source guid")
			}
		}
	}
	cp := *ch
	s.Chapters[ch.ID] = &cp
	return nil
}

func (s *ChapterStore) Update(_ context.Context, ch *model.Chapter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if cur, ok := s.Chapters[ch.ID]; ok {
		cur.Number = ch.Number
		cur.Title = ch.Title
		cur.Content = ch.Content
	}
	return nil
}

func (s *ChapterStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	delete(s.Chapters, id)
	return nil
}

func (s *ChapterStore) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	return len(s.Chapters), nil
}

func (s *ChapterStore) CountByNovelIDs(_ context.Context, novelIDs []string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	s.CountQueries++
	want := make(map[string]bool, len(novelIDs))
	for _, id := range novelIDs {
		want[id] = true
	}
	counts := make(map[string]int)
	for _, c := range s.Chapters {
		if want[c.NovelID] {
			counts[c.NovelID]++
		}
	}
	return counts, nil
}

func (s *ChapterStore) FindPrev(_ context.Context, novelID string, number int) (*model.Chapter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var found *model.Chapter
	for _, c := range s.byNovel(novelID) {
		if c.Number < number {
			found = c
		}
	}
	return found, nil
}

func (s *ChapterStore) FindNext(_ context.Context, novelID string, number int) (*model.Chapter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for _, c := range s.byNovel(novelID) {
		if c.Number > number {
			return c, nil
		}
	}
	return nil, nil
}

func (s *ChapterStore) MaxNumber(_ context.Context, novelID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	max := 0
	for _, c := range s.Chapters {
		if c.NovelID == novelID && c.Number > max {
			max = c.Number
		}
	}
	return max, nil
}

func (s *ChapterStore) ExistsBySourceGUID(_ context.Context, novelID, guid string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	for _, c := range s.Chapters {
		if c.NovelID == novelID && c.SourceGUID == guid {
			return true, nil
		}
	}
	return false, nil
}

// ForNovel はテストの検証用に作品の章を章番号順で返す。
func (s *ChapterStore) ForNovel(novelID string) []*model.Chapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byNovel(novelID)
}

// BookmarkStore はBookmarkRepositoryのインメモリ実装。
// ListByUserWithNovelのために作品と章のストアを参照する。
type BookmarkStore struct {
	mu        sync.Mutex
	Bookmarks map[string]*model.Bookmark
	Err       error

	novels   *NovelStore
	chapters *ChapterStore
}

// NewBookmarkStore はBookmarkStoreを生成する。
func NewBookmarkStore(novels *NovelStore, chapters *ChapterStore) *BookmarkStore {
	return &BookmarkStore{
		Bookmarks: make(map[string]*model.Bookmark),
		novels:    novels,
		chapters:  chapters,
	}
}

func (s *BookmarkStore) Find(_ context.Context, userID, novelID string) (*model.Bookmark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for _, b := range s.Bookmarks {
		if b.UserID == userID && b.NovelID == novelID {
			cp := *b
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *BookmarkStore) Create(_ context.Context, b *model.Bookmark) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for _, cur := range s.Bookmarks {
		if cur.UserID == b.UserID && cur.NovelID == b.NovelID {
			return uniqueViolation("duplicate bookmark")
		}
	}
	cp := *b
	s.Bookmarks[b.ID] = &cp
	return nil
}

func (s *BookmarkStore) Delete(_ context.Context, userID, novelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for id, b := range s.Bookmarks {
		if b.UserID == userID && b.NovelID == novelID {
			delete(s.Bookmarks, id)
		}
	}
	return nil
}

func (s *BookmarkStore) ListByUserWithNovel(ctx context.Context, userID string) ([]model.BookmarkWithNovel, error) {
	s.mu.Lock()
	if s.Err != nil {
		s.mu.Unlock()
		return nil, s.Err
	}
	var mine []model.Bookmark
	for _, b := range s.Bookmarks {
		if b.UserID == userID {
			mine = append(mine, *b)
		}
	}
	s.mu.Unlock()

	sort.SliceStable(mine, func(i, j int) bool { return mine[i].CreatedAt.After(mine[j].CreatedAt) })

	out := make([]model.BookmarkWithNovel, 0, len(mine))
	for _, b := range mine {
		n := s.novels.Get(b.NovelID)
		if n == nil {
			continue
		}
		out = append(out, model.BookmarkWithNovel{
			Bookmark:     b,
			Novel:        n,
			ChapterCount: len(s.chapters.ForNovel(b.NovelID)),
		})
	}
	return out, nil
}

// UserStore はUserRepositoryのインメモリ実装。
type UserStore struct {
	mu    sync.Mutex
	Users map[string]*model.User
	Err   error
}

// NewUserStore はUserStoreを生成する。
func NewUserStore(users ...*model.User) *UserStore {
	s := &UserStore{Users: make(map[string]*model.User)}
	for _, u := range users {
		s.Users[u.ID] = u
	}
	return s
}

func (s *UserStore) Create(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for _, u := range s.Users {
		if strings.EqualFold(u.Email, user.Email) {
			return uniqueViolation("duplicate email")
		}
	}
	cp := *user
	s.Users[user.ID] = &cp
	return nil
}

func (s *UserStore) FindByID(_ context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	u, ok := s.Users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *UserStore) FindByEmail(_ context.Context, email string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for _, u := range s.Users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *UserStore) ConfirmByToken(_ context.Context, token string, at time.Time) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for _, u := range s.Users {
		if u.ConfirmationToken == token && u.EmailConfirmedAt == nil {
			confirmed := at
			u.EmailConfirmedAt = &confirmed
			u.ConfirmationToken = ""
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *UserStore) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	return len(s.Users), nil
}

func (s *UserStore) CountCreatedSince(_ context.Context, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	n := 0
	for _, u := range s.Users {
		if !u.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *UserStore) RegistrationsSince(_ context.Context, since time.Time) ([]model.RegistrationCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	byDate := make(map[string]int)
	for _, u := range s.Users {
		if !u.CreatedAt.Before(since) {
			byDate[u.CreatedAt.UTC().Format(time.DateOnly)]++
		}
	}
	out := make([]model.RegistrationCount, 0, len(byDate))
	for d, n := range byDate {
		out = append(out, model.RegistrationCount{Date: d, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// SessionStore はSessionRepositoryのインメモリ実装。
type SessionStore struct {
	mu       sync.Mutex
	Sessions map[string]*model.Session
	Err      error
}

// NewSessionStore はSessionStoreを生成する。
func NewSessionStore() *SessionStore {
	return &SessionStore{Sessions: make(map[string]*model.Session)}
}

func (s *SessionStore) Create(_ context.Context, session *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	cp := *session
	s.Sessions[session.ID] = &cp
	return nil
}

func (s *SessionStore) FindByID(_ context.Context, id string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	sess, ok := s.Sessions[id]
	if !ok || sess.ExpiresAt.Before(time.Now()) {
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

func (s *SessionStore) DeleteByID(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	delete(s.Sessions, id)
	return nil
}

func (s *SessionStore) DeleteByUserID(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for id, sess := range s.Sessions {
		if sess.UserID == userID {
			delete(s.Sessions, id)
		}
	}
	return nil
}

var (
	_ repository.NovelRepository    = (*NovelStore)(nil)
	_ repository.ChapterRepository  = (*ChapterStore)(nil)
	_ repository.BookmarkRepository = (*BookmarkStore)(nil)
	_ repository.UserRepository     = (*UserStore)(nil)
	_ repository.SessionRepository  = (*SessionStore)(nil)
)
