package library

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/novelshelf/internal/model"
	"github.com/hitoshi/novelshelf/internal/repository"
	"github.com/hitoshi/novelshelf/internal/testkit/repofakes"
)

// racingBookmarks は確認後に別リクエストが先に登録した状態を再現する。
type racingBookmarks struct {
	repository.BookmarkRepository
	findFn   func(ctx context.Context, userID, novelID string) (*model.Bookmark, error)
	createFn func(ctx context.Context, b *model.Bookmark) error
}

func (m *racingBookmarks) Find(ctx context.Context, userID, novelID string) (*model.Bookmark, error) {
	return m.findFn(ctx, userID, novelID)
}

func (m *racingBookmarks) Create(ctx context.Context, b *model.Bookmark) error {
	return m.createFn(ctx, b)
}

func newFixture() (*Service, *repofakes.BookmarkStore) {
	novels := repofakes.NewNovelStore(
		&model.Novel{ID: "n1", Title: "竜の旅", CreatedAt: time.Now()},
		&model.Novel{ID: "n2", Title: "星の海", CreatedAt: time.Now()},
	)
	chapters := repofakes.NewChapterStore(&model.Chapter{ID: "c1", NovelID: "n1", Number: 1})
	bookmarks := repofakes.NewBookmarkStore(novels, chapters)
	return NewService(bookmarks, novels), bookmarks
}

func TestToggle_AddThenRemove(t *testing.T) {
	svc, store := newFixture()
	ctx := context.Background()

	on, err := svc.Toggle(ctx, "u1", "n1")
	if err != nil || !on {
		t.Fatalf("first toggle = %v, %v; want true, nil", on, err)
	}
	if len(store.Bookmarks) != 1 {
		t.Fatalf("bookmarks = %d, want 1", len(store.Bookmarks))
	}

	marked, err := svc.IsBookmarked(ctx, "u1", "n1")
	if err != nil || !marked {
		t.Errorf("IsBookmarked = %v, %v", marked, err)
	}

	off, err := svc.Toggle(ctx, "u1", "n1")
	if err != nil || off {
		t.Fatalf("second toggle = %v, %v; want false, nil", off, err)
	}
	if len(store.Bookmarks) != 0 {
		t.Errorf("bookmarks = %d, want 0", len(store.Bookmarks))
	}
}

func TestToggle_RequiresUser(t *testing.T) {
	svc, _ := newFixture()

	_, err := svc.Toggle(context.Background(), "", "n1")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeUnauthenticated {
		t.Errorf("err = %v, want UNAUTHENTICATED", err)
	}
}

func TestToggle_UnknownNovel(t *testing.T) {
	svc, store := newFixture()

	_, err := svc.Toggle(context.Background(), "u1", "missing")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeNovelNotFound {
		t.Errorf("err = %v, want NOVEL_NOT_FOUND", err)
	}
	if len(store.Bookmarks) != 0 {
		t.Error("no bookmark should be created")
	}
}

func TestToggle_ConcurrentInsertCountsAsBookmarked(t *testing.T) {
	novels := repofakes.NewNovelStore(&model.Novel{ID: "n1", Title: "竜の旅"})
	bookmarks := &racingBookmarks{
		findFn: func(context.Context, string, string) (*model.Bookmark, error) { return nil, nil },
		createFn: func(context.Context, *model.Bookmark) error {
			return &model.DataError{Code: model.DataCodeUniqueViolation, Message: "duplicate key"}
		},
	}
	svc := NewService(bookmarks, novels)

	on, err := svc.Toggle(context.Background(), "u1", "n1")
	if err != nil || !on {
		t.Errorf("Toggle = %v, %v; want true, nil", on, err)
	}
}

func TestIsBookmarked_NotFoundIsFalse(t *testing.T) {
	bookmarks := &racingBookmarks{
		findFn: func(context.Context, string, string) (*model.Bookmark, error) {
			return nil, &model.DataError{Code: model.DataCodeNotFound}
		},
	}
	svc := NewService(bookmarks, repofakes.NewNovelStore())

	marked, err := svc.IsBookmarked(context.Background(), "u1", "n1")
	if err != nil || marked {
		t.Errorf("IsBookmarked = %v, %v; want false, nil", marked, err)
	}

	marked, err = svc.IsBookmarked(context.Background(), "", "n1")
	if err != nil || marked {
		t.Errorf("anonymous IsBookmarked = %v, %v; want false, nil", marked, err)
	}
}

func TestIsBookmarked_OtherErrorPropagates(t *testing.T) {
	bookmarks := &racingBookmarks{
		findFn: func(context.Context, string, string) (*model.Bookmark, error) {
			return nil, &model.DataError{Code: model.DataCodeInsufficientPriv}
		},
	}
	svc := NewService(bookmarks, repofakes.NewNovelStore())

	if _, err := svc.IsBookmarked(context.Background(), "u1", "n1"); model.DataErrorCode(err) != model.DataCodeInsufficientPriv {
		t.Errorf("err = %v, want 42501", err)
	}
}

func TestList_NewestFirstWithNovel(t *testing.T) {
	svc, store := newFixture()
	now := time.Now()
	store.Bookmarks["b1"] = &model.Bookmark{ID: "b1", UserID: "u1", NovelID: "n1", CreatedAt: now.Add(-time.Hour)}
	store.Bookmarks["b2"] = &model.Bookmark{ID: "b2", UserID: "u1", NovelID: "n2", CreatedAt: now}
	store.Bookmarks["b3"] = &model.Bookmark{ID: "b3", UserID: "u2", NovelID: "n1", CreatedAt: now}

	items, err := svc.List(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len = %d, want 2", len(items))
	}
	if items[0].Novel.ID != "n2" || items[1].Novel.ID != "n1" {
		t.Errorf("order = %s, %s", items[0].Novel.ID, items[1].Novel.ID)
	}
	if items[1].ChapterCount != 1 {
		t.Errorf("ChapterCount = %d, want 1", items[1].ChapterCount)
	}
}
