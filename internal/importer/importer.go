// Package importer はRSS/Atomフィードから章を取り込む。
// 管理画面からの手動取り込みと、ワーカーによる定期同期の両方で使う。
package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/novelshelf/internal/model"
	"github.com/hitoshi/novelshelf/internal/repository"
	"github.com/hitoshi/novelshelf/internal/security"
)

const (
	userAgent    = "Novelshelf/1.0 Feed Importer"
	acceptHeader = "application/rss+xml, application/atom+xml, application/xml, text/xml, text/html, */*"
)

// FetchError はフィード取得の失敗を表す。StatusCodeが0の場合は通信エラー。
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError はフィードの解析失敗を表す。
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Recorder は取り込み結果のメトリクス記録先。
type Recorder interface {
	RecordChaptersImported(count int)
	RecordFetchLatency(duration time.Duration)
}

// Config はImporterの設定を保持する。
type Config struct {
	Timeout      time.Duration
	MaxBodySize  int64
	SyncInterval time.Duration // 取り込み成功後、次の定期同期までの間隔
}

// Result は1回の取り込み結果。
type Result struct {
	FeedURL  string
	Imported int
	Skipped  int
}

// Option はImporterの生成オプション。
type Option func(*Importer)

// WithHTTPClient はフィード取得に使うHTTPクライアントを差し替える。
func WithHTTPClient(c *http.Client) Option {
	return func(i *Importer) { i.client = c }
}

// WithRecorder はメトリクスの記録先を設定する。
func WithRecorder(r Recorder) Option {
	return func(i *Importer) { i.recorder = r }
}

// Importer はフィードの検出・取得・解析と章の保存を行う。
type Importer struct {
	novels    repository.NovelRepository
	chapters  repository.ChapterRepository
	guard     security.URLGuard
	sanitizer security.ContentSanitizer
	client    *http.Client
	config    Config
	recorder  Recorder
	logger    *slog.Logger
	now       func() time.Time
}

// New はImporterを生成する。HTTPクライアントはURLGuardのSSRF対策済みクライアントを使う。
func New(
	novels repository.NovelRepository,
	chapters repository.ChapterRepository,
	guard security.URLGuard,
	sanitizer security.ContentSanitizer,
	config Config,
	logger *slog.Logger,
	opts ...Option,
) *Importer {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = 5 * 1024 * 1024
	}
	if config.SyncInterval <= 0 {
		config.SyncInterval = 15 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	i := &Importer{
		novels:    novels,
		chapters:  chapters,
		guard:     guard,
		sanitizer: sanitizer,
		config:    config,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.client == nil {
		i.client = guard.NewSafeClient(config.Timeout)
	}
	return i
}

// Import は入力URL（フィードまたはフィードを案内するHTMLページ）から章を取り込み、
// 検出したフィードURLを作品の取り込み元として保存する。
// inputURLが空の場合は作品に設定済みの取り込み元を使う。
func (i *Importer) Import(ctx context.Context, novelID, inputURL string) (*Result, error) {
	novel, err := i.novels.FindByID(ctx, novelID)
	if err != nil {
		return nil, err
	}
	if novel == nil {
		return nil, model.NewNovelNotFoundError(novelID)
	}

	inputURL = strings.TrimSpace(inputURL)
	if inputURL == "" {
		if novel.SourceFeedURL == "" {
			return nil, model.NewNoSourceFeedError()
		}
		inputURL = novel.SourceFeedURL
	}
	if err := i.checkURL(inputURL); err != nil {
		return nil, err
	}

	feedURL, feed, err := i.resolve(ctx, inputURL)
	if err != nil {
		return nil, err
	}

	result, err := i.importEntries(ctx, novel, feed.Items)
	if err != nil {
		return nil, err
	}
	result.FeedURL = feedURL

	if novel.SourceFeedURL != feedURL {
		novel.SourceFeedURL = feedURL
		novel.UpdatedAt = i.now()
		if err := i.novels.Update(ctx, novel); err != nil {
			return nil, err
		}
	}
	novel.SyncStatus = model.SyncStatusActive
	novel.ConsecutiveErrors = 0
	novel.SyncError = ""
	novel.NextSyncAt = i.now().Add(i.config.SyncInterval)
	if err := i.novels.UpdateSyncState(ctx, novel); err != nil {
		return nil, err
	}

	i.logger.Info("imported chapters",
		slog.String("novel_id", novel.ID),
		slog.String("feed_url", feedURL),
		slog.Int("imported", result.Imported),
		slog.Int("skipped", result.Skipped),
	)
	return result, nil
}

// Sync は作品の取り込み元フィードを取得し、未取り込みのエントリーを章として保存する。
// 作品の同期状態は更新しない（呼び出し側の責務）。
// 失敗時は*FetchErrorまたは*ParseErrorを返す。
func (i *Importer) Sync(ctx context.Context, novel *model.Novel) (*Result, error) {
	if novel.SourceFeedURL == "" {
		return nil, model.NewNoSourceFeedError()
	}

	_, body, err := i.fetch(ctx, novel.SourceFeedURL)
	if err != nil {
		return nil, err
	}
	feed, err := parseFeed(novel.SourceFeedURL, body)
	if err != nil {
		return nil, err
	}

	result, err := i.importEntries(ctx, novel, feed.Items)
	if err != nil {
		return nil, err
	}
	result.FeedURL = novel.SourceFeedURL
	return result, nil
}

func (i *Importer) checkURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return model.NewInvalidURLError(rawURL)
	}
	if err := i.guard.ValidateURL(rawURL); err != nil {
		return model.NewSSRFBlockedError()
	}
	return nil
}

// resolve は入力URLを取得し、フィードそのものならそれを、HTMLなら案内されているフィードを返す。
func (i *Importer) resolve(ctx context.Context, inputURL string) (string, *gofeed.Feed, error) {
	contentType, body, err := i.fetch(ctx, inputURL)
	if err != nil {
		return "", nil, toAPIError(err)
	}

	if IsDirectFeed(contentType, body) {
		feed, err := parseFeed(inputURL, body)
		if err != nil {
			return "", nil, toAPIError(err)
		}
		return inputURL, feed, nil
	}

	if !strings.Contains(mediaTypeOf(contentType), "html") {
		// Content-Typeが不正確なフィードもあるので最後に解析を試みる
		if feed, err := parseFeed(inputURL, body); err == nil {
			return inputURL, feed, nil
		}
		return "", nil, model.NewFeedNotDetectedError(inputURL)
	}

	best := SelectBestFeed(ParseFeedLinks(body, inputURL), inputURL)
	if best == nil {
		return "", nil, model.NewFeedNotDetectedError(inputURL)
	}
	if err := i.checkURL(best.URL); err != nil {
		return "", nil, err
	}

	_, body, err = i.fetch(ctx, best.URL)
	if err != nil {
		return "", nil, toAPIError(err)
	}
	feed, err := parseFeed(best.URL, body)
	if err != nil {
		return "", nil, toAPIError(err)
	}
	return best.URL, feed, nil
}

func (i *Importer) fetch(ctx context.Context, rawURL string) (string, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, i.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", nil, &FetchError{URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", acceptHeader)

	start := i.now()
	resp, err := i.client.Do(req)
	if i.recorder != nil {
		i.recorder.RecordFetchLatency(time.Since(start))
	}
	if err != nil {
		return "", nil, &FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, i.config.MaxBodySize))
	if err != nil {
		return "", nil, &FetchError{URL: rawURL, Err: err}
	}
	return resp.Header.Get("Content-Type"), body, nil
}

func parseFeed(rawURL string, body []byte) (*gofeed.Feed, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, &ParseError{URL: rawURL, Err: err}
	}
	return feed, nil
}

// toAPIError は取得・解析の失敗を画面表示用のエラーに変換する。
func toAPIError(err error) error {
	var fe *FetchError
	if errors.As(err, &fe) {
		if fe.StatusCode != 0 {
			return model.NewFetchFailedError(fmt.Sprintf("HTTPステータス %d", fe.StatusCode))
		}
		return model.NewFetchFailedError(fe.Err.Error())
	}
	var pe *ParseError
	if errors.As(err, &pe) {
		return model.NewParseFailedError()
	}
	return err
}

// importEntries はエントリーを古い順に並べ、既存の最大章番号の続きから保存する。
// 取り込み済みのGUIDと本文が空のエントリーはスキップする。
func (i *Importer) importEntries(ctx context.Context, novel *model.Novel, items []*gofeed.Item) (*Result, error) {
	items = oldestFirst(items)
	result := &Result{}

	next, err := i.chapters.MaxNumber(ctx, novel.ID)
	if err != nil {
		return nil, err
	}

	for _, item := range items {
		guid := item.GUID
		if guid == "" {
			guid = item.Link
		}
		if guid != "" {
			exists, err := i.chapters.ExistsBySourceGUID(ctx, novel.ID, guid)
			if err != nil {
				return nil, err
			}
			if exists {
				result.Skipped++
				continue
			}
		}

		raw := item.Content
		if raw == "" {
			raw = item.Description
		}
		content := i.sanitizer.ToPlainText(raw)
		if content == "" {
			result.Skipped++
			continue
		}

		next++
		title := strings.TrimSpace(item.Title)
		if title == "" {
			title = fmt.Sprintf("第%d話", next)
		}

		now := i.now()
		published := now
		switch {
		case item.PublishedParsed != nil:
			published = *item.PublishedParsed
		case item.UpdatedParsed != nil:
			published = *item.UpdatedParsed
		}

		ch := &model.Chapter{
			ID:            uuid.New().String(),
			NovelID:       novel.ID,
			Number:        next,
			Title:         title,
			Content:       content,
			PublishedDate: published,
			SourceGUID:    guid,
			CreatedAt:     now,
		}
		if err := i.chapters.Create(ctx, ch); err != nil {
			// 並行する同期と競合した場合は一意制約で弾かれる
			if model.DataErrorCode(err) == model.DataCodeUniqueViolation {
				next--
				result.Skipped++
				continue
			}
			return nil, err
		}
		result.Imported++
	}

	if i.recorder != nil && result.Imported > 0 {
		i.recorder.RecordChaptersImported(result.Imported)
	}
	return result, nil
}

// oldestFirst は全エントリーに日時があれば日時順、なければフィードの逆順（新しい順の想定）に並べる。
func oldestFirst(items []*gofeed.Item) []*gofeed.Item {
	out := make([]*gofeed.Item, 0, len(items))
	for _, it := range items {
		if it != nil {
			out = append(out, it)
		}
	}

	dated := true
	for _, it := range out {
		if itemTime(it) == nil {
			dated = false
			break
		}
	}

	if dated {
		sort.SliceStable(out, func(a, b int) bool {
			return itemTime(out[a]).Before(*itemTime(out[b]))
		})
		return out
	}

	for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
		out[l], out[r] = out[r], out[l]
	}
	return out
}

func itemTime(it *gofeed.Item) *time.Time {
	if it.PublishedParsed != nil {
		return it.PublishedParsed
	}
	return it.UpdatedParsed
}
