// Package flash はクライアントごとの一時通知（トースト）キューを提供する。
// 通知は次に描画されるページでまとめて取り出される。
package flash

import "sync"

// Level は通知の種類。
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notice は1件の通知。
type Notice struct {
	Level   Level
	Message string
}

// maxQueued は保持する通知の上限。超えた分は古いものから捨てる。
const maxQueued = 20

// Queue は通知キュー。ゼロ値で使用できる。
type Queue struct {
	mu      sync.Mutex
	notices []Notice
}

// Push は通知を追加する。空メッセージは無視する。
func (q *Queue) Push(level Level, message string) {
	if message == "" {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	q.notices = append(q.notices, Notice{Level: level, Message: message})
	if len(q.notices) > maxQueued {
		q.notices = q.notices[len(q.notices)-maxQueued:]
	}
}

// Info は情報通知を追加する。
func (q *Queue) Info(message string) { q.Push(LevelInfo, message) }

// Success は成功通知を追加する。
func (q *Queue) Success(message string) { q.Push(LevelSuccess, message) }

// Error はエラー通知を追加する。
func (q *Queue) Error(message string) { q.Push(LevelError, message) }

// Drain は溜まった通知をすべて取り出す。
func (q *Queue) Drain() []Notice {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.notices
	q.notices = nil
	return out
}

// Len は未取り出しの通知数を返す。
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.notices)
}
