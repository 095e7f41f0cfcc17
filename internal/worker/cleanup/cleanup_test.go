package cleanup

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

type fakeResult struct {
	rowsAffected int64
	err          error
}

func (r *fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r *fakeResult) RowsAffected() (int64, error) { return r.rowsAffected, r.err }

type execCall struct {
	query string
	args  []any
}

// mockExecutor はクエリごとに結果を返すExecutorのモック。
type mockExecutor struct {
	calls  []execCall
	execFn func(query string) (sql.Result, error)
}

func (m *mockExecutor) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	m.calls = append(m.calls, execCall{query: query, args: args})
	if m.execFn != nil {
		return m.execFn(query)
	}
	return &fakeResult{}, nil
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func lastLogEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry); err != nil {
		t.Fatalf("ログのパースに失敗: %v", err)
	}
	return entry
}

func TestNewCleanupJob_DefaultRetention(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockExecutor{}, newTestLogger(&buf))
	if job.UnconfirmedRetentionDays != 7 {
		t.Errorf("UnconfirmedRetentionDays = %d, want 7", job.UnconfirmedRetentionDays)
	}
}

func TestCleanupJob_Run_DeletesSessionsAndUnconfirmedUsers(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{execFn: func(query string) (sql.Result, error) {
		if strings.Contains(query, "sessions") {
			return &fakeResult{rowsAffected: 4}, nil
		}
		return &fakeResult{rowsAffected: 2}, nil
	}}
	job := NewCleanupJob(mock, newTestLogger(&buf))
	job.UnconfirmedRetentionDays = 14

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	if len(mock.calls) != 2 {
		t.Fatalf("ExecContext呼び出し回数 = %d, want 2", len(mock.calls))
	}
	if !strings.Contains(mock.calls[0].query, "DELETE FROM sessions") || !strings.Contains(mock.calls[0].query, "expires_at") {
		t.Errorf("セッション削除クエリが不正: %s", mock.calls[0].query)
	}
	users := mock.calls[1]
	if !strings.Contains(users.query, "DELETE FROM users") || !strings.Contains(users.query, "email_confirmed_at IS NULL") {
		t.Errorf("未確認ユーザー削除クエリが不正: %s", users.query)
	}
	if len(users.args) != 1 || users.args[0] != "14 days" {
		t.Errorf("interval引数 = %v, want [14 days]", users.args)
	}

	entry := lastLogEntry(t, &buf)
	if entry["deleted_sessions"] != float64(4) || entry["deleted_unconfirmed_users"] != float64(2) {
		t.Errorf("削除件数がログに含まれていない: %v", entry)
	}
	if _, ok := entry["duration_ms"]; !ok {
		t.Error("ログに duration_ms が含まれていない")
	}
}

func TestCleanupJob_Run_StopsOnFirstFailure(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{execFn: func(string) (sql.Result, error) {
		return nil, errors.New("connection refused")
	}}
	job := NewCleanupJob(mock, newTestLogger(&buf))

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("DBエラー時はエラーを返すべき")
	}
	if len(mock.calls) != 1 {
		t.Errorf("失敗後にクエリを続行した: %d calls", len(mock.calls))
	}
	if entry := lastLogEntry(t, &buf); entry["level"] != "ERROR" || entry["target"] != "sessions" {
		t.Errorf("エラーログ = %v", entry)
	}
}

func TestCleanupJob_Run_RowsAffectedFailure(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{execFn: func(string) (sql.Result, error) {
		return &fakeResult{err: errors.New("unsupported")}, nil
	}}
	job := NewCleanupJob(mock, newTestLogger(&buf))

	if err := job.Run(context.Background()); err == nil {
		t.Error("RowsAffectedの失敗はエラーを返すべき")
	}
}

func TestCleanupJob_Run_IdempotentZeroRows(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockExecutor{}, newTestLogger(&buf))

	for i := 0; i < 2; i++ {
		if err := job.Run(context.Background()); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if entry := lastLogEntry(t, &buf); entry["deleted_sessions"] != float64(0) {
		t.Errorf("deleted_sessions = %v, want 0", entry["deleted_sessions"])
	}
}
