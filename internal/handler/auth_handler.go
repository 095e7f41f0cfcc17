package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/novelshelf/internal/auth"
	"github.com/hitoshi/novelshelf/internal/flash"
	"github.com/hitoshi/novelshelf/internal/middleware"
	"github.com/hitoshi/novelshelf/internal/model"
)

// Confirmer はメールアドレス確認トークンを検証する。*auth.Serviceが実装する。
type Confirmer interface {
	Confirm(ctx context.Context, token string) error
}

// SignInRecorder はサインイン結果を記録する。*metrics.Collectorが実装する。
type SignInRecorder interface {
	RecordSignIn(result string)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL     string
	LoginPath   string
	HomePath    string
	AutoConfirm bool
}

// AuthHandler はログイン・新規登録・ログアウトのHTTPハンドラー。
type AuthHandler struct {
	confirmer Confirmer
	recorder  SignInRecorder
	views     PageRenderer
	config    AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。recorderはnilでもよい。
func NewAuthHandler(confirmer Confirmer, recorder SignInRecorder, views PageRenderer, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		confirmer: confirmer,
		recorder:  recorder,
		views:     views,
		config:    config,
	}
}

const (
	modeSignIn = "signin"
	modeSignUp = "signup"
)

type authData struct {
	Mode  string
	Email string
	Error string
}

func authMode(s string) string {
	if s == modeSignUp {
		return modeSignUp
	}
	return modeSignIn
}

func authTitle(mode string) string {
	if mode == modeSignUp {
		return "新規登録"
	}
	return "ログイン"
}

// Page はログイン・新規登録フォームを表示する。ログイン済みならホームへ戻す。
// GET /auth
func (h *AuthHandler) Page(w http.ResponseWriter, r *http.Request) {
	if e, ok := middleware.EntryFromContext(r.Context()); ok && e.Store.Snapshot().Identity != nil {
		redirect(w, r, h.config.HomePath)
		return
	}
	mode := authMode(r.URL.Query().Get("mode"))
	h.views.Render(w, http.StatusOK, "auth", newPage(r, authTitle(mode), authData{Mode: mode}))
}

// Submit はログインまたは新規登録のフォーム送信を処理する。
// POST /auth
func (h *AuthHandler) Submit(w http.ResponseWriter, r *http.Request) {
	entry, ok := middleware.EntryFromContext(r.Context())
	if !ok {
		middleware.WriteInternalServerError(w)
		return
	}

	mode := authMode(r.PostFormValue("mode"))
	email := strings.TrimSpace(r.PostFormValue("email"))
	password := r.PostFormValue("password")

	fail := func(status int, err error) {
		h.views.Render(w, status, "auth", newPage(r, authTitle(mode), authData{
			Mode:  mode,
			Email: email,
			Error: model.AuthErrorNotice(err),
		}))
	}

	if err := auth.ValidateCredentials(email, password); err != nil {
		fail(http.StatusUnprocessableEntity, err)
		return
	}

	if mode == modeSignUp {
		if err := entry.Store.SignUp(r.Context(), email, password, h.config.BaseURL+h.config.LoginPath); err != nil {
			h.logAuthError("sign-up failed", err)
			fail(authErrorStatus(err), err)
			return
		}
		if h.config.AutoConfirm {
			notify(r, flash.LevelSuccess, "登録が完了しました。ログインしてください。")
		} else {
			notify(r, flash.LevelSuccess, "確認メールを送信しました。メール内のリンクを開いて登録を完了してください。")
		}
		redirect(w, r, h.config.LoginPath)
		return
	}

	if _, err := entry.Store.SignInWithPassword(r.Context(), email, password); err != nil {
		h.record("failure")
		h.logAuthError("sign-in failed", err)
		fail(authErrorStatus(err), err)
		return
	}
	h.record("success")

	// 変更通知が非同期に届く構成でも、次の画面でログイン状態を表示できるようにする
	if entry.Store.Snapshot().Identity == nil {
		entry.Store.Refresh(r.Context())
	}

	notify(r, flash.LevelSuccess, "ログインしました。")
	redirect(w, r, h.config.HomePath)
}

// SignOut はログアウトしてホームへ戻す。
// POST /auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	entry, ok := middleware.EntryFromContext(r.Context())
	if !ok {
		middleware.WriteInternalServerError(w)
		return
	}

	if err := entry.Store.SignOut(r.Context()); err != nil {
		slog.Warn("failed to purge auth storage on sign-out",
			slog.String("client_id", entry.ID),
			slog.String("error", err.Error()),
		)
	}
	notify(r, flash.LevelInfo, "ログアウトしました。")
	redirect(w, r, h.config.HomePath)
}

// Confirm はメールアドレス確認リンクを処理する。
// 成功時はredirect_to（サイト内に限る）またはログイン画面へ遷移する。
// GET /auth/confirm?token=...&redirect_to=...
func (h *AuthHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if err := h.confirmer.Confirm(r.Context(), q.Get("token")); err != nil {
		if errors.Is(err, auth.ErrInvalidConfirm) {
			slog.Warn("invalid confirmation token")
		} else {
			slog.Error("failed to confirm email", slog.String("error", err.Error()))
		}
		h.views.Render(w, http.StatusBadRequest, "confirm", newPage(r, "メールアドレスの確認", nil))
		return
	}

	notify(r, flash.LevelSuccess, "メールアドレスを確認しました。ログインしてください。")
	redirect(w, r, localPath(q.Get("redirect_to"), h.config.BaseURL, h.config.LoginPath))
}

func (h *AuthHandler) record(result string) {
	if h.recorder != nil {
		h.recorder.RecordSignIn(result)
	}
}

func (h *AuthHandler) logAuthError(msg string, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrUserAlreadyExists),
		errors.Is(err, auth.ErrEmailNotConfirmed):
		slog.Info(msg, slog.String("reason", err.Error()))
	default:
		slog.Error(msg, slog.String("error", err.Error()))
	}
}

// authErrorStatus は認証エラーに応じたステータスコードを返す。
func authErrorStatus(err error) int {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrEmailNotConfirmed):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrUserAlreadyExists):
		return http.StatusConflict
	case isFormError(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
