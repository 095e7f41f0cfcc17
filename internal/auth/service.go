// Package auth はパスワード認証、アクセストークン発行、リフレッシュセッション管理と、
// ブラウザクライアントごとの認証SDK（Client）を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/novelshelf/internal/model"
	"github.com/hitoshi/novelshelf/internal/repository"
)

// MinPasswordLength はパスワードの最小文字数。
const MinPasswordLength = 6

// 認証サービスのエラー。メッセージは利用者向け文言への変換で部分一致に使われる。
var (
	ErrInvalidCredentials = errors.New(model.AuthMsgInvalidCredentials)
	ErrUserAlreadyExists  = errors.New(model.AuthMsgAlreadyRegistered)
	ErrEmailNotConfirmed  = errors.New(model.AuthMsgEmailNotConfirmed)
	ErrSessionNotFound    = errors.New("Refresh session not found")
	ErrInvalidConfirm     = errors.New("Confirmation token is invalid or already used")
)

// SessionUser はセッションに含まれるユーザー情報。
type SessionUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session はサインイン成功時に発行されるセッション。
// RefreshTokenはsessionsテーブルのIDに対応する。
type Session struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresAt    time.Time   `json:"expires_at"`
	User         SessionUser `json:"user"`
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	BaseURL     string
	RefreshTTL  time.Duration
	AutoConfirm bool // trueの場合、サインアップ直後から確認済みとして扱う
}

// Service はパスワード認証とセッション発行のビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	tokens      *TokenIssuer
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	tokens *TokenIssuer,
	config ServiceConfig,
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		tokens:      tokens,
		config:      config,
		now:         time.Now,
	}
}

// ValidateCredentials はメールアドレス形式とパスワード長を検証する。
func ValidateCredentials(email, password string) error {
	if err := model.ValidateRequired(
		model.RequiredField{Label: "メールアドレス", Value: email},
		model.RequiredField{Label: "パスワード", Value: password},
	); err != nil {
		return err
	}
	if _, err := mail.ParseAddress(email); err != nil || !strings.Contains(email, "@") {
		return model.NewValidationError("メールアドレスの形式が正しくありません。")
	}
	if len([]rune(password)) < MinPasswordLength {
		return model.NewValidationError(fmt.Sprintf("パスワードは%d文字以上で入力してください。", MinPasswordLength))
	}
	return nil
}

// SignUp はユーザーを登録する。
// AutoConfirmでない場合は確認トークンを発行し、確認リンクをログに出力する。
func (s *Service) SignUp(ctx context.Context, email, password, redirectTo string) error {
	email = strings.TrimSpace(email)
	if err := ValidateCredentials(email, password); err != nil {
		return err
	}

	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if existing != nil {
		return ErrUserAlreadyExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if s.config.AutoConfirm {
		user.EmailConfirmedAt = &now
	} else {
		token, err := generateToken()
		if err != nil {
			return fmt.Errorf("failed to generate confirmation token: %w", err)
		}
		user.ConfirmationToken = token
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if model.DataErrorCode(err) == model.DataCodeUniqueViolation {
			return ErrUserAlreadyExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	if user.ConfirmationToken != "" {
		slog.Info("confirmation link issued",
			slog.String("user_id", user.ID),
			slog.String("confirm_url", s.confirmURL(user.ConfirmationToken, redirectTo)),
		)
	} else {
		slog.Info("user signed up", slog.String("user_id", user.ID))
	}
	return nil
}

// Confirm は確認トークンを検証し、ユーザーを確認済みにする。
func (s *Service) Confirm(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return ErrInvalidConfirm
	}
	user, err := s.userRepo.ConfirmByToken(ctx, token, s.now())
	if err != nil {
		return fmt.Errorf("failed to confirm user: %w", err)
	}
	if user == nil {
		return ErrInvalidConfirm
	}
	slog.Info("email confirmed", slog.String("user_id", user.ID))
	return nil
}

// SignInWithPassword はメールアドレスとパスワードで認証し、セッションを発行する。
func (s *Service) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	email = strings.TrimSpace(email)
	if err := ValidateCredentials(email, password); err != nil {
		return nil, err
	}

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.Confirmed() {
		return nil, ErrEmailNotConfirmed
	}

	refreshToken, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}
	now := s.now()
	if err := s.sessionRepo.Create(ctx, &model.Session{
		ID:        refreshToken,
		UserID:    user.ID,
		ExpiresAt: now.Add(s.config.RefreshTTL),
		CreatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	slog.Info("user signed in", slog.String("user_id", user.ID))
	return s.issue(user.ID, user.Email, refreshToken)
}

// Refresh はリフレッシュトークンから新しいアクセストークンを発行する。
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	if refreshToken == "" {
		return nil, ErrSessionNotFound
	}
	sess, err := s.sessionRepo.FindByID(ctx, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}

	user, err := s.userRepo.FindByID(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, ErrSessionNotFound
	}

	return s.issue(user.ID, user.Email, refreshToken)
}

// Verify はアクセストークンを検証し、セッションのユーザーと有効期限を返す。
func (s *Service) Verify(accessToken string) (*SessionUser, time.Time, error) {
	claims, err := s.tokens.Parse(accessToken)
	if err != nil {
		return nil, time.Time{}, err
	}
	var exp time.Time
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	return &SessionUser{ID: claims.Subject, Email: claims.Email}, exp, nil
}

// SignOut はリフレッシュセッションを破棄する。
func (s *Service) SignOut(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return ErrSessionNotFound
	}
	if err := s.sessionRepo.DeleteByID(ctx, refreshToken); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	slog.Info("user signed out")
	return nil
}

func (s *Service) issue(userID, email, refreshToken string) (*Session, error) {
	access, exp, err := s.tokens.Mint(userID, email)
	if err != nil {
		return nil, err
	}
	return &Session{
		AccessToken:  access,
		RefreshToken: refreshToken,
		ExpiresAt:    exp,
		User:         SessionUser{ID: userID, Email: email},
	}, nil
}

func (s *Service) confirmURL(token, redirectTo string) string {
	q := url.Values{}
	q.Set("token", token)
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	return strings.TrimRight(s.config.BaseURL, "/") + "/auth/confirm?" + q.Encode()
}

// generateToken は暗号的に安全なランダムトークンを生成する。
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
