package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/novelshelf/internal/model"
	"github.com/hitoshi/novelshelf/internal/repository"
)

// --- モック定義 ---

type mockUserRepo struct {
	createFn         func(ctx context.Context, user *model.User) error
	findByIDFn       func(ctx context.Context, id string) (*model.User, error)
	findByEmailFn    func(ctx context.Context, email string) (*model.User, error)
	confirmByTokenFn func(ctx context.Context, token string, at time.Time) (*model.User, error)
}

func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	return nil
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, nil
}

func (m *mockUserRepo) ConfirmByToken(ctx context.Context, token string, at time.Time) (*model.User, error) {
	if m.confirmByTokenFn != nil {
		return m.confirmByTokenFn(ctx, token, at)
	}
	return nil, nil
}

func (m *mockUserRepo) Count(context.Context) (int, error) { return 0, nil }

func (m *mockUserRepo) CountCreatedSince(context.Context, time.Time) (int, error) { return 0, nil }

func (m *mockUserRepo) RegistrationsSince(context.Context, time.Time) ([]model.RegistrationCount, error) {
	return nil, nil
}

type mockSessionRepo struct {
	createFn     func(ctx context.Context, session *model.Session) error
	findByIDFn   func(ctx context.Context, id string) (*model.Session, error)
	deleteByIDFn func(ctx context.Context, id string) error
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	return nil
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

func (m *mockSessionRepo) DeleteByUserID(context.Context, string) error { return nil }

var (
	_ repository.UserRepository    = (*mockUserRepo)(nil)
	_ repository.SessionRepository = (*mockSessionRepo)(nil)
)

func newTestService(users *mockUserRepo, sessions *mockSessionRepo, autoConfirm bool) *Service {
	return NewService(users, sessions,
		NewTokenIssuer([]byte("test-secret"), "novelshelf", time.Hour),
		ServiceConfig{BaseURL: "http://localhost:8080", RefreshTTL: 24 * time.Hour, AutoConfirm: autoConfirm},
	)
}

func hashed(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(h)
}

// --- テスト ---

func TestValidateCredentials(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		password string
		wantErr  bool
	}{
		{"正常", "reader@example.com", "secret1", false},
		{"メール未入力", "", "secret1", true},
		{"メール形式不正", "not-an-email", "secret1", true},
		{"パスワードが短い", "reader@example.com", "12345", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCredentials(tt.email, tt.password)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCredentials() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestService_SignUp_CreatesUnconfirmedUserWithToken(t *testing.T) {
	var created *model.User
	users := &mockUserRepo{
		createFn: func(_ context.Context, u *model.User) error {
			created = u
			return nil
		},
	}
	svc := newTestService(users, &mockSessionRepo{}, false)

	if err := svc.SignUp(context.Background(), " reader@example.com ", "secret1", "http://localhost:8080/"); err != nil {
		t.Fatalf("SignUp returned error: %v", err)
	}

	if created == nil {
		t.Fatal("user was not created")
	}
	if created.Email != "reader@example.com" {
		t.Errorf("Email = %q, want trimmed address", created.Email)
	}
	if created.Confirmed() {
		t.Error("user should not be confirmed yet")
	}
	if created.ConfirmationToken == "" {
		t.Error("confirmation token should be issued")
	}
	if bcrypt.CompareHashAndPassword([]byte(created.PasswordHash), []byte("secret1")) != nil {
		t.Error("password hash does not match")
	}
}

func TestService_SignUp_AutoConfirm(t *testing.T) {
	var created *model.User
	users := &mockUserRepo{createFn: func(_ context.Context, u *model.User) error { created = u; return nil }}
	svc := newTestService(users, &mockSessionRepo{}, true)

	if err := svc.SignUp(context.Background(), "reader@example.com", "secret1", ""); err != nil {
		t.Fatalf("SignUp returned error: %v", err)
	}
	if !created.Confirmed() || created.ConfirmationToken != "" {
		t.Error("auto-confirmed user should be confirmed without token")
	}
}

func TestService_SignUp_ExistingUser(t *testing.T) {
	users := &mockUserRepo{
		findByEmailFn: func(context.Context, string) (*model.User, error) {
			return &model.User{ID: "u1"}, nil
		},
	}
	svc := newTestService(users, &mockSessionRepo{}, false)

	err := svc.SignUp(context.Background(), "reader@example.com", "secret1", "")
	if !errors.Is(err, ErrUserAlreadyExists) {
		t.Fatalf("err = %v, want ErrUserAlreadyExists", err)
	}
	if !strings.Contains(err.Error(), "User already registered") {
		t.Errorf("error message = %q", err.Error())
	}
}

func TestService_SignUp_UniqueViolationRace(t *testing.T) {
	users := &mockUserRepo{
		createFn: func(context.Context, *model.User) error {
			return &model.DataError{Code: model.DataCodeUniqueViolation}
		},
	}
	svc := newTestService(users, &mockSessionRepo{}, false)

	if err := svc.SignUp(context.Background(), "reader@example.com", "secret1", ""); !errors.Is(err, ErrUserAlreadyExists) {
		t.Fatalf("err = %v, want ErrUserAlreadyExists", err)
	}
}

func TestService_SignInWithPassword_Success(t *testing.T) {
	confirmed := time.Now()
	users := &mockUserRepo{
		findByEmailFn: func(context.Context, string) (*model.User, error) {
			return &model.User{ID: "u1", Email: "a@x.com", PasswordHash: hashed(t, "secret1"), EmailConfirmedAt: &confirmed}, nil
		},
	}
	var stored *model.Session
	sessions := &mockSessionRepo{createFn: func(_ context.Context, s *model.Session) error { stored = s; return nil }}
	svc := newTestService(users, sessions, false)

	sess, err := svc.SignInWithPassword(context.Background(), "a@x.com", "secret1")
	if err != nil {
		t.Fatalf("SignInWithPassword returned error: %v", err)
	}
	if sess.User.ID != "u1" || sess.User.Email != "a@x.com" {
		t.Errorf("User = %+v", sess.User)
	}
	if stored == nil || stored.ID != sess.RefreshToken {
		t.Error("refresh session should be persisted with the refresh token as ID")
	}

	user, _, err := svc.Verify(sess.AccessToken)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if user.ID != "u1" || user.Email != "a@x.com" {
		t.Errorf("verified user = %+v", user)
	}
}

func TestService_SignInWithPassword_Errors(t *testing.T) {
	confirmed := time.Now()
	tests := []struct {
		name    string
		user    *model.User
		pass    string
		wantErr error
	}{
		{"未登録", nil, "secret1", ErrInvalidCredentials},
		{"パスワード不一致", &model.User{ID: "u1", PasswordHash: hashed(t, "secret1"), EmailConfirmedAt: &confirmed}, "wrong-pass", ErrInvalidCredentials},
		{"メール未確認", &model.User{ID: "u1", PasswordHash: hashed(t, "secret1")}, "secret1", ErrEmailNotConfirmed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := &mockUserRepo{findByEmailFn: func(context.Context, string) (*model.User, error) { return tt.user, nil }}
			svc := newTestService(users, &mockSessionRepo{}, false)

			_, err := svc.SignInWithPassword(context.Background(), "a@x.com", tt.pass)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestService_Refresh(t *testing.T) {
	users := &mockUserRepo{findByIDFn: func(_ context.Context, id string) (*model.User, error) {
		return &model.User{ID: id, Email: "a@x.com"}, nil
	}}
	sessions := &mockSessionRepo{findByIDFn: func(_ context.Context, id string) (*model.Session, error) {
		if id == "live" {
			return &model.Session{ID: id, UserID: "u1"}, nil
		}
		return nil, nil
	}}
	svc := newTestService(users, sessions, false)

	sess, err := svc.Refresh(context.Background(), "live")
	if err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}
	if sess.RefreshToken != "live" || sess.User.ID != "u1" {
		t.Errorf("session = %+v", sess)
	}

	if _, err := svc.Refresh(context.Background(), "gone"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestService_Confirm(t *testing.T) {
	users := &mockUserRepo{confirmByTokenFn: func(_ context.Context, token string, _ time.Time) (*model.User, error) {
		if token == "good" {
			return &model.User{ID: "u1"}, nil
		}
		return nil, nil
	}}
	svc := newTestService(users, &mockSessionRepo{}, false)

	if err := svc.Confirm(context.Background(), "good"); err != nil {
		t.Errorf("Confirm(good) = %v", err)
	}
	if err := svc.Confirm(context.Background(), "bad"); !errors.Is(err, ErrInvalidConfirm) {
		t.Errorf("Confirm(bad) = %v, want ErrInvalidConfirm", err)
	}
}

func TestService_SignOut_DeletesSession(t *testing.T) {
	var deleted string
	sessions := &mockSessionRepo{deleteByIDFn: func(_ context.Context, id string) error { deleted = id; return nil }}
	svc := newTestService(&mockUserRepo{}, sessions, false)

	if err := svc.SignOut(context.Background(), "rt-1"); err != nil {
		t.Fatalf("SignOut returned error: %v", err)
	}
	if deleted != "rt-1" {
		t.Errorf("deleted = %q, want rt-1", deleted)
	}
}
