// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// パスワードはbcryptハッシュのみを保持する。
type User struct {
	ID                string
	Email             string
	PasswordHash      string
	EmailConfirmedAt  *time.Time
	ConfirmationToken string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Confirmed はメールアドレス確認済みかどうかを返す。
func (u *User) Confirmed() bool {
	return u.EmailConfirmedAt != nil
}

// Session はリフレッシュトークンに対応するログインセッションを表す。
// IDがそのままリフレッシュトークンとなる。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// RegistrationCount は日付ごとのユーザー登録数を表す。
type RegistrationCount struct {
	Date  string // YYYY-MM-DD
	Count int
}
