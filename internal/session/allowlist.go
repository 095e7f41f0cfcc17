// Package session はブラウザクライアントごとの認証状態（Session Store）と、
// クライアントIDからその状態を引くレジストリを提供する。
package session

// Allowlist は管理者として扱うメールアドレスの一覧。
type Allowlist []string

// DefaultAdminAllowlist は管理者メールアドレスの一覧。
// 変更にはビルドし直しが必要。
var DefaultAdminAllowlist = Allowlist{
	"admin@novelshelf.example",
}

// Contains はemailが一覧に完全一致で含まれるかを返す。
// 大文字小文字の区別を含め、正規化は行わない。
func (a Allowlist) Contains(email string) bool {
	if email == "" {
		return false
	}
	for _, e := range a {
		if e == email {
			return true
		}
	}
	return false
}
