// Package gate は画面ごとのアクセス可否判定を提供する。
// 判定（Evaluate）は純粋関数で、リダイレクト先と通知の有無はMountが決める。
package gate

import "sync"

// Policy は画面に要求する認可レベル。
type Policy int

const (
	// Public は誰でも閲覧できる。
	Public Policy = iota
	// RequireAuth はログイン済みユーザーのみ閲覧できる。
	RequireAuth
	// RequireAdmin は管理者のみ閲覧できる。
	RequireAdmin
)

func (p Policy) String() string {
	switch p {
	case Public:
		return "public"
	case RequireAuth:
		return "require_auth"
	case RequireAdmin:
		return "require_admin"
	default:
		return "unknown"
	}
}

// Status は判定結果の状態。
type Status int

const (
	// Loading はセッションの初回読み込みが完了していない状態。
	Loading Status = iota
	// Authorized は表示を許可する。
	Authorized
	// Denied は表示を拒否する。
	Denied
)

func (s Status) String() string {
	switch s {
	case Loading:
		return "loading"
	case Authorized:
		return "authorized"
	case Denied:
		return "denied"
	default:
		return "unknown"
	}
}

// Reason は拒否の理由。
type Reason int

const (
	ReasonNone Reason = iota
	ReasonUnauthenticated
	ReasonNotAdmin
)

func (r Reason) String() string {
	switch r {
	case ReasonUnauthenticated:
		return "unauthenticated"
	case ReasonNotAdmin:
		return "not_admin"
	default:
		return "none"
	}
}

// State は判定に必要なセッション状態。
type State struct {
	Loaded        bool
	Authenticated bool
	Admin         bool
}

// Decision は判定結果。
type Decision struct {
	Status Status
	Reason Reason
}

// Evaluate はポリシーとセッション状態から判定結果を返す。
// 初回読み込み完了前は常にLoadingとなる。
func Evaluate(p Policy, s State) Decision {
	if !s.Loaded {
		return Decision{Status: Loading}
	}
	switch p {
	case Public:
		return Decision{Status: Authorized}
	case RequireAuth:
		if !s.Authenticated {
			return Decision{Status: Denied, Reason: ReasonUnauthenticated}
		}
		return Decision{Status: Authorized}
	default:
		if !s.Authenticated {
			return Decision{Status: Denied, Reason: ReasonUnauthenticated}
		}
		if !s.Admin {
			return Decision{Status: Denied, Reason: ReasonNotAdmin}
		}
		return Decision{Status: Authorized}
	}
}

// Render は画面に描画する内容。
type Render int

const (
	// RenderPlaceholder は読み込み中表示のみ。
	RenderPlaceholder Render = iota
	// RenderChildren は保護対象の画面。
	RenderChildren
	// RenderNothing は何も描画しない（リダイレクト中）。
	RenderNothing
)

// 利用者向けの通知文言。
const (
	NoticeSignInRequired = "このページを表示するにはログインしてください。"
	NoticeNotAuthorized  = "このページにアクセスする権限がありません。"
)

// Config はリダイレクト先の設定。
type Config struct {
	LoginTarget string
	HomeTarget  string
}

// DefaultConfig はデフォルトのリダイレクト先を返す。
func DefaultConfig() Config {
	return Config{LoginTarget: "/auth", HomeTarget: "/"}
}

// Outcome はMountの評価結果。
// Noticeが空でない場合は呼び出し側が1回だけ通知する。
type Outcome struct {
	Decision   Decision
	Render     Render
	RedirectTo string
	Notice     string
}

// Mount は保護された画面1つ分のゲート。
// 拒否時の通知は同一Mount内で1回に抑制し、Authorizedに遷移すると抑制を解除する。
type Mount struct {
	policy Policy
	config Config

	mu       sync.Mutex
	notified bool
}

// NewMount はMountを生成する。
func NewMount(policy Policy, config Config) *Mount {
	return &Mount{policy: policy, config: config}
}

// Policy はMountのポリシーを返す。
func (m *Mount) Policy() Policy {
	return m.policy
}

// Evaluate はセッション状態を評価し、描画内容とリダイレクト先を返す。
func (m *Mount) Evaluate(s State) Outcome {
	d := Evaluate(m.policy, s)

	m.mu.Lock()
	defer m.mu.Unlock()

	switch d.Status {
	case Loading:
		return Outcome{Decision: d, Render: RenderPlaceholder}
	case Authorized:
		m.notified = false
		return Outcome{Decision: d, Render: RenderChildren}
	}

	out := Outcome{Decision: d, Render: RenderNothing}
	if d.Reason == ReasonNotAdmin {
		out.RedirectTo = m.config.HomeTarget
	} else {
		out.RedirectTo = m.config.LoginTarget
	}

	if !m.notified {
		m.notified = true
		if d.Reason == ReasonNotAdmin {
			out.Notice = NoticeNotAuthorized
		} else {
			out.Notice = NoticeSignInRequired
		}
	}
	return out
}
