package gate

import "testing"

func TestEvaluate(t *testing.T) {
	anon := State{Loaded: true}
	reader := State{Loaded: true, Authenticated: true}
	admin := State{Loaded: true, Authenticated: true, Admin: true}

	tests := []struct {
		name   string
		policy Policy
		state  State
		want   Decision
	}{
		{"読み込み中はpublicでもloading", Public, State{}, Decision{Status: Loading}},
		{"読み込み中はadminでもloading", RequireAdmin, State{Authenticated: true, Admin: true}, Decision{Status: Loading}},
		{"publicは未ログインでも許可", Public, anon, Decision{Status: Authorized}},
		{"require_auth未ログイン", RequireAuth, anon, Decision{Status: Denied, Reason: ReasonUnauthenticated}},
		{"require_authログイン済み", RequireAuth, reader, Decision{Status: Authorized}},
		{"require_admin未ログイン", RequireAdmin, anon, Decision{Status: Denied, Reason: ReasonUnauthenticated}},
		{"require_admin一般ユーザー", RequireAdmin, reader, Decision{Status: Denied, Reason: ReasonNotAdmin}},
		{"require_admin管理者", RequireAdmin, admin, Decision{Status: Authorized}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(tt.policy, tt.state); got != tt.want {
				t.Errorf("Evaluate(%v, %+v) = %+v, want %+v", tt.policy, tt.state, got, tt.want)
			}
		})
	}
}

func TestMount_LoadingRendersPlaceholderOnly(t *testing.T) {
	m := NewMount(RequireAdmin, DefaultConfig())

	out := m.Evaluate(State{})
	if out.Render != RenderPlaceholder {
		t.Errorf("Render = %v, want placeholder", out.Render)
	}
	if out.RedirectTo != "" || out.Notice != "" {
		t.Errorf("loading must not redirect or notify: %+v", out)
	}
}

func TestMount_UnauthenticatedRedirectsToLogin(t *testing.T) {
	for _, p := range []Policy{RequireAuth, RequireAdmin} {
		m := NewMount(p, DefaultConfig())

		out := m.Evaluate(State{Loaded: true})
		if out.Decision.Status != Denied {
			t.Fatalf("%v: status = %v, want denied", p, out.Decision.Status)
		}
		if out.RedirectTo != "/auth" {
			t.Errorf("%v: RedirectTo = %q, want /auth", p, out.RedirectTo)
		}
		if out.Render != RenderNothing {
			t.Errorf("%v: Render = %v, want nothing", p, out.Render)
		}
		if out.Notice != NoticeSignInRequired {
			t.Errorf("%v: Notice = %q", p, out.Notice)
		}
	}
}

func TestMount_NonAdminRedirectsHome(t *testing.T) {
	m := NewMount(RequireAdmin, DefaultConfig())

	out := m.Evaluate(State{Loaded: true, Authenticated: true})
	if out.RedirectTo != "/" {
		t.Errorf("RedirectTo = %q, want /", out.RedirectTo)
	}
	if out.Notice != NoticeNotAuthorized {
		t.Errorf("Notice = %q, want not-authorized notice", out.Notice)
	}

	// 同じ利用者でも管理者不要なら許可
	if got := Evaluate(RequireAuth, State{Loaded: true, Authenticated: true}); got.Status != Authorized {
		t.Errorf("RequireAuth status = %v, want authorized", got.Status)
	}
}

func TestMount_NoticeSuppressedOnRepeatDenial(t *testing.T) {
	m := NewMount(RequireAuth, DefaultConfig())
	anon := State{Loaded: true}

	notices := 0
	for i := 0; i < 3; i++ {
		out := m.Evaluate(anon)
		if out.Notice != "" {
			notices++
		}
		if out.RedirectTo != "/auth" {
			t.Errorf("evaluation %d: RedirectTo = %q", i, out.RedirectTo)
		}
	}
	if notices != 1 {
		t.Errorf("notices = %d, want exactly 1", notices)
	}
}

func TestMount_AuthorizedResetsNoticeGuard(t *testing.T) {
	m := NewMount(RequireAuth, DefaultConfig())
	anon := State{Loaded: true}

	if out := m.Evaluate(anon); out.Notice == "" {
		t.Fatal("first denial should notify")
	}
	if out := m.Evaluate(State{Loaded: true, Authenticated: true}); out.Render != RenderChildren {
		t.Fatalf("authorized should render children, got %v", out.Render)
	}
	if out := m.Evaluate(anon); out.Notice == "" {
		t.Error("denial after authorization should notify again")
	}
}

func TestMount_LoadingDoesNotResetGuard(t *testing.T) {
	m := NewMount(RequireAuth, DefaultConfig())
	anon := State{Loaded: true}

	m.Evaluate(anon)
	m.Evaluate(State{})
	if out := m.Evaluate(anon); out.Notice != "" {
		t.Error("loading should not reset the notice guard")
	}
}

func TestMount_CustomTargets(t *testing.T) {
	m := NewMount(RequireAdmin, Config{LoginTarget: "/login", HomeTarget: "/home"})

	if out := m.Evaluate(State{Loaded: true}); out.RedirectTo != "/login" {
		t.Errorf("RedirectTo = %q, want /login", out.RedirectTo)
	}
	if out := m.Evaluate(State{Loaded: true, Authenticated: true}); out.RedirectTo != "/home" {
		t.Errorf("RedirectTo = %q, want /home", out.RedirectTo)
	}
}

func TestPolicyString(t *testing.T) {
	if RequireAdmin.String() != "require_admin" || Public.String() != "public" {
		t.Error("unexpected policy labels")
	}
}
