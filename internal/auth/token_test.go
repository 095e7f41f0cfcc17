package auth

import (
	"errors"
	"testing"
	"time"
)

func TestTokenIssuer_MintAndParse(t *testing.T) {
	issuer := NewTokenIssuer([]byte("secret"), "novelshelf", time.Hour)

	token, exp, err := issuer.Mint("u1", "a@x.com")
	if err != nil {
		t.Fatalf("Mint returned error: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Errorf("expiry %v should be in the future", exp)
	}

	claims, err := issuer.Parse(token)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if claims.Subject != "u1" || claims.Email != "a@x.com" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestTokenIssuer_Expired(t *testing.T) {
	issuer := NewTokenIssuer([]byte("secret"), "novelshelf", time.Minute)
	issuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	token, _, err := issuer.Mint("u1", "a@x.com")
	if err != nil {
		t.Fatalf("Mint returned error: %v", err)
	}

	issuer.now = time.Now
	if _, err := issuer.Parse(token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("err = %v, want ErrTokenExpired", err)
	}
}

func TestTokenIssuer_RejectsForeignSignature(t *testing.T) {
	other := NewTokenIssuer([]byte("other-secret"), "novelshelf", time.Hour)
	token, _, _ := other.Mint("u1", "a@x.com")

	issuer := NewTokenIssuer([]byte("secret"), "novelshelf", time.Hour)
	if _, err := issuer.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestTokenIssuer_RejectsWrongIssuer(t *testing.T) {
	other := NewTokenIssuer([]byte("secret"), "someone-else", time.Hour)
	token, _, _ := other.Mint("u1", "a@x.com")

	issuer := NewTokenIssuer([]byte("secret"), "novelshelf", time.Hour)
	if _, err := issuer.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestTokenIssuer_Empty(t *testing.T) {
	issuer := NewTokenIssuer([]byte("secret"), "novelshelf", time.Hour)
	if _, err := issuer.Parse("  "); !errors.Is(err, ErrMissingToken) {
		t.Errorf("err = %v, want ErrMissingToken", err)
	}
}
