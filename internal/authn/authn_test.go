package authn

import (
	"testing"
	"time"

	"github.com/BranchManager69/degenduel-sub003/pkg/auth"
)

func TestVerifySessionRoundTrip(t *testing.T) {
	secret := []byte("session-secret")
	v := NewVerifier(secret, []byte("service-secret"))

	token, err := auth.GenerateJWT("principal-1", "admin", time.Hour, secret)
	if err != nil {
		t.Fatalf("generate jwt: %v", err)
	}

	p, err := v.VerifySession(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID != "principal-1" || p.Role != RoleAdmin {
		t.Fatalf("unexpected principal: %+v", p)
	}
	if !p.IsAdmin() {
		t.Fatalf("expected admin principal to report IsAdmin")
	}
}

func TestVerifySessionRejectsExpired(t *testing.T) {
	secret := []byte("session-secret")
	v := NewVerifier(secret, []byte("service-secret"))

	token, err := auth.GenerateJWT("principal-1", "user", -time.Hour, secret)
	if err != nil {
		t.Fatalf("generate jwt: %v", err)
	}

	_, err = v.VerifySession(token)
	if err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
	if KindOf(err) != FailureExpired {
		t.Fatalf("expected FailureExpired, got %v", KindOf(err))
	}
}

func TestVerifySessionRejectsBadSignature(t *testing.T) {
	v := NewVerifier([]byte("session-secret"), []byte("service-secret"))
	token, _ := auth.GenerateJWT("principal-1", "user", time.Hour, []byte("wrong-secret"))

	_, err := v.VerifySession(token)
	if err == nil {
		t.Fatalf("expected signature mismatch to be rejected")
	}
	if KindOf(err) != FailureBadSig {
		t.Fatalf("expected FailureBadSig, got %v", KindOf(err))
	}
}

func TestServiceHeaderRoundTrip(t *testing.T) {
	v := NewVerifier([]byte("session-secret"), []byte("service-secret"))
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	v.now = func() time.Time { return fixed }

	header := v.SignServiceHeader(fixed)
	if err := v.VerifyServiceHeader(header); err != nil {
		t.Fatalf("expected valid header to verify, got %v", err)
	}
}

func TestServiceHeaderRejectsClockSkew(t *testing.T) {
	v := NewVerifier([]byte("session-secret"), []byte("service-secret"))
	signedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	v.now = func() time.Time { return signedAt.Add(10 * time.Minute) }

	header := v.SignServiceHeader(signedAt)
	err := v.VerifyServiceHeader(header)
	if err == nil {
		t.Fatalf("expected clock-skew rejection")
	}
	if KindOf(err) != FailureClockSkew {
		t.Fatalf("expected FailureClockSkew, got %v", KindOf(err))
	}
}

func TestServiceHeaderRejectsBadSignature(t *testing.T) {
	v := NewVerifier([]byte("session-secret"), []byte("service-secret"))
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	v.now = func() time.Time { return fixed }

	other := NewVerifier([]byte("session-secret"), []byte("different-service-secret"))
	header := other.SignServiceHeader(fixed)

	err := v.VerifyServiceHeader(header)
	if err == nil {
		t.Fatalf("expected bad signature to be rejected")
	}
	if KindOf(err) != FailureBadSig {
		t.Fatalf("expected FailureBadSig, got %v", KindOf(err))
	}
}

func TestServiceHeaderRejectsMalformed(t *testing.T) {
	v := NewVerifier([]byte("session-secret"), []byte("service-secret"))
	if err := v.VerifyServiceHeader("not-a-valid-header"); err == nil {
		t.Fatalf("expected malformed header to be rejected")
	}
}
