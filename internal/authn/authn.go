// Package authn implements the hub's credential verifier: signed session
// tokens for end users and short-lived HMAC headers for service callers.
package authn

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BranchManager69/degenduel-sub003/pkg/auth"
)

// Role is a principal's authorization level.
type Role string

const (
	RoleGuest      Role = "guest"
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperadmin Role = "superadmin"
)

// Principal is the authenticated identity attached to a connection.
type Principal struct {
	ID   string
	Role Role
}

// IsAdmin reports whether the principal may act on admin-only topics.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin || p.Role == RoleSuperadmin
}

// FailureKind enumerates the ways a credential can fail verification.
type FailureKind string

const (
	FailureExpired   FailureKind = "ExpiredCredential"
	FailureBadSig    FailureKind = "BadSignature"
	FailureClockSkew FailureKind = "ClockSkew"
	FailureUnknown   FailureKind = "Unknown"
)

// VerifyError reports why a credential was rejected.
type VerifyError struct {
	Kind FailureKind
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("credential rejected: %s", e.Kind)
}

func fail(kind FailureKind) error {
	return &VerifyError{Kind: kind}
}

// KindOf extracts the FailureKind from err, or FailureUnknown if err isn't a
// *VerifyError.
func KindOf(err error) FailureKind {
	var ve *VerifyError
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return FailureUnknown
}

const skewWindow = 5 * time.Minute

// Verifier validates session tokens and service HMAC headers. It performs no
// I/O beyond holding the secrets passed to it at construction.
type Verifier struct {
	sessionSecret []byte
	serviceSecret []byte
	now           func() time.Time
}

// NewVerifier builds a Verifier from the shared secrets read once at
// startup (session signing key and service HMAC key).
func NewVerifier(sessionSecret, serviceSecret []byte) *Verifier {
	return &Verifier{
		sessionSecret: sessionSecret,
		serviceSecret: serviceSecret,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// VerifySession validates a signed session token and returns its Principal.
func (v *Verifier) VerifySession(token string) (Principal, error) {
	claims, err := auth.ValidateJWT(token, v.sessionSecret)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredJWT) {
			return Principal{}, fail(FailureExpired)
		}
		return Principal{}, fail(FailureBadSig)
	}
	return Principal{ID: claims.PrincipalID, Role: Role(claims.Role)}, nil
}

// VerifyServiceHeader validates an `X-Service-Auth: <unix_ms>.<hex_hmac>`
// header, checking both the HMAC signature and the clock-skew window, both
// in constant time with respect to the comparison itself.
func (v *Verifier) VerifyServiceHeader(header string) error {
	parts := strings.SplitN(header, ".", 2)
	if len(parts) != 2 {
		return fail(FailureUnknown)
	}
	timestampStr, sigHex := parts[0], parts[1]

	timestampMs, err := strconv.ParseInt(timestampStr, 10, 64)
	if err != nil {
		return fail(FailureUnknown)
	}
	ts := time.UnixMilli(timestampMs)
	if v.now().Sub(ts).Abs() > skewWindow {
		return fail(FailureClockSkew)
	}

	mac := hmac.New(sha256.New, v.serviceSecret)
	mac.Write([]byte(timestampStr))
	expected := mac.Sum(nil)

	given, err := hex.DecodeString(sigHex)
	if err != nil {
		return fail(FailureBadSig)
	}
	if subtle.ConstantTimeCompare(expected, given) != 1 {
		return fail(FailureBadSig)
	}
	return nil
}

// SignServiceHeader produces a header value for the given time at, used by
// in-process collaborators and tests that need to authenticate as a
// service caller.
func (v *Verifier) SignServiceHeader(at time.Time) string {
	timestampStr := strconv.FormatInt(at.UnixMilli(), 10)
	mac := hmac.New(sha256.New, v.serviceSecret)
	mac.Write([]byte(timestampStr))
	return timestampStr + "." + hex.EncodeToString(mac.Sum(nil))
}
