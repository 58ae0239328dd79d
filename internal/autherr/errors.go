// internal/autherr/errors.go
//
// Package autherr defines the failure taxonomy shared by the auth service
// and the gateway enforcement point. Transport layers map these onto HTTP
// status codes; nothing below transport ever inspects status codes.
package autherr

import "errors"

var (
	// Credential verification (issuer-local, never retried).
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrUserExists         = errors.New("user already exists")

	// Cryptographic / temporal token failures (decided locally, terminal).
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenExpired = errors.New("token expired")

	// Security-significant revocation failures (terminal, audited).
	ErrTokenRevoked       = errors.New("token revoked")
	ErrTokenFamilyRevoked = errors.New("token family revoked")
	ErrTokenReuseDetected = errors.New("token reuse detected")

	// Policy denial. Distinct from authentication failure.
	ErrForbidden = errors.New("forbidden")

	// Permission outside the closed catalog. Admin input error, not a denial.
	ErrUnknownPermission = errors.New("unknown permission")

	// Revocation cache or policy store unreachable. Always fail closed;
	// retryable by the client, never downgraded to allow.
	ErrDependencyUnavailable = errors.New("dependency unavailable")
)

// IsAuthFailure reports whether err must surface as 401.
func IsAuthFailure(err error) bool {
	for _, e := range []error{
		ErrInvalidCredentials, ErrAccountDisabled,
		ErrTokenInvalid, ErrTokenExpired,
		ErrTokenRevoked, ErrTokenFamilyRevoked, ErrTokenReuseDetected,
	} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

// IsSecurityEvent reports whether err indicates possible token theft and
// must trigger an audit signal.
func IsSecurityEvent(err error) bool {
	return errors.Is(err, ErrTokenReuseDetected) || errors.Is(err, ErrTokenFamilyRevoked)
}
