package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
)

// CSRFCookieName is the cookie carrying the server-issued CSRF
// token; the httpapi layer sets it on any request lacking one.
const CSRFCookieName = "burrow_csrf"

// CSRFHeaderName and CSRFQueryParam are the two places a client may
// echo the cookie's value back on a mutating request.
const (
	CSRFHeaderName = "X-CSRF"
	CSRFQueryParam = "csrf"
	csrfTokenBytes = 32
)

// GenerateCSRFToken returns a new random hex-encoded token suitable
// for both the cookie value and later comparison.
func GenerateCSRFToken() (string, error) {
	buf := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// CSRFSafeMethod reports whether method is exempt from CSRF checks
// (safe methods bypass the check).
func CSRFSafeMethod(method string) bool {
	switch method {
	case "GET", "HEAD", "OPTIONS", "TRACE":
		return true
	default:
		return false
	}
}

// CSRFMatch reports whether the cookie value and the client-presented
// value match, using a constant-time comparison since both are
// secrets an attacker should not be able to distinguish by timing.
func CSRFMatch(cookieValue, presented string) bool {
	if cookieValue == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookieValue), []byte(presented)) == 1
}
