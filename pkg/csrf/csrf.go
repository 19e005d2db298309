package csrf

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// CookieName holds the issued token; HTTP-only so page scripts must
	// echo the value returned in the issue response body instead.
	CookieName = "csrf-token"
	// HeaderName is where mutating requests echo the token back.
	HeaderName = "X-CSRF-Token"

	DefaultTTL = time.Hour
)

// Issuer mints anti-forgery tokens and binds them to the caller via cookie.
type Issuer struct {
	TTL    time.Duration
	Secure bool
}

func NewIssuer(ttl time.Duration, secure bool) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{TTL: ttl, Secure: secure}
}

// Issue generates a fresh token, sets the binding cookie, and returns the
// value so the handler can include it in the response body. Each call
// overwrites any previous token; last write wins.
func (i *Issuer) Issue(w http.ResponseWriter) string {
	token := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(i.TTL.Seconds()),
		HttpOnly: true,
		Secure:   i.Secure,
		SameSite: http.SameSiteStrictMode,
	})
	return token
}

// Validate reports whether the cookie-bound token and the caller-supplied
// echo are both present and equal. No other semantics: the cookie's own TTL
// is the only expiry.
func Validate(cookieToken, suppliedToken string) bool {
	cookieToken = strings.TrimSpace(cookieToken)
	suppliedToken = strings.TrimSpace(suppliedToken)
	if cookieToken == "" || suppliedToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookieToken), []byte(suppliedToken)) == 1
}

// ValidateRequest extracts the cookie and header token from r and validates
// them. The header is matched case-insensitively by net/http.
func ValidateRequest(r *http.Request) bool {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return false
	}
	return Validate(c.Value, r.Header.Get(HeaderName))
}
