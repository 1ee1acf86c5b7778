package portal

import (
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token is the decoded form of a scanned check-in code. The portal accepts
// two encodings: a long opaque identifier submitted as-is in the uuid field,
// or a URL whose query carries the beacon major/minor pair. A malformed code
// decodes to empty fields and is still submitted; the portal has the final
// word on whether it is acceptable.
type Token struct {
	Raw   string
	UUID  string
	Major string
	Minor string
}

// opaqueMinLen separates long opaque identifiers from URL-shaped codes.
const opaqueMinLen = 50

// ParseToken decodes a raw scanned code. It never fails: ambiguous or broken
// input yields a Token with empty sub-fields.
func ParseToken(raw string) Token {
	tok := Token{Raw: raw}
	if raw == "" {
		return tok
	}
	if !strings.Contains(raw, "http") && len(raw) > opaqueMinLen {
		tok.UUID = raw
		return tok
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return tok
	}
	query := parsed.Query()
	tok.Major = query.Get("major")
	tok.Minor = query.Get("minor")
	return tok
}

// Empty reports whether no code was scanned at all, i.e. plain login mode.
func (t Token) Empty() bool { return t.Raw == "" }

// ExpiresAt peeks at the exp claim when the opaque form happens to be a JWT.
// The signature is not checked; the value is diagnostic only and must not
// gate submission.
func (t Token) ExpiresAt() (time.Time, bool) {
	if t.UUID == "" {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(t.UUID, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
