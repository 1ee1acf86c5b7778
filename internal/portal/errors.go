package portal

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBadCredentials means the portal answered the login POST with a plain 200
// page instead of a redirect: the identifier/secret pair was rejected.
// Retrying with the same input will not help.
var ErrBadCredentials = errors.New("portal rejected credentials")

// TransientError covers timeouts, connection faults and unexpected statuses.
// The caller may retry with the same credentials.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("portal %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func transientf(op, format string, args ...any) *TransientError {
	return &TransientError{Op: op, Err: fmt.Errorf(format, args...)}
}

// BusinessRejection means the portal accepted the request at the transport
// level but refused it by application rule, e.g. an expired or invalid
// check-in code. Resubmitting the same token is pointless.
type BusinessRejection struct {
	Phrase string
}

func (e *BusinessRejection) Error() string {
	return fmt.Sprintf("portal refused check-in: %s", e.Phrase)
}

// rejectionPhrases are markers the portal is known to render on a landing
// page when a check-in is refused despite the login redirect succeeding.
var rejectionPhrases = []string{
	"已過期",
	"驗證失敗",
	"不在打卡時間",
	"invalid code",
	"code expired",
	"outside check-in window",
}

// ClassifyLanding scans a landing document for known rejection markers and
// returns a *BusinessRejection when one is present. All page keyword matching
// lives here so the phrase table can evolve without touching orchestration.
func ClassifyLanding(doc []byte) error {
	if len(doc) == 0 {
		return nil
	}
	body := string(doc)
	for _, phrase := range rejectionPhrases {
		if containsFold(body, phrase) {
			return &BusinessRejection{Phrase: phrase}
		}
	}
	return nil
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
