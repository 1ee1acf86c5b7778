package checkin

import "errors"

// Credential identifies one user for a single batch call. It lives in memory
// only and is never persisted outside a cached session.
type Credential struct {
	ID       string `json:"id"`
	Password string `json:"password"`
}

// NewCredential validates the required fields.
func NewCredential(id, password string) (Credential, error) {
	if id == "" {
		return Credential{}, errors.New("user id required")
	}
	if password == "" {
		return Credential{}, errors.New("password required")
	}
	return Credential{ID: id, Password: password}, nil
}

// Outcome statuses. The message carries the failure class in prose so the
// caller can decide between re-entering credentials, retrying, or giving up
// on an expired token.
const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// Outcome is the per-user result of a batch run.
type Outcome struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func success(id, message string) Outcome {
	return Outcome{ID: id, Status: StatusSuccess, Message: message}
}

func failed(id, message string) Outcome {
	return Outcome{ID: id, Status: StatusFailed, Message: message}
}
