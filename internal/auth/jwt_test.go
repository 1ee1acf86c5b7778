package auth

import (
	"testing"
	"time"
)

func TestIssueAndParse(t *testing.T) {
	pair, err := Issue("dev-1", "clockin-engine", "secret", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := Parse(pair.AccessToken, "secret", "clockin-engine")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Device != "dev-1" || claims.Subject != "dev-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParse_WrongKey(t *testing.T) {
	pair, err := Issue("dev-1", "clockin-engine", "secret", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := Parse(pair.AccessToken, "other", "clockin-engine"); err == nil {
		t.Fatalf("expected a signature error")
	}
}

func TestParse_IssuerMismatch(t *testing.T) {
	pair, err := Issue("dev-1", "someone-else", "secret", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := Parse(pair.AccessToken, "secret", "clockin-engine"); err == nil {
		t.Fatalf("expected an issuer mismatch error")
	}
}
