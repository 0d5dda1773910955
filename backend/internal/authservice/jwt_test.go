package authservice

import (
	"testing"
	"time"
)

func TestSignAndParseAccessToken(t *testing.T) {
	token, expiresAt, err := SignAccessToken(42, "alice", time.Hour)
	if err != nil {
		t.Fatalf("SignAccessToken error: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatalf("expiresAt %v already in the past", expiresAt)
	}

	claims, err := ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken error: %v", err)
	}
	if claims.UserID != 42 || claims.Username != "alice" || claims.Type != "access" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestParseToken_Expired(t *testing.T) {
	token, _, err := SignAccessToken(1, "bob", -time.Minute)
	if err != nil {
		t.Fatalf("SignAccessToken error: %v", err)
	}
	if _, err := ParseToken(token); err == nil {
		t.Fatalf("expired token must not parse")
	}
}

func TestParseToken_Garbage(t *testing.T) {
	if _, err := ParseToken("not.a.jwt"); err == nil {
		t.Fatalf("garbage token must not parse")
	}
}
