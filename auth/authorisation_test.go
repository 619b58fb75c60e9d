package auth

import (
	"testing"
	"time"

	"github.com/svctrust/core/encoding"
)

const testSecret = "s3cr3t"

func TestSignParseRoundTrip(t *testing.T) {
	expires := encoding.GetDatetimeNow().Add(time.Hour)
	tok, err := Sign(testSecret, "user-A", "guid-A", "user-B", expires)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	a, err := Parse(tok, testSecret)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if a.UserUID() != "user-A" || a.UserGUID() != "guid-A" || a.Resource() != "user-B" {
		t.Fatalf("unexpected claims: %+v", a)
	}
	if err := a.Verify("user-B"); err != nil {
		t.Fatalf("Verify should accept the matching resource: %v", err)
	}
	if err := a.Verify("someone-else"); err == nil {
		t.Fatal("Verify should reject a mismatched resource")
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	expires := encoding.GetDatetimeNow().Add(time.Hour)
	tok, err := Sign(testSecret, "user-A", "guid-A", "user-B", expires)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Parse(tok, "wrong-secret"); err == nil {
		t.Fatal("expected Parse to reject a token signed with a different secret")
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	expires := encoding.GetDatetimeNow().Add(-time.Minute)
	tok, err := Sign(testSecret, "user-A", "guid-A", "user-B", expires)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Parse(tok, testSecret); err != ErrTokenExpired {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse("not-a-jwt", testSecret); err == nil {
		t.Fatal("expected Parse to reject a malformed token")
	}
}
