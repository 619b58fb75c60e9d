package admin

import (
	"context"
	"testing"
	"time"

	"github.com/svctrust/core/auth"
	"github.com/svctrust/core/objstore/drivers/mem"
	"github.com/svctrust/core/svcaccount"
)

const testSecret = "roster-secret"

func newTestContext(t *testing.T) *svcaccount.ServiceContext {
	t.Helper()
	ctx := context.Background()
	d := mem.New("https://objstore.local")
	b, err := d.GetBucket(ctx, "svc", "", true)
	if err != nil {
		t.Fatal(err)
	}
	sc, err := svcaccount.NewServiceContext(d, b, "correct-horse-battery-staple", time.Hour, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	return sc
}

func TestFirstAdminNeedsNoAuthorisation(t *testing.T) {
	ctx := context.Background()
	sc := newTestContext(t)

	if err := AddAdminUser(ctx, sc, "admin-1", nil); err != nil {
		t.Fatalf("first admin should not require authorisation: %v", err)
	}

	roster, err := GetAdminUsers(ctx, sc)
	if err != nil {
		t.Fatal(err)
	}
	entry, ok := roster["admin-1"]
	if !ok {
		t.Fatal("expected admin-1 in roster")
	}
	if entry.AuthorisedBy != FirstAdminSentinel {
		t.Fatalf("expected authorised_by=%q, got %q", FirstAdminSentinel, entry.AuthorisedBy)
	}
}

func TestSecondAdminWithoutAuthorisationFails(t *testing.T) {
	ctx := context.Background()
	sc := newTestContext(t)
	if err := AddAdminUser(ctx, sc, "admin-1", nil); err != nil {
		t.Fatal(err)
	}

	if err := AddAdminUser(ctx, sc, "admin-2", nil); err == nil {
		t.Fatal("expected an error when the roster is non-empty and authorisation is nil")
	}

	roster, err := GetAdminUsers(ctx, sc)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := roster["admin-2"]; ok {
		t.Fatal("roster must not have been mutated by the rejected call")
	}
}

func TestSecondAdminWithValidDelegationSucceeds(t *testing.T) {
	ctx := context.Background()
	sc := newTestContext(t)
	if err := AddAdminUser(ctx, sc, "admin-1", nil); err != nil {
		t.Fatal(err)
	}

	tokenStr, err := auth.Sign(testSecret, "admin-1", "admin-1-guid", "admin-2", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	delegation, err := auth.Parse(tokenStr, testSecret)
	if err != nil {
		t.Fatal(err)
	}

	if err := AddAdminUser(ctx, sc, "admin-2", delegation); err != nil {
		t.Fatalf("expected delegated authorisation from an existing admin to succeed: %v", err)
	}

	roster, err := GetAdminUsers(ctx, sc)
	if err != nil {
		t.Fatal(err)
	}
	entry, ok := roster["admin-2"]
	if !ok {
		t.Fatal("expected admin-2 in roster")
	}
	if entry.AuthorisedBy != "admin-1" {
		t.Fatalf("expected authorised_by=admin-1, got %q", entry.AuthorisedBy)
	}
}

func TestDelegationFromNonAdminIsRejected(t *testing.T) {
	ctx := context.Background()
	sc := newTestContext(t)
	if err := AddAdminUser(ctx, sc, "admin-1", nil); err != nil {
		t.Fatal(err)
	}

	tokenStr, err := auth.Sign(testSecret, "not-an-admin", "not-an-admin-guid", "admin-2", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	delegation, err := auth.Parse(tokenStr, testSecret)
	if err != nil {
		t.Fatal(err)
	}

	if err := AddAdminUser(ctx, sc, "admin-2", delegation); err == nil {
		t.Fatal("expected rejection since the signer is not in the roster")
	}

	roster, err := GetAdminUsers(ctx, sc)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := roster["admin-2"]; ok {
		t.Fatal("roster must not have been mutated by the rejected call")
	}
}

func TestDelegationScopedToWrongAccountIsRejected(t *testing.T) {
	ctx := context.Background()
	sc := newTestContext(t)
	if err := AddAdminUser(ctx, sc, "admin-1", nil); err != nil {
		t.Fatal(err)
	}

	tokenStr, err := auth.Sign(testSecret, "admin-1", "admin-1-guid", "admin-3", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	delegation, err := auth.Parse(tokenStr, testSecret)
	if err != nil {
		t.Fatal(err)
	}

	if err := AddAdminUser(ctx, sc, "admin-2", delegation); err == nil {
		t.Fatal("expected rejection since the authorisation covers a different account")
	}
}

func TestGetAdminUsersFailsBeforeBootstrap(t *testing.T) {
	ctx := context.Background()
	sc := newTestContext(t)
	if _, err := GetAdminUsers(ctx, sc); err == nil {
		t.Fatal("expected MissingServiceAccountError before any admin has been added")
	}
}
