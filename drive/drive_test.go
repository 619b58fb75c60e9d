package drive

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/svctrust/core/auth"
	"github.com/svctrust/core/objstore/drivers/mem"
	"github.com/svctrust/core/svcaccount"
	"github.com/svctrust/core/svcerrors"
)

const testSecret = "drive-secret"

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

func authorisedDrives(t *testing.T, sc *svcaccount.ServiceContext, userGUID string) *UserDrives {
	t.Helper()
	tokenStr, err := auth.Sign(testSecret, "user-1", userGUID, ResourceUserDrives, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	tok, err := auth.Parse(tokenStr, testSecret)
	if err != nil {
		t.Fatal(err)
	}
	ud, err := NewFromAuthorisation(sc, tok, "")
	if err != nil {
		t.Fatal(err)
	}
	return ud
}

func TestUnauthorisedAutocreateIsRejected(t *testing.T) {
	ctx := context.Background()
	sc := newTestContext(t)
	ud, err := NewFromUserGUID(sc, "user-guid-1")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := ud.GetDrive(ctx, "new", true); err == nil {
		t.Fatal("expected MissingDriveError for unauthorised autocreate")
	} else if _, ok := err.(*svcerrors.MissingDriveError); !ok {
		t.Fatalf("expected MissingDriveError, got %T: %v", err, err)
	}

	names, err := ud.ListDrives(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 0 {
		t.Fatalf("expected no bindings to have been written, got %v", names)
	}
}

func TestAuthorisedAutocreateCreatesNestedBindings(t *testing.T) {
	ctx := context.Background()
	sc := newTestContext(t)
	ud := authorisedDrives(t, sc, "user-guid-1")

	first, err := ud.GetDrive(ctx, "alpha/beta/gamma", true)
	if err != nil {
		t.Fatal(err)
	}
	if first.UserGUID != "user-guid-1" || !first.IsAuthorised {
		t.Fatalf("unexpected DriveInfo: %+v", first)
	}

	second, err := ud.GetDrive(ctx, "alpha/beta/gamma", false)
	if err != nil {
		t.Fatalf("resolution without autocreate should succeed once bindings exist: %v", err)
	}
	if second.DriveUID != first.DriveUID {
		t.Fatalf("expected stable UID across resolutions, got %q then %q", first.DriveUID, second.DriveUID)
	}

	names, err := ud.ListDrives(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "alpha" {
		t.Fatalf("expected exactly one root drive %q, got %v", "alpha", names)
	}
}

func TestMissingDriveWithoutAutocreate(t *testing.T) {
	ctx := context.Background()
	sc := newTestContext(t)
	ud := authorisedDrives(t, sc, "user-guid-1")

	if _, err := ud.GetDrive(ctx, "nope", false); err == nil {
		t.Fatal("expected MissingDriveError")
	} else if _, ok := err.(*svcerrors.MissingDriveError); !ok {
		t.Fatalf("expected MissingDriveError, got %T", err)
	}
}

func TestConcurrentFirstCreateConvergesOnOneUID(t *testing.T) {
	ctx := context.Background()
	sc := newTestContext(t)

	const n = 8
	uids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			ud := authorisedDrives(t, sc, "shared-user-guid")
			info, err := ud.GetDrive(ctx, "shared", true)
			if err != nil {
				errs[i] = err
				return
			}
			uids[i] = info.DriveUID
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("goroutine %d failed: %v", i, err)
		}
	}
	for i := 1; i < n; i++ {
		if uids[i] != uids[0] {
			t.Fatalf("expected all concurrent creators to converge on one UID, got %v", uids)
		}
	}

	ud := authorisedDrives(t, sc, "shared-user-guid")
	names, err := ud.ListDrives(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 {
		t.Fatalf("expected exactly one binding to exist, got %v", names)
	}
}

func TestDotDotInPathIsRejected(t *testing.T) {
	ctx := context.Background()
	sc := newTestContext(t)
	ud := authorisedDrives(t, sc, "user-guid-1")

	if _, err := ud.GetDrive(ctx, "alpha", true); err != nil {
		t.Fatal(err)
	}

	if _, err := ud.GetDrive(ctx, "alpha/beta/../gamma", true); err == nil {
		t.Fatal("expected an error resolving a path containing \"..\"")
	}

	names, err := ud.ListDrives(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 {
		t.Fatalf("rejected path must not create any subdrive bindings, got %v", names)
	}
}

func TestAuthorisationUserGUIDMismatchIsRejected(t *testing.T) {
	sc := newTestContext(t)
	tokenStr, err := auth.Sign(testSecret, "user-1", "real-guid", ResourceUserDrives, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	tok, err := auth.Parse(tokenStr, testSecret)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewFromAuthorisation(sc, tok, "different-guid"); err == nil {
		t.Fatal("expected rejection when caller-supplied user_guid disagrees with the token")
	}
}

func TestGetDrivesResolvesIndependentPathsConcurrently(t *testing.T) {
	ctx := context.Background()
	sc := newTestContext(t)
	ud := authorisedDrives(t, sc, "user-guid-1")

	infos, err := ud.GetDrives(ctx, []string{"one", "two", "three"}, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 3 {
		t.Fatalf("expected 3 results, got %d", len(infos))
	}
	seen := map[string]bool{}
	for _, info := range infos {
		seen[info.DriveUID] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 distinct UIDs, got %d", len(seen))
	}
}
