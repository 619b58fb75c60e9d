package objstore

import (
	"testing"
	"time"
)

func TestResolveAccessTypeObjectScope(t *testing.T) {
	cases := []struct {
		readable, writeable bool
		want                AccessType
		wantErr             bool
	}{
		{true, true, AccessObjectReadWrite, false},
		{true, false, AccessObjectRead, false},
		{false, true, AccessObjectWrite, false},
		{false, false, "", true},
	}
	for _, c := range cases {
		got, err := ResolveAccessType(false, c.readable, c.writeable)
		if c.wantErr {
			if err == nil {
				t.Fatalf("expected an error for readable=%v writeable=%v", c.readable, c.writeable)
			}
			continue
		}
		if err != nil || got != c.want {
			t.Fatalf("readable=%v writeable=%v: want %v, got %v (err=%v)", c.readable, c.writeable, c.want, got, err)
		}
	}
}

func TestResolveAccessTypeBucketScope(t *testing.T) {
	if _, err := ResolveAccessType(true, true, false); err == nil {
		t.Fatal("a readable bucket-scope PAR must be rejected")
	}
	if _, err := ResolveAccessType(true, true, true); err == nil {
		t.Fatal("a readable+writeable bucket-scope PAR must still be rejected")
	}
	// Every non-readable bucket-scope PAR resolves to AnyObjectWrite,
	// matching the original driver's unconditional assignment for
	// is_bucket — it never itself checks writeable (see ResolveAccessType).
	got, err := ResolveAccessType(true, false, true)
	if err != nil || got != AccessAnyObjectWrite {
		t.Fatalf("want AccessAnyObjectWrite, got %v (err=%v)", got, err)
	}
	got, err = ResolveAccessType(true, false, false)
	if err != nil || got != AccessAnyObjectWrite {
		t.Fatalf("want AccessAnyObjectWrite even for writeable=false, got %v (err=%v)", got, err)
	}
}

func TestValidateDuration(t *testing.T) {
	if err := ValidateDuration(time.Second); err == nil {
		t.Fatal("durations under the 5s floor must be rejected")
	}
	if err := ValidateDuration(time.Hour); err != nil {
		t.Fatalf("an hour-long duration should be accepted: %v", err)
	}
}

func TestQualifyURL(t *testing.T) {
	got := QualifyURL("https://objstore.local/", "/par/bucket/id")
	want := "https://objstore.local/par/bucket/id"
	if got != want {
		t.Fatalf("want %q, got %q", want, got)
	}
}
