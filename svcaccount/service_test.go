package svcaccount

import (
	"context"
	"testing"
	"time"

	"github.com/svctrust/core/objstore/drivers/mem"
)

func newTestContext(t *testing.T, rotationPeriod time.Duration) *ServiceContext {
	t.Helper()
	ctx := context.Background()
	d := mem.New("https://objstore.local")
	b, err := d.GetBucket(ctx, "svc", "", true)
	if err != nil {
		t.Fatal(err)
	}
	sc, err := NewServiceContext(d, b, "correct-horse-battery-staple", rotationPeriod, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	return sc
}

func TestSetupServiceInfoIsIdempotent(t *testing.T) {
	ctx := context.Background()
	sc := newTestContext(t, time.Hour)

	svc1, err := sc.SetupServiceInfo(ctx, "https://svc.example", ServiceStorage)
	if err != nil {
		t.Fatalf("first SetupServiceInfo failed: %v", err)
	}
	svc2, err := sc.SetupServiceInfo(ctx, "https://svc.example", ServiceStorage)
	if err != nil {
		t.Fatalf("second SetupServiceInfo failed: %v", err)
	}
	if svc1.UID != svc2.UID {
		t.Fatalf("UID must be stable across bootstrap calls: %q vs %q", svc1.UID, svc2.UID)
	}
}

func TestSetupServiceInfoRejectsMismatch(t *testing.T) {
	ctx := context.Background()
	sc := newTestContext(t, time.Hour)
	if _, err := sc.SetupServiceInfo(ctx, "https://svc.example", ServiceStorage); err != nil {
		t.Fatal(err)
	}
	if _, err := sc.SetupServiceInfo(ctx, "https://other.example", ServiceStorage); err == nil {
		t.Fatal("expected a ServiceAccountError for a canonical_url mismatch")
	}
	if _, err := sc.SetupServiceInfo(ctx, "https://svc.example", ServiceCompute); err == nil {
		t.Fatal("expected a ServiceAccountError for a service_type mismatch")
	}
}

func TestGetServiceInfoStripsPrivateMaterialByDefault(t *testing.T) {
	ctx := context.Background()
	sc := newTestContext(t, time.Hour)
	if _, err := sc.SetupServiceInfo(ctx, "https://svc.example", ServiceStorage); err != nil {
		t.Fatal(err)
	}
	pub, err := sc.GetServiceInfo(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if pub.CurrentKeyPair.PrivateKeyPEM != nil {
		t.Fatal("public view must not expose the private key")
	}
	priv, err := sc.GetServiceInfo(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if priv.CurrentKeyPair.PrivateKeyPEM == nil {
		t.Fatal("private-access view must expose the private key")
	}
}

func TestRotationReplacesKeysAndArchivesOld(t *testing.T) {
	ctx := context.Background()
	sc := newTestContext(t, time.Millisecond) // rotate on the very next access
	svc, err := sc.SetupServiceInfo(ctx, "https://svc.example", ServiceStorage)
	if err != nil {
		t.Fatal(err)
	}
	oldFingerprint := svc.CurrentKeyPair.Fingerprint

	time.Sleep(5 * time.Millisecond)
	rotated, err := sc.GetServiceInfo(ctx, true)
	if err != nil {
		t.Fatalf("GetServiceInfo(private) failed: %v", err)
	}
	if rotated.CurrentKeyPair.Fingerprint == oldFingerprint {
		t.Fatal("expected rotation to produce a new fingerprint")
	}
	if rotated.PreviousKeyPair == nil || rotated.PreviousKeyPair.Fingerprint != oldFingerprint {
		t.Fatal("expected the pre-rotation key to be demoted to previous")
	}

	names, err := sc.Store.ListObjects(ctx, sc.Bucket, "_service_key/oldkeys")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) == 0 {
		t.Fatal("expected an archived key bundle under _service_key/oldkeys")
	}
}

func TestGetServicePublicKeyFallsBackToPrevious(t *testing.T) {
	ctx := context.Background()
	sc := newTestContext(t, time.Millisecond)
	svc, err := sc.SetupServiceInfo(ctx, "https://svc.example", ServiceStorage)
	if err != nil {
		t.Fatal(err)
	}
	oldFingerprint := svc.CurrentKeyPair.Fingerprint

	time.Sleep(5 * time.Millisecond)
	if _, err := sc.GetServiceInfo(ctx, true); err != nil {
		t.Fatal(err)
	}

	if _, err := sc.GetServicePublicKey(ctx, oldFingerprint); err != nil {
		t.Fatalf("expected the previous fingerprint to still resolve: %v", err)
	}
	if _, err := sc.GetServicePublicKey(ctx, "not-a-real-fingerprint"); err == nil {
		t.Fatal("expected an unknown fingerprint to fail")
	}
}

func TestServiceUserAccountFirstCreatorWins(t *testing.T) {
	ctx := context.Background()
	sc := newTestContext(t, time.Hour)
	uid1, err := sc.CreateServiceUserAccount(ctx, "accounting-1")
	if err != nil {
		t.Fatal(err)
	}
	uid2, err := sc.CreateServiceUserAccount(ctx, "accounting-1")
	if err != nil {
		t.Fatal(err)
	}
	if uid1 != uid2 {
		t.Fatalf("re-creating the same account ref should converge: %q vs %q", uid1, uid2)
	}
}

func TestCredentialBundleRoundTrip(t *testing.T) {
	ctx := context.Background()
	sc := newTestContext(t, time.Hour)
	bundle := &CredentialBundle{
		Name:        "identity-admin",
		User:        "user-ocid",
		Fingerprint: "aa:bb:cc",
		KeyLines:    "-----BEGIN KEY-----\n...\n-----END KEY-----\n",
		Tenancy:     "tenancy-ocid",
		PassPhrase:  "hunter2",
		Region:      "eu-frankfurt-1",
		Compartment: "compartment-ocid",
		Bucket:      "acquire_compute",
	}
	if err := sc.StoreCredentialBundle(ctx, bundle); err != nil {
		t.Fatalf("StoreCredentialBundle failed: %v", err)
	}
	got, err := sc.LoadCredentialBundle(ctx, "identity-admin")
	if err != nil {
		t.Fatalf("LoadCredentialBundle failed: %v", err)
	}
	if got.User != bundle.User || got.PassPhrase != bundle.PassPhrase {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}
