package svcaccount

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/svctrust/core/objstore"
	"github.com/svctrust/core/objstore/drivers/mem"
)

// sharedContext builds a ServiceContext over store/bucket, the way two
// processes of the same service would each hold their own
// *ServiceContext (and caches) pointed at the one object store.
func sharedContext(store objstore.Store, bucket objstore.Bucket, rotationPeriod time.Duration) *ServiceContext {
	sc, err := NewServiceContext(store, bucket, "correct-horse-battery-staple", rotationPeriod, 2*time.Second)
	Expect(err).NotTo(HaveOccurred())
	return sc
}

var _ = Describe("key rotation protocol", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	// newBootstrapped returns a fresh store/bucket bootstrapped by a
	// ServiceContext configured with rotationPeriod, so the persisted
	// Service record's own KeyRotationPeriod (what ShouldRefreshKeys
	// actually compares against) matches what each spec needs.
	newBootstrapped := func(rotationPeriod time.Duration) (objstore.Store, objstore.Bucket) {
		store := mem.New("https://objstore.local")
		bucket, err := store.GetBucket(ctx, "svc", "", true)
		Expect(err).NotTo(HaveOccurred())
		bootstrap := sharedContext(store, bucket, rotationPeriod)
		_, err = bootstrap.SetupServiceInfo(ctx, "https://svc.example", ServiceStorage)
		Expect(err).NotTo(HaveOccurred())
		return store, bucket
	}

	It("is a no-op before the rotation period elapses", func() {
		store, bucket := newBootstrapped(time.Hour)
		sc := sharedContext(store, bucket, time.Hour)
		before, err := sc.GetServiceInfo(ctx, true)
		Expect(err).NotTo(HaveOccurred())

		after, err := sc.GetServiceInfo(ctx, true)
		Expect(err).NotTo(HaveOccurred())

		Expect(after.CurrentKeyPair.Fingerprint).To(Equal(before.CurrentKeyPair.Fingerprint))
	})

	It("rotates in place and archives the superseded key once the period elapses", func() {
		store, bucket := newBootstrapped(time.Millisecond)
		sc := sharedContext(store, bucket, time.Millisecond)
		before, err := sc.GetServiceInfo(ctx, true)
		Expect(err).NotTo(HaveOccurred())
		oldFingerprint := before.CurrentKeyPair.Fingerprint

		time.Sleep(5 * time.Millisecond)
		after, err := sc.GetServiceInfo(ctx, true)
		Expect(err).NotTo(HaveOccurred())

		Expect(after.CurrentKeyPair.Fingerprint).NotTo(Equal(oldFingerprint))
		Expect(after.PreviousKeyPair).NotTo(BeNil())
		Expect(after.PreviousKeyPair.Fingerprint).To(Equal(oldFingerprint))

		names, err := store.ListObjects(ctx, bucket, "_service_key/oldkeys")
		Expect(err).NotTo(HaveOccurred())
		Expect(names).NotTo(BeEmpty())
	})

	It("lets exactly one of two concurrently racing rotators win, and the loser reloads the winner's record", func() {
		// A generous rotation period keeps the un-rotated "before" read
		// comfortably inside the window, so only the deliberate sleep
		// below — not ordinary call latency — crosses the threshold.
		const period = 100 * time.Millisecond
		store, bucket := newBootstrapped(period)
		scA := sharedContext(store, bucket, period)
		scB := sharedContext(store, bucket, period)

		before, err := scA.GetServiceInfo(ctx, true)
		Expect(err).NotTo(HaveOccurred())
		time.Sleep(period + 50*time.Millisecond)

		var wg sync.WaitGroup
		results := make([]*Service, 2)
		errs := make([]error, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			svc, err := scA.GetServiceInfo(ctx, true)
			results[0], errs[0] = svc, err
		}()
		go func() {
			defer wg.Done()
			svc, err := scB.GetServiceInfo(ctx, true)
			results[1], errs[1] = svc, err
		}()
		wg.Wait()

		Expect(errs[0]).NotTo(HaveOccurred())
		Expect(errs[1]).NotTo(HaveOccurred())

		// Both processes must observe the very same winning fingerprint:
		// the rotation protocol's "release lock, then archive" ordering
		// guarantees the public identity never forks between them.
		Expect(results[0].CurrentKeyPair.Fingerprint).To(Equal(results[1].CurrentKeyPair.Fingerprint))
		Expect(results[0].CurrentKeyPair.Fingerprint).NotTo(Equal(before.CurrentKeyPair.Fingerprint))

		names, err := store.ListObjects(ctx, bucket, "_service_key/oldkeys")
		Expect(err).NotTo(HaveOccurred())
		Expect(names).To(HaveLen(1), "only the winning rotation archives old keys")
	})
})
