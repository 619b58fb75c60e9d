// Package svcaccount implements the persisted service identity (C5): a
// password-locked record holding a service's URL, type, UID and rotating
// key/certificate material, plus the rotation protocol, the admin-roster
// substrate it shares a mutex discipline with, and the fixed-size LRU
// caches that keep hot reads off the object store.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package svcaccount

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/svctrust/core/cmn/debug"
	"github.com/svctrust/core/encoding"
	"github.com/svctrust/core/lock"
	"github.com/svctrust/core/metrics"
	"github.com/svctrust/core/objstore"
	"github.com/svctrust/core/persist"
	"github.com/svctrust/core/svcerrors"
)

// ServiceType enumerates the principal kinds this module's federation
// recognises.
type ServiceType string

const (
	ServiceIdentity   ServiceType = "identity"
	ServiceAccounting ServiceType = "accounting"
	ServiceStorage    ServiceType = "storage"
	ServiceCompute    ServiceType = "compute"
	ServiceAccess     ServiceType = "access"
	ServiceRegistry   ServiceType = "registry"
)

// DefaultKeyRotationPeriod is used when a ServiceContext is not given an
// explicit one.
const DefaultKeyRotationPeriod = 90 * 24 * time.Hour

const serviceKey = "_service_key"

// Service is this process's cryptographic identity: a stable UID, its
// advertised URL and type, the currently active key/cert pair, the
// pair it superseded (kept for fingerprint fallback), and the clock
// driving rotation.
type Service struct {
	UID               string       `json:"uid"`
	CanonicalURL      string       `json:"canonical_url"`
	ServiceType       ServiceType  `json:"service_type"`
	CurrentKeyPair    *KeyPair     `json:"current_key_pair"`
	PreviousKeyPair   *KeyPair     `json:"previous_key_pair,omitempty"`
	CurrentCertPair   *CertPair    `json:"current_cert_pair"`
	PreviousCertPair  *CertPair    `json:"previous_cert_pair,omitempty"`
	LastKeyUpdate     time.Time    `json:"last_key_update"`
	KeyRotationPeriod time.Duration `json:"key_rotation_period"`
}

// OldKeys is the archived pre-rotation key/cert bundle written to
// _service_key/oldkeys/<datetime> by every successful rotation.
type OldKeys struct {
	KeyPair  *KeyPair  `json:"key_pair"`
	CertPair *CertPair `json:"cert_pair"`
	Datetime time.Time `json:"datetime"`
}

// ShouldRefreshKeys reports whether this record's key age exceeds its
// rotation period.
func (s *Service) ShouldRefreshKeys() bool {
	return encoding.GetDatetimeNow().Sub(s.LastKeyUpdate) >= s.KeyRotationPeriod
}

// DumpKeys captures the currently active key/cert pair for archival,
// stamped with the moment of capture.
func (s *Service) DumpKeys() OldKeys {
	return OldKeys{KeyPair: s.CurrentKeyPair, CertPair: s.CurrentCertPair, Datetime: encoding.GetDatetimeNow()}
}

// clone returns a deep-enough copy for speculative in-memory rotation:
// the candidate can be discarded without mutating the persisted value
// another goroutine might still be reading from cache.
func (s *Service) clone() *Service {
	cp := *s
	return &cp
}

// refreshKeys generates a fresh key and certificate pair in memory,
// demoting the current pair to previous and stamping LastKeyUpdate to
// now. It does not touch the object store; callers persist the result
// through the rotation protocol in ServiceContext.rotateKeys.
func (s *Service) refreshKeys() error {
	newKeys, err := generateKeyPair()
	if err != nil {
		return err
	}
	newCert, err := generateCertPair(s.CanonicalURL, s.KeyRotationPeriod*2)
	if err != nil {
		return err
	}
	s.PreviousKeyPair = s.CurrentKeyPair
	s.PreviousCertPair = s.CurrentCertPair
	s.CurrentKeyPair = newKeys
	s.CurrentCertPair = newCert
	s.LastKeyUpdate = encoding.GetDatetimeNow()
	return nil
}

// publicView returns a copy with private key material stripped, the
// representation get_service_info returns when need_private_access is
// false.
func (s *Service) publicView() *Service {
	cp := s.clone()
	if cp.CurrentKeyPair != nil {
		pub := *cp.CurrentKeyPair
		pub.PrivateKeyPEM = nil
		cp.CurrentKeyPair = &pub
	}
	if cp.PreviousKeyPair != nil {
		pub := *cp.PreviousKeyPair
		pub.PrivateKeyPEM = nil
		cp.PreviousKeyPair = &pub
	}
	if cp.CurrentCertPair != nil {
		pub := *cp.CurrentCertPair
		pub.PrivateKeyPEM = nil
		cp.CurrentCertPair = &pub
	}
	if cp.PreviousCertPair != nil {
		pub := *cp.PreviousCertPair
		pub.PrivateKeyPEM = nil
		cp.PreviousCertPair = &pub
	}
	return cp
}

// ServiceContext is the handle every privileged call in this package
// takes: the object store, which bucket the service's own state lives
// in, the process-wide service password, and the five read-mostly LRU
// caches (see DESIGN.md, C5) that keep hot reads off the store.
type ServiceContext struct {
	Store             objstore.Store
	Bucket            objstore.Bucket
	Password          string
	KeyRotationPeriod time.Duration
	MutexTimeout      time.Duration

	serviceInfoData    *lruCache
	serviceObject      *lruCache
	adminUsersCache    *lruCache
	serviceUserAccount *lruCache
	serviceAccountUID  *lruCache
}

// NewServiceContext builds a ServiceContext. password must be non-empty:
// callers are expected to have already enforced SERVICE_PASSWORD's
// presence at process startup (see package config), but this is the
// last line of defence before any private-material operation.
func NewServiceContext(store objstore.Store, bucket objstore.Bucket, password string, rotationPeriod, mutexTimeout time.Duration) (*ServiceContext, error) {
	if password == "" {
		return nil, svcerrors.NewServiceAccountError("SERVICE_PASSWORD is required")
	}
	if rotationPeriod <= 0 {
		rotationPeriod = DefaultKeyRotationPeriod
	}
	if mutexTimeout <= 0 {
		mutexTimeout = lock.DefaultTimeout
	}
	return &ServiceContext{
		Store:              store,
		Bucket:             bucket,
		Password:           password,
		KeyRotationPeriod:  rotationPeriod,
		MutexTimeout:       mutexTimeout,
		serviceInfoData:    newLRU(5),
		serviceObject:      newLRU(5),
		adminUsersCache:    newLRU(5),
		serviceUserAccount: newLRU(5),
		serviceAccountUID:  newLRU(5),
	}, nil
}

func (sc *ServiceContext) mutex(key string) *lock.Mutex {
	return lock.New(sc.Store, sc.Bucket, key, sc.MutexTimeout, 0)
}

// ClearServiceInfoCache empties all five caches. rotateKeys calls this
// after every rotation attempt; package admin clears only the
// admin-roster slot (AdminRosterCacheClear).
func (sc *ServiceContext) ClearServiceInfoCache() {
	sc.serviceInfoData.Clear()
	sc.serviceObject.Clear()
	sc.adminUsersCache.Clear()
	sc.serviceUserAccount.Clear()
	sc.serviceAccountUID.Clear()
}

func (sc *ServiceContext) storeService(ctx context.Context, svc *Service) error {
	plaintext, err := persist.Marshal(svc)
	if err != nil {
		return svcerrors.NewServiceAccountError("encoding service record: %v", err)
	}
	encrypted, err := encryptServiceRecord(sc.Password, plaintext)
	if err != nil {
		return svcerrors.NewServiceAccountError("encrypting service record: %v", err)
	}
	if err := sc.Store.SetObject(ctx, sc.Bucket, serviceKey, encrypted); err != nil {
		return err
	}
	sc.serviceInfoData.Set(serviceKey, encrypted)
	sc.serviceObject.Set(svc.UID, svc)
	return nil
}

// loadService reads and decrypts the persisted record, or returns (nil,
// nil) if none has ever been written (bootstrap not yet performed).
func (sc *ServiceContext) loadService(ctx context.Context) (*Service, error) {
	var encrypted []byte
	if cached, ok := sc.serviceInfoData.Get(serviceKey); ok {
		encrypted = cached.([]byte)
	} else {
		data, err := sc.Store.GetObject(ctx, sc.Bucket, serviceKey)
		if err != nil {
			return nil, nil
		}
		encrypted = data
		sc.serviceInfoData.Set(serviceKey, encrypted)
	}
	plaintext, err := decryptServiceRecord(sc.Password, encrypted)
	if err != nil {
		return nil, svcerrors.NewServiceAccountError("%v", err)
	}
	var svc Service
	if err := persist.Unmarshal(plaintext, &svc); err != nil {
		return nil, svcerrors.NewServiceAccountError("decoding service record: %v", err)
	}
	sc.serviceObject.Set(svc.UID, &svc)
	return &svc, nil
}

// SetupServiceInfo is idempotent: the first call for a never-bootstrapped
// service creates and persists a fresh identity; every later call just
// verifies canonicalURL/serviceType still match and returns the existing
// record.
func (sc *ServiceContext) SetupServiceInfo(ctx context.Context, canonicalURL string, serviceType ServiceType) (*Service, error) {
	mu := sc.mutex(serviceKey)
	if err := mu.Lock(ctx); err != nil {
		return nil, err
	}
	defer mu.Unlock(ctx)

	existing, err := sc.loadService(ctx)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.CanonicalURL != canonicalURL || existing.ServiceType != serviceType {
			return nil, svcerrors.NewServiceAccountError(
				"service already bootstrapped as (%s, %s), got (%s, %s)",
				existing.CanonicalURL, existing.ServiceType, canonicalURL, serviceType)
		}
		return existing, nil
	}

	keyPair, err := generateKeyPair()
	if err != nil {
		return nil, svcerrors.NewServiceAccountError("%v", err)
	}
	certPair, err := generateCertPair(canonicalURL, sc.KeyRotationPeriod*2)
	if err != nil {
		return nil, svcerrors.NewServiceAccountError("%v", err)
	}
	svc := &Service{
		UID:               encoding.CreateUUID(),
		CanonicalURL:      canonicalURL,
		ServiceType:       serviceType,
		CurrentKeyPair:    keyPair,
		CurrentCertPair:   certPair,
		LastKeyUpdate:     encoding.GetDatetimeNow(),
		KeyRotationPeriod: sc.KeyRotationPeriod,
	}
	if err := sc.storeService(ctx, svc); err != nil {
		return nil, err
	}
	return svc, nil
}

// GetServiceInfo returns the cached or freshly loaded Service. Without
// needPrivateAccess, private key/certificate material is stripped from
// the result.
func (sc *ServiceContext) GetServiceInfo(ctx context.Context, needPrivateAccess bool) (*Service, error) {
	svc, err := sc.loadService(ctx)
	if err != nil {
		return nil, err
	}
	if svc == nil {
		return nil, svcerrors.NewMissingServiceAccountError("setup_service_info was never called")
	}
	if needPrivateAccess {
		if err := sc.refreshServiceKeysAndCerts(ctx, svc); err != nil {
			return nil, err
		}
		// refreshServiceKeysAndCerts may have rotated; re-read to get the
		// winning version.
		svc, err = sc.loadService(ctx)
		if err != nil {
			return nil, err
		}
		return svc, nil
	}
	return svc.publicView(), nil
}

// refreshServiceKeysAndCerts is the no-op-unless-due hook every
// private-material accessor calls before reading.
func (sc *ServiceContext) refreshServiceKeysAndCerts(ctx context.Context, svc *Service) error {
	if !svc.ShouldRefreshKeys() {
		return nil
	}
	return sc.rotateKeys(ctx, svc)
}

// rotateKeys implements the rotation protocol (see DESIGN.md, C5):
// generate new material off the lock, then take the per-service mutex
// only to decide, by comparing LastKeyUpdate against the value captured
// before rotating, whether this goroutine's candidate is still the
// authoritative next version or whether another actor already won.
func (sc *ServiceContext) rotateKeys(ctx context.Context, svc *Service) error {
	lastUpdate := svc.LastKeyUpdate
	oldKeys := svc.DumpKeys()

	candidate := svc.clone()
	if err := candidate.refreshKeys(); err != nil {
		return svcerrors.NewServiceAccountError("%v", err)
	}

	mu := sc.mutex(svc.UID)
	if err := mu.Lock(ctx); err != nil {
		return err
	}

	// Drop the cached record bytes so the comparison below sees what is
	// in the store now, not what this context read before rotating.
	sc.serviceInfoData.Clear()
	persisted, err := sc.loadService(ctx)
	if err != nil {
		mu.Unlock(ctx)
		return err
	}
	if persisted == nil {
		mu.Unlock(ctx)
		return svcerrors.NewMissingServiceAccountError("service record vanished mid-rotation")
	}

	won := persisted.LastKeyUpdate.Equal(lastUpdate)
	if won {
		debug.Assert(candidate.CurrentKeyPair.Fingerprint != oldKeys.KeyPair.Fingerprint,
			"rotation: candidate key must differ from the archived key")
		if err := sc.storeService(ctx, candidate); err != nil {
			mu.Unlock(ctx)
			return err
		}
	}
	mu.Unlock(ctx)

	sc.ClearServiceInfoCache()
	metrics.RecordRotation(won)

	if won {
		log.Info().Str("service_uid", svc.UID).Msg("svcaccount: key rotation won the race, archiving old keys")
		archiveKey := fmt.Sprintf("%s/oldkeys/%s", serviceKey, encoding.DatetimeToString(oldKeys.Datetime))
		if err := sc.Store.SetObjectFromJSON(ctx, sc.Bucket, archiveKey, oldKeys); err != nil {
			return err
		}
	} else {
		log.Info().Str("service_uid", svc.UID).Msg("svcaccount: key rotation lost the race, discarding local candidate")
	}
	return nil
}

// lookupKeyPair resolves fingerprint against current, then previous, the
// same two-generation fallback the spec requires so a peer that cached a
// just-rotated-away public key still validates.
func lookupKeyPair(svc *Service, fingerprint string) (*KeyPair, error) {
	if fingerprint == "" || (svc.CurrentKeyPair != nil && svc.CurrentKeyPair.Fingerprint == fingerprint) {
		return svc.CurrentKeyPair, nil
	}
	if svc.PreviousKeyPair != nil && svc.PreviousKeyPair.Fingerprint == fingerprint {
		return svc.PreviousKeyPair, nil
	}
	return nil, svcerrors.NewServiceAccountError("no key matches fingerprint %q", fingerprint)
}

func lookupCertPair(svc *Service, fingerprint string) (*CertPair, error) {
	if fingerprint == "" || (svc.CurrentCertPair != nil && svc.CurrentCertPair.Fingerprint == fingerprint) {
		return svc.CurrentCertPair, nil
	}
	if svc.PreviousCertPair != nil && svc.PreviousCertPair.Fingerprint == fingerprint {
		return svc.PreviousCertPair, nil
	}
	return nil, svcerrors.NewServiceAccountError("no certificate matches fingerprint %q", fingerprint)
}

// GetServicePrivateKey returns the PEM private key matching fingerprint
// (or the current one if fingerprint is empty), refreshing keys first if
// they are due for rotation.
func (sc *ServiceContext) GetServicePrivateKey(ctx context.Context, fingerprint string) ([]byte, error) {
	svc, err := sc.GetServiceInfo(ctx, true)
	if err != nil {
		return nil, err
	}
	kp, err := lookupKeyPair(svc, fingerprint)
	if err != nil {
		return nil, err
	}
	return kp.PrivateKeyPEM, nil
}

// GetServicePublicKey is the public counterpart; it does not require
// private access and therefore never triggers rotation on its own (the
// caller's next private-access call does that).
func (sc *ServiceContext) GetServicePublicKey(ctx context.Context, fingerprint string) ([]byte, error) {
	svc, err := sc.GetServiceInfo(ctx, false)
	if err != nil {
		return nil, err
	}
	kp, err := lookupKeyPair(svc, fingerprint)
	if err != nil {
		return nil, err
	}
	return kp.PublicKeyPEM, nil
}

func (sc *ServiceContext) GetServicePrivateCertificate(ctx context.Context, fingerprint string) ([]byte, error) {
	svc, err := sc.GetServiceInfo(ctx, true)
	if err != nil {
		return nil, err
	}
	cp, err := lookupCertPair(svc, fingerprint)
	if err != nil {
		return nil, err
	}
	return cp.PrivateKeyPEM, nil
}

func (sc *ServiceContext) GetServicePublicCertificate(ctx context.Context, fingerprint string) ([]byte, error) {
	svc, err := sc.GetServiceInfo(ctx, false)
	if err != nil {
		return nil, err
	}
	cp, err := lookupCertPair(svc, fingerprint)
	if err != nil {
		return nil, err
	}
	return cp.CertificatePEM, nil
}
