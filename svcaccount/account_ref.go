package svcaccount

import (
	"context"
	"fmt"

	"github.com/svctrust/core/encoding"
	"github.com/svctrust/core/persist"
)

const accountKeyPrefix = serviceKey + "/account/"

// GetServiceUserAccountUID returns this service's payout-account UID with
// accountingServiceUID, if one has already been created, caching the
// result (the "service-user-account" cache slot).
func (sc *ServiceContext) GetServiceUserAccountUID(ctx context.Context, accountingServiceUID string) (string, bool, error) {
	if cached, ok := sc.serviceUserAccount.Get(accountingServiceUID); ok {
		return cached.(string), true, nil
	}
	key := accountKeyPrefix + accountingServiceUID
	uid, err := sc.Store.GetStringObject(ctx, sc.Bucket, key)
	if err != nil {
		return "", false, nil
	}
	sc.serviceUserAccount.Set(accountingServiceUID, uid)
	return uid, true, nil
}

// CreateServiceUserAccount registers this service's payout account with
// accountingServiceUID, using set_ins_string_object so concurrent
// bootstrap attempts against the same accounting service converge on one
// winning UID, mirroring get_drive's first-creator-wins discipline.
func (sc *ServiceContext) CreateServiceUserAccount(ctx context.Context, accountingServiceUID string) (string, error) {
	if existing, ok, err := sc.GetServiceUserAccountUID(ctx, accountingServiceUID); err != nil {
		return "", err
	} else if ok {
		return existing, nil
	}
	key := accountKeyPrefix + accountingServiceUID
	candidate := encoding.CreateUUID()
	uid, err := sc.Store.SetInsStringObject(ctx, sc.Bucket, key, candidate)
	if err != nil {
		return "", err
	}
	sc.serviceUserAccount.Set(accountingServiceUID, uid)
	sc.serviceAccountUID.Set(fmt.Sprintf("%s:%s", accountingServiceUID, uid), uid)
	return uid, nil
}

const credentialKeyPrefix = serviceKey + "/credentials/"

// CredentialBundle is the login material a service needs to act as a
// specific object-store account, mirroring upload_credentials.py's
// payload (OCI user OCID, key fingerprint, PEM key lines, tenancy,
// passphrase, region, plus the target compartment/bucket). It is
// encrypted at rest exactly like Service, under the same process-wide
// password, because it carries the same class of secret.
type CredentialBundle struct {
	Name        string `json:"name"`
	User        string `json:"user"`
	Fingerprint string `json:"fingerprint"`
	KeyLines    string `json:"key_lines"`
	Tenancy     string `json:"tenancy"`
	PassPhrase  string `json:"pass_phrase"`
	Region      string `json:"region"`
	Compartment string `json:"compartment"`
	Bucket      string `json:"bucket"`
}

// StoreCredentialBundle encrypts and writes bundle at
// _service_key/credentials/<name>, overwriting any prior bundle under
// that name.
func (sc *ServiceContext) StoreCredentialBundle(ctx context.Context, bundle *CredentialBundle) error {
	plaintext, err := persist.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("svcaccount: encoding credential bundle: %w", err)
	}
	encrypted, err := encryptServiceRecord(sc.Password, plaintext)
	if err != nil {
		return fmt.Errorf("svcaccount: encrypting credential bundle: %w", err)
	}
	return sc.Store.SetObject(ctx, sc.Bucket, credentialKeyPrefix+bundle.Name, encrypted)
}

// LoadCredentialBundle decrypts and returns the bundle stored under name.
func (sc *ServiceContext) LoadCredentialBundle(ctx context.Context, name string) (*CredentialBundle, error) {
	encrypted, err := sc.Store.GetObject(ctx, sc.Bucket, credentialKeyPrefix+name)
	if err != nil {
		return nil, err
	}
	plaintext, err := decryptServiceRecord(sc.Password, encrypted)
	if err != nil {
		return nil, fmt.Errorf("svcaccount: %w", err)
	}
	var bundle CredentialBundle
	if err := persist.Unmarshal(plaintext, &bundle); err != nil {
		return nil, fmt.Errorf("svcaccount: decoding credential bundle: %w", err)
	}
	return &bundle, nil
}
