// Package admin implements the admin roster (C6): the append-only set of
// user UIDs allowed to perform privileged operations on a service,
// bootstrapped by a sentinel first entry and extended only by delegation
// from an existing entry.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package admin

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/svctrust/core/auth"
	"github.com/svctrust/core/encoding"
	"github.com/svctrust/core/metrics"
	"github.com/svctrust/core/svcaccount"
	"github.com/svctrust/core/svcerrors"
)

// FirstAdminSentinel is recorded as the authorising identity of the very
// first roster entry, since no prior admin exists to delegate from.
const FirstAdminSentinel = "first admin"

const adminUsersKey = "_service_key/admin_users"

// Entry is one roster record: when account UID was enrolled and who
// authorised it (another admin's UID, or FirstAdminSentinel).
type Entry struct {
	EnrolledAt   string `json:"enrolled_at"`
	AuthorisedBy string `json:"authorised_by"`
}

// Roster is the full admin_user_uid -> Entry map.
type Roster map[string]Entry

func loadRoster(ctx context.Context, sc *svcaccount.ServiceContext) (Roster, error) {
	if cached, ok := sc.AdminRosterCacheGet(adminUsersKey); ok {
		return cached.(Roster), nil
	}
	var roster Roster
	found, err := sc.Store.GetObjectFromJSON(ctx, sc.Bucket, adminUsersKey, &roster)
	if err != nil {
		return nil, err
	}
	if !found || roster == nil {
		roster = Roster{}
	}
	sc.AdminRosterCacheSet(adminUsersKey, roster)
	return roster, nil
}

// GetAdminUsers returns the current roster. A service that has never
// bootstrapped (no roster has ever been written) fails with
// MissingServiceAccountError rather than returning an empty roster,
// since "empty roster" and "never bootstrapped" are meant to be
// distinguishable to callers deciding whether to treat the next
// add_admin_user as the bootstrap call.
func GetAdminUsers(ctx context.Context, sc *svcaccount.ServiceContext) (Roster, error) {
	if cached, ok := sc.AdminRosterCacheGet(adminUsersKey); ok {
		return cached.(Roster), nil
	}
	var roster Roster
	found, err := sc.Store.GetObjectFromJSON(ctx, sc.Bucket, adminUsersKey, &roster)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, svcerrors.NewMissingServiceAccountError("admin roster was never bootstrapped")
	}
	sc.AdminRosterCacheSet(adminUsersKey, roster)
	return roster, nil
}

// AddAdminUser delegates admin rights to accountUID. With an empty
// roster, authorisation is skipped and the entry is recorded as
// authorised by FirstAdminSentinel; otherwise authorisation must verify
// over the resource string accountUID and its signer must already be in
// the roster.
func AddAdminUser(ctx context.Context, sc *svcaccount.ServiceContext, accountUID string, authorisation *auth.Authorisation) error {
	mu := sc.Mutex(adminUsersKey)
	if err := mu.Lock(ctx); err != nil {
		return err
	}
	defer mu.Unlock(ctx)

	roster, err := loadRoster(ctx, sc)
	if err != nil {
		return err
	}

	authorisedBy := FirstAdminSentinel
	if len(roster) > 0 {
		if authorisation == nil {
			return svcerrors.NewServiceAccountError("authorisation is required once the roster is non-empty")
		}
		if err := authorisation.Verify(accountUID); err != nil {
			return svcerrors.NewServiceAccountError("authorisation does not cover account %q", accountUID)
		}
		signer := authorisation.UserUID()
		if _, ok := roster[signer]; !ok {
			return svcerrors.NewServiceAccountError("signer %q is not in the admin roster", signer)
		}
		authorisedBy = signer
	}

	roster[accountUID] = Entry{
		EnrolledAt:   encoding.DatetimeToString(encoding.GetDatetimeNow()),
		AuthorisedBy: authorisedBy,
	}
	if err := sc.Store.SetObjectFromJSON(ctx, sc.Bucket, adminUsersKey, roster); err != nil {
		return err
	}
	sc.AdminRosterCacheClear()
	metrics.RecordAdminMutation()
	log.Info().Str("account_uid", accountUID).Str("authorised_by", authorisedBy).Msg("admin: roster entry added")
	return nil
}
