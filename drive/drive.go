// Package drive implements the hierarchical user-drive resolver (C8):
// mapping a user-assigned, slash-separated path name to a stable drive
// UID, with authorised auto-creation and first-creator-wins convergence
// under concurrent resolution, the same shape as the admin roster's
// use of a ServiceContext but keyed per user rather than per service.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package drive

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/svctrust/core/auth"
	"github.com/svctrust/core/cmn/debug"
	"github.com/svctrust/core/encoding"
	"github.com/svctrust/core/svcaccount"
	"github.com/svctrust/core/svcerrors"
)

// ResourceUserDrives is the resource string an Authorisation must cover
// to construct an authorised UserDrives.
const ResourceUserDrives = "UserDrives"

const (
	rootPrefix     = "storage/drives/"
	subdrivePrefix = "storage/subdrives/"
)

// UserDrives resolves drive names for a single user_guid namespace. It is
// constructed either from a verified Authorisation (is_authorised=true,
// user_guid taken from the token) or from a bare user_guid
// (is_authorised=false, so autocreate is always refused).
type UserDrives struct {
	sc           *svcaccount.ServiceContext
	userGUID     string
	isAuthorised bool
}

// DriveInfo is the result of a successful path resolution: the UID the
// final path component is bound to, the namespace it was resolved in,
// and whether the resolving UserDrives was authorised (callers may use
// this to decide whether to permit a subsequent autocreate on the same
// handle without re-verifying).
type DriveInfo struct {
	DriveUID     string
	UserGUID     string
	IsAuthorised bool
}

// NewFromAuthorisation builds an authorised UserDrives from a verified
// delegated-access token. callerGUID, if non-empty, must agree with the
// token's UserGUID — a caller presenting both a token and an explicit
// user_guid that disagree is almost certainly a confused-deputy bug, not
// a legitimate cross-user request, so it is rejected rather than silently
// preferring one.
func NewFromAuthorisation(sc *svcaccount.ServiceContext, authorisation *auth.Authorisation, callerGUID string) (*UserDrives, error) {
	if authorisation == nil {
		return nil, svcerrors.NewPermissionError("UserDrives requires an authorisation or an explicit user_guid")
	}
	if err := authorisation.Verify(ResourceUserDrives); err != nil {
		return nil, svcerrors.NewPermissionError("%v", err)
	}
	guid := authorisation.UserGUID()
	if guid == "" {
		return nil, svcerrors.NewPermissionError("authorisation carries no user_guid")
	}
	if callerGUID != "" && callerGUID != guid {
		return nil, svcerrors.NewPermissionError(
			"caller-supplied user_guid %q disagrees with the authorised user_guid %q", callerGUID, guid)
	}
	return &UserDrives{sc: sc, userGUID: guid, isAuthorised: true}, nil
}

// NewFromUserGUID builds an unauthorised UserDrives scoped to userGUID
// directly. Resolution still succeeds for existing bindings; autocreate
// is always refused since nothing vouches for the caller.
func NewFromUserGUID(sc *svcaccount.ServiceContext, userGUID string) (*UserDrives, error) {
	if userGUID == "" {
		return nil, svcerrors.NewPermissionError("user_guid must not be empty")
	}
	return &UserDrives{sc: sc, userGUID: userGUID, isAuthorised: false}, nil
}

// IsAuthorised reports whether this handle was constructed from a
// verified Authorisation.
func (u *UserDrives) IsAuthorised() bool { return u.isAuthorised }

// UserGUID returns the namespace this handle resolves within.
func (u *UserDrives) UserGUID() string { return u.userGUID }

func rootKey(userGUID, encodedName string) string {
	return fmt.Sprintf("%s%s/%s", rootPrefix, userGUID, encodedName)
}

func subdriveKey(userGUID, parentUID, encodedName string) string {
	return fmt.Sprintf("%s%s/%s/%s", subdrivePrefix, userGUID, parentUID, encodedName)
}

// ListDrives returns the decoded names of every immediate child of this
// user's root drive namespace.
func (u *UserDrives) ListDrives(ctx context.Context) ([]string, error) {
	prefix := rootPrefix + u.userGUID
	encoded, err := u.sc.Store.ListObjects(ctx, u.sc.Bucket, prefix)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(encoded))
	for _, enc := range encoded {
		name, err := encoding.EncodedToString(enc)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

// resolveComponent resolves one path component relative to key, returning
// its bound drive UID. With autocreate and authorisation, an absent
// binding is raced via SetInsStringObject: whichever caller's candidate
// UUID is written first becomes the UID every racing caller converges on.
func (u *UserDrives) resolveComponent(ctx context.Context, key, displayName string, autocreate bool) (string, error) {
	uid, err := u.sc.Store.GetStringObject(ctx, u.sc.Bucket, key)
	if err == nil {
		return uid, nil
	}
	if !autocreate || !u.isAuthorised {
		return "", svcerrors.NewMissingDriveError(displayName)
	}
	candidate := encoding.CreateUUID()
	winner, err := u.sc.Store.SetInsStringObject(ctx, u.sc.Bucket, key, candidate)
	debug.Assertf(err != nil || winner != "", "drive: %q resolved to an empty UID", key)
	return winner, err
}

// GetDrive resolves a "/"-separated hierarchical drive path to its
// stable UID, walking root binding then nested subdrive bindings one
// component at a time. With autocreate, only an authorised UserDrives
// may mint new bindings; an unauthorised or autocreate-disabled
// resolution of a missing component fails with MissingDriveError and
// writes nothing.
func (u *UserDrives) GetDrive(ctx context.Context, path string, autocreate bool) (*DriveInfo, error) {
	parts, err := encoding.StringToFilepathParts(path)
	if err != nil {
		return nil, err
	}

	key := rootKey(u.userGUID, encoding.StringToEncoded(parts[0]))
	uid, err := u.resolveComponent(ctx, key, parts[0], autocreate)
	if err != nil {
		return nil, err
	}

	for _, part := range parts[1:] {
		// Each remaining component must itself be a single path segment:
		// a subdrive name containing an embedded separator is rejected
		// the same way the root component would be.
		solo, err := encoding.StringToFilepathParts(part)
		if err != nil {
			return nil, err
		}
		if len(solo) != 1 {
			return nil, svcerrors.NewMissingDriveError(part)
		}
		key = subdriveKey(u.userGUID, uid, encoding.StringToEncoded(part))
		uid, err = u.resolveComponent(ctx, key, part, autocreate)
		if err != nil {
			return nil, err
		}
	}

	return &DriveInfo{DriveUID: uid, UserGUID: u.userGUID, IsAuthorised: u.isAuthorised}, nil
}

// GetDrives resolves several top-level-independent paths concurrently,
// the way sibling subdrive components in unrelated trees never need to
// serialise against each other. Each path is resolved by an independent
// GetDrive call; the first resolution error cancels the rest and is
// returned.
func (u *UserDrives) GetDrives(ctx context.Context, paths []string, autocreate bool) ([]*DriveInfo, error) {
	results := make([]*DriveInfo, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			info, err := u.GetDrive(gctx, p, autocreate)
			if err != nil {
				return err
			}
			results[i] = info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
