// Package auth implements the delegated-access signature that every
// privileged call in this module (admin-roster delegation, UserDrives
// construction) accepts as proof the caller speaks for a given user: a
// compact, HMAC-signed JWT carrying the signer's UID and the resource it
// authorises, in the style of authn/utils.go's DecryptToken.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/svctrust/core/encoding"
)

var (
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrTokenExpired = errors.New("auth: token expired")
	ErrWrongUser    = errors.New("auth: token was not issued for this user")
)

type claims struct {
	UserUID  string `json:"user_uid"`
	UserGUID string `json:"user_guid"`
	Resource string `json:"resource"`
	jwt.RegisteredClaims
}

// Authorisation is a verified delegated-access token: proof that UserUID
// (identified by UserGUID within a given user-drive namespace) authorised
// an operation scoped to Resource.
type Authorisation struct {
	userUID  string
	userGUID string
	resource string
	expires  time.Time
}

func (a *Authorisation) UserUID() string  { return a.userUID }
func (a *Authorisation) UserGUID() string { return a.userGUID }
func (a *Authorisation) Resource() string { return a.resource }

// Verify reports whether this authorisation was issued for resource. Every
// caller that accepts an *Authorisation must check this before trusting
// UserUID/UserGUID for anything privileged — construction alone only
// proves the signature was valid and the token unexpired, not that it
// covers the operation at hand.
func (a *Authorisation) Verify(resource string) error {
	if a.resource != resource {
		return fmt.Errorf("auth: token authorises %q, not %q", a.resource, resource)
	}
	return nil
}

// Sign issues a compact JWT authorising resource on behalf of (userUID,
// userGUID), valid until expires. secret is the same HMAC key Parse
// verifies against.
func Sign(secret, userUID, userGUID, resource string, expires time.Time) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserUID:  userUID,
		UserGUID: userGUID,
		Resource: resource,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(encoding.GetDatetimeNow()),
		},
	})
	return tok.SignedString([]byte(secret))
}

// Parse verifies tokenStr's signature against secret and, if valid and
// unexpired, returns the Authorisation it carries. Resource scope is not
// checked here; call Verify once the caller knows what operation it is
// gating.
func Parse(tokenStr, secret string) (*Authorisation, error) {
	var c claims
	tok, err := jwt.ParseWithClaims(tokenStr, &c, func(tk *jwt.Token) (interface{}, error) {
		if _, ok := tk.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", tk.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if !tok.Valid {
		return nil, ErrInvalidToken
	}
	if c.UserUID == "" || c.Resource == "" {
		return nil, ErrInvalidToken
	}
	return &Authorisation{
		userUID:  c.UserUID,
		userGUID: c.UserGUID,
		resource: c.Resource,
		expires:  c.ExpiresAt.Time,
	}, nil
}
