// Package encoding provides the canonical, round-trippable conversions
// between bytes / text / base64 / UTC timestamps / UUIDs this module uses
// for every persisted key and payload field. Every conversion here must be
// total and unambiguous: decode(encode(x)) == x for all valid x, the same
// contract Acquire.ObjectStore._encoding enforced in the original service.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package encoding

import (
	"encoding/base64"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/svctrust/core/svcerrors"
)

// BytesToString encodes binary data as a standard (not URL-safe) base64
// string. A nil input round-trips to an empty decode, matching the
// original's "null in, null out" behaviour.
func BytesToString(b []byte) string {
	if b == nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(b)
}

// StringToBytes decodes a string produced by BytesToString. It only
// accepts input created by that function or StringToEncoded; arbitrary
// strings are not valid base64 and return EncodingError.
func StringToBytes(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, svcerrors.NewEncodingError("malformed base64 input: %v", err)
	}
	return b, nil
}

// StringToEncoded returns a key-safe, filesystem-safe encoding of an
// arbitrary unicode string: UTF-8 bytes, then base64.
func StringToEncoded(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// EncodedToString is the inverse of StringToEncoded.
func EncodedToString(encoded string) (string, error) {
	b, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", svcerrors.NewEncodingError("malformed encoded string %q: %v", encoded, err)
	}
	return string(b), nil
}

// URLToEncoded encodes a URL so it is safe to use as an object-store key.
func URLToEncoded(url string) string {
	return base64.StdEncoding.EncodeToString([]byte(url))
}

// EncodedToURL is the inverse of URLToEncoded.
func EncodedToURL(encoded string) (string, error) {
	b, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", svcerrors.NewEncodingError("malformed encoded url %q: %v", encoded, err)
	}
	return string(b), nil
}

// DatetimeToString normalises d to UTC and writes it as an ISO-8601
// timestamp with the "+00:00"/"Z" suffix stripped, matching the original's
// choice to omit the redundant zone once normalisation is guaranteed.
func DatetimeToString(d time.Time) string {
	return d.UTC().Format("2006-01-02T15:04:05.999999")
}

// StringToDatetime parses a timestamp written by DatetimeToString. Any
// input lacking a zone offset is interpreted as UTC; an input carrying an
// explicit offset is converted to UTC.
func StringToDatetime(s string) (time.Time, error) {
	layouts := []string{
		"2006-01-02T15:04:05.999999Z07:00",
		"2006-01-02T15:04:05.999999",
		time.RFC3339Nano,
		time.RFC3339,
	}
	var lastErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, svcerrors.NewEncodingError("malformed ISO-8601 datetime %q: %v", s, lastErr)
}

// DateToString encodes a date-only value (no time-of-day component).
func DateToString(d time.Time) string {
	return d.UTC().Format("2006-01-02")
}

// StringToDate is the inverse of DateToString.
func StringToDate(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, svcerrors.NewEncodingError("malformed ISO-8601 date %q: %v", s, err)
	}
	return t, nil
}

// TimeToString encodes a time-of-day value. t must be UTC; a time carrying
// a non-UTC zone is rejected, matching the original's refusal to encode a
// non-UTC time.time object.
func TimeToString(t time.Time) (string, error) {
	if t.Location() != time.UTC && t.Location().String() != "" {
		_, offset := t.Zone()
		if offset != 0 {
			return "", svcerrors.NewEncodingError(
				"cannot encode a time to a string as it is not in the UTC timezone: %s", t.Format(time.RFC3339))
		}
	}
	return t.UTC().Format("15:04:05.999999"), nil
}

// StringToTime is the inverse of TimeToString.
func StringToTime(s string) (time.Time, error) {
	t, err := time.Parse("15:04:05.999999", s)
	if err != nil {
		return time.Time{}, svcerrors.NewEncodingError("malformed ISO-8601 time %q: %v", s, err)
	}
	return t.UTC(), nil
}

// GetDatetimeNow returns the current instant, normalised to UTC at
// microsecond precision (Go's time.Now() already carries nanosecond
// precision; truncating to microseconds keeps round-trips through
// DatetimeToString lossless since that format cannot represent
// sub-microsecond digits).
func GetDatetimeNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// MinFutureDelta is the smallest delta GetDatetimeFuture will accept, to
// prevent accidental past/near-now expiries (e.g. a caller passing seconds
// where milliseconds were intended).
const MinFutureDelta = 5 * time.Second

// GetDatetimeFuture returns the instant delta in the future. It fails
// when delta is below MinFutureDelta.
func GetDatetimeFuture(delta time.Duration) (time.Time, error) {
	if delta < MinFutureDelta {
		return time.Time{}, svcerrors.NewEncodingError(
			"the requested delta (%s) is not sufficiently far enough into the future", delta)
	}
	return GetDatetimeNow().Add(delta), nil
}

// CreateUUID returns a new version-4 UUID as a lowercase hyphenated string.
func CreateUUID() string {
	return uuid.New().String()
}

// StringToFilepathParts splits a slash-separated hierarchical drive name
// into its components, collapsing repeated separators and trimming a
// leading/trailing "/" the way a user-typed path commonly carries one.
// ".." components are rejected outright: drive names never traverse
// outside the tree rooted at the caller's own user_guid.
func StringToFilepathParts(path string) ([]string, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil, svcerrors.NewEncodingError("empty drive path")
	}
	raw := strings.Split(trimmed, "/")
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		if p == "" {
			continue
		}
		if p == ".." {
			return nil, svcerrors.NewEncodingError("drive path %q must not contain \"..\"", path)
		}
		parts = append(parts, p)
	}
	if len(parts) == 0 {
		return nil, svcerrors.NewEncodingError("empty drive path")
	}
	return parts, nil
}
