// Package persist implements the canonical JSON encoding used as the
// substrate for every value this module writes to an ObjectStore: the
// identity of persisted state depends on this encoding bit-for-bit, so
// there is exactly one code path that produces it.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package persist

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Cksum is a content checksum computed over an encoded payload, the same
// role cmn/jsp's on-disk checksum plays for metadata files.
type Cksum struct {
	Ty    string `json:"ty"`
	Value string `json:"value"`
}

func NewCksum(data []byte) *Cksum {
	sum := sha256.Sum256(data)
	return &Cksum{Ty: "sha256", Value: hex.EncodeToString(sum[:])}
}

func (c *Cksum) Equal(other *Cksum) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.Ty == other.Ty && c.Value == other.Value
}

// ErrBadCksum is returned by Unwrap when the embedded checksum does not
// match the payload that follows it.
type ErrBadCksum struct {
	Expected, Actual *Cksum
}

func (e *ErrBadCksum) Error() string {
	return fmt.Sprintf("persist: checksum mismatch, expected %+v, got %+v", e.Expected, e.Actual)
}

// Marshal encodes v to canonical JSON bytes.
func Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal decodes canonical JSON bytes produced by Marshal.
func Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// Envelope wraps an encoded payload with its checksum, so that corruption
// of data at rest is detected on read rather than silently misinterpreted.
type Envelope struct {
	Cksum   *Cksum          `json:"cksum"`
	Payload jsoniter.RawMessage `json:"payload"`
}

// Wrap encodes v and returns the enveloped bytes ready to be written
// through ObjectStore.SetObject.
func Wrap(v interface{}) ([]byte, error) {
	payload, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	env := Envelope{Cksum: NewCksum(payload), Payload: payload}
	return Marshal(env)
}

// Unwrap decodes bytes produced by Wrap into v, verifying the embedded
// checksum first.
func Unwrap(data []byte, v interface{}) error {
	var env Envelope
	if err := Unmarshal(data, &env); err != nil {
		return err
	}
	actual := NewCksum(env.Payload)
	if !env.Cksum.Equal(actual) {
		return &ErrBadCksum{Expected: env.Cksum, Actual: actual}
	}
	return Unmarshal(env.Payload, v)
}

// CopyReader drains r into a new byte slice; used by drivers that must
// buffer a streamed object before it can be JSON-decoded.
func CopyReader(r io.Reader) ([]byte, error) {
	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)
	for {
		n, err := r.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if err == io.EOF {
			return buf, nil
		}
		if err != nil {
			return nil, err
		}
	}
}
