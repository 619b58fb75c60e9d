// Package objstore defines the abstract, opaque key→bytes object store
// that every other component in this module is built on top of. Concrete
// backends (package objstore/drivers/...) implement Store against a real
// cloud SDK; package objstore/drivers/mem is the dependency-free reference
// implementation used by every test in this module that needs a store.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package objstore

import (
	"context"
	"time"
)

// Bucket is an opaque handle to a named container of key→bytes objects.
// Drivers return their own concrete type satisfying this interface from
// GetBucket/CreateBucket; callers never need to know more than this.
type Bucket interface {
	Name() string
	Region() string
}

// Store is the capability set a driver (OCI, S3, GCS, Azure, local) must
// provide. Every method is a potentially-blocking I/O suspension point —
// callers must assume network RTT on all of them (see spec §5).
type Store interface {
	CreateBucket(ctx context.Context, name, compartment string) (Bucket, error)
	GetBucket(ctx context.Context, name, compartment string, createIfNeeded bool) (Bucket, error)

	// GetObject returns the bytes at key, transparently following the
	// chunked-object convention (key, key/1, key/2, ...) when the primary
	// key is absent but a chunk sequence exists.
	GetObject(ctx context.Context, bucket Bucket, key string) ([]byte, error)
	GetObjectAsFile(ctx context.Context, bucket Bucket, key, filename string) error
	GetStringObject(ctx context.Context, bucket Bucket, key string) (string, error)
	// GetObjectFromJSON decodes JSON at key into v. Any fetch or parse
	// failure is coerced to (false, nil): the boundary
	// between "absent" and "corrupt" is collapsed here deliberately (see
	// spec §7), letting callers treat both uniformly.
	GetObjectFromJSON(ctx context.Context, bucket Bucket, key string, v interface{}) (found bool, err error)

	SetObject(ctx context.Context, bucket Bucket, key string, data []byte) error
	SetObjectFromFile(ctx context.Context, bucket Bucket, key, filename string) error
	SetStringObject(ctx context.Context, bucket Bucket, key, value string) error
	SetObjectFromJSON(ctx context.Context, bucket Bucket, key string, v interface{}) error

	// SetInsStringObject is the only primitive in this interface required
	// to be atomic: insert value at key iff absent, and return whichever
	// value ended up stored (the caller's, if it won the race; the
	// incumbent's otherwise). Every drive-binding first-creator-wins
	// guarantee in this module rests on this one method.
	SetInsStringObject(ctx context.Context, bucket Bucket, key, value string) (string, error)

	ListObjects(ctx context.Context, bucket Bucket, prefix string) ([]string, error)

	DeleteObject(ctx context.Context, bucket Bucket, key string) error
	DeleteAllObjects(ctx context.Context, bucket Bucket, prefix string) error
	ClearAllExcept(ctx context.Context, bucket Bucket, keep []string) error

	// CreatePAR issues a pre-authenticated request. key == nil means a
	// bucket-scope PAR. See ResolveAccessType for the scope matrix every
	// driver must enforce before calling into its SDK.
	CreatePAR(ctx context.Context, bucket Bucket, key *string, readable, writeable bool, duration time.Duration) (*PAR, error)

	Log(ctx context.Context, bucket Bucket, message string) error
	GetLog(ctx context.Context, bucket Bucket) (string, error)
	ClearLog(ctx context.Context, bucket Bucket) error
}
