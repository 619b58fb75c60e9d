// Package mem implements the dependency-free reference ObjectStore driver:
// an in-process, mutex-guarded map of buckets. It exists for unit and
// suite tests in this module and exercises every contract the interface
// promises, including the chunked-object read convention and the
// atomicity of SetInsStringObject, which remote drivers must synthesise
// but this one gets for free from a single process-wide lock.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package mem

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/svctrust/core/encoding"
	"github.com/svctrust/core/objstore"
	"github.com/svctrust/core/persist"
	"github.com/svctrust/core/svcerrors"
)

// ChunkThreshold is the payload size above which Driver.SetObject splits
// the value into key/1, key/2, ... chunks on write, exercising the
// write-side counterpart to the read-side chunk probing the original
// OCI driver only documented (see SPEC_FULL.md §3).
const ChunkThreshold = 256 * 1024

type bucket struct {
	name   string
	region string
}

func (b *bucket) Name() string   { return b.name }
func (b *bucket) Region() string { return b.region }

type Driver struct {
	host string // used to qualify PAR URLs, e.g. "https://objstore.local"

	mu      sync.Mutex
	buckets map[string]map[string][]byte
}

var _ objstore.Store = (*Driver)(nil)

func New(host string) *Driver {
	return &Driver{host: host, buckets: make(map[string]map[string][]byte)}
}

func (d *Driver) CreateBucket(_ context.Context, name, _ string) (objstore.Bucket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.buckets[name]; ok {
		return nil, svcerrors.NewObjectStoreError("bucket %q already exists", name)
	}
	d.buckets[name] = make(map[string][]byte)
	return &bucket{name: name, region: "local"}, nil
}

func (d *Driver) GetBucket(_ context.Context, name, _ string, createIfNeeded bool) (objstore.Bucket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.buckets[name]; !ok {
		if !createIfNeeded {
			return nil, svcerrors.NewObjectStoreError("no bucket called %q", name)
		}
		d.buckets[name] = make(map[string][]byte)
	}
	return &bucket{name: name, region: "local"}, nil
}

func (d *Driver) objects(b objstore.Bucket) (map[string][]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	objs, ok := d.buckets[b.Name()]
	if !ok {
		return nil, svcerrors.NewObjectStoreError("no bucket called %q", b.Name())
	}
	return objs, nil
}

// GetObject follows the probe-then-stream chunked-read convention: try
// key directly, and only if that's absent, probe key/1, key/2, ...
// concatenating until the next probe misses.
func (d *Driver) GetObject(_ context.Context, b objstore.Bucket, key string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	objs, ok := d.buckets[b.Name()]
	if !ok {
		return nil, svcerrors.NewObjectStoreError("no bucket called %q", b.Name())
	}
	if data, ok := objs[key]; ok {
		return data, nil
	}
	var out []byte
	found := false
	for i := 1; ; i++ {
		chunkKey := fmt.Sprintf("%s/%d", key, i)
		chunk, ok := objs[chunkKey]
		if !ok {
			break
		}
		found = true
		out = append(out, chunk...)
	}
	if !found {
		return nil, svcerrors.NewObjectStoreError("no object at key %q", key)
	}
	return out, nil
}

func (d *Driver) GetObjectAsFile(ctx context.Context, b objstore.Bucket, key, filename string) error {
	data, err := d.GetObject(ctx, b, key)
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0o644)
}

func (d *Driver) GetStringObject(ctx context.Context, b objstore.Bucket, key string) (string, error) {
	data, err := d.GetObject(ctx, b, key)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (d *Driver) GetObjectFromJSON(ctx context.Context, b objstore.Bucket, key string, v interface{}) (bool, error) {
	data, err := d.GetObject(ctx, b, key)
	if err != nil {
		return false, nil //nolint:nilerr // absence and corruption are both "not found" at this boundary
	}
	if err := persist.Unwrap(data, v); err != nil {
		return false, nil //nolint:nilerr // same as above
	}
	return true, nil
}

// SetObject writes data at key, chunking into key/1, key/2, ... when data
// exceeds ChunkThreshold.
func (d *Driver) SetObject(_ context.Context, b objstore.Bucket, key string, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	objs, ok := d.buckets[b.Name()]
	if !ok {
		return svcerrors.NewObjectStoreError("no bucket called %q", b.Name())
	}
	delete(objs, key)
	for i := 1; ; i++ {
		chunkKey := fmt.Sprintf("%s/%d", key, i)
		if _, ok := objs[chunkKey]; !ok {
			break
		}
		delete(objs, chunkKey)
	}
	if len(data) <= ChunkThreshold {
		objs[key] = append([]byte(nil), data...)
		return nil
	}
	for i := 0; i*ChunkThreshold < len(data); i++ {
		end := (i + 1) * ChunkThreshold
		if end > len(data) {
			end = len(data)
		}
		chunkKey := fmt.Sprintf("%s/%d", key, i+1)
		objs[chunkKey] = append([]byte(nil), data[i*ChunkThreshold:end]...)
	}
	return nil
}

func (d *Driver) SetObjectFromFile(ctx context.Context, b objstore.Bucket, key, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return svcerrors.NewObjectStoreError("reading %q: %v", filename, err)
	}
	return d.SetObject(ctx, b, key, data)
}

func (d *Driver) SetStringObject(ctx context.Context, b objstore.Bucket, key, value string) error {
	return d.SetObject(ctx, b, key, []byte(value))
}

func (d *Driver) SetObjectFromJSON(ctx context.Context, b objstore.Bucket, key string, v interface{}) error {
	data, err := persist.Wrap(v)
	if err != nil {
		return svcerrors.NewObjectStoreError("encoding value for %q: %v", key, err)
	}
	return d.SetObject(ctx, b, key, data)
}

// SetInsStringObject is the atomic insert-if-absent primitive: the
// in-process mutex already serialises every Driver method, so this is a
// plain read-then-write under the same lock a remote driver would need a
// dedicated CAS for.
func (d *Driver) SetInsStringObject(_ context.Context, b objstore.Bucket, key, value string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	objs, ok := d.buckets[b.Name()]
	if !ok {
		return "", svcerrors.NewObjectStoreError("no bucket called %q", b.Name())
	}
	if existing, ok := objs[key]; ok {
		return string(existing), nil
	}
	objs[key] = []byte(value)
	return value, nil
}

func (d *Driver) ListObjects(_ context.Context, b objstore.Bucket, prefix string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	objs, ok := d.buckets[b.Name()]
	if !ok {
		return nil, svcerrors.NewObjectStoreError("no bucket called %q", b.Name())
	}
	var names []string
	for name := range objs {
		if prefix == "" {
			names = append(names, name)
			continue
		}
		trimmed := strings.TrimPrefix(name, prefix+"/")
		if trimmed != name && strings.HasPrefix(name, prefix+"/") {
			names = append(names, trimmed)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (d *Driver) DeleteObject(_ context.Context, b objstore.Bucket, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if objs, ok := d.buckets[b.Name()]; ok {
		delete(objs, key)
	}
	return nil
}

func (d *Driver) DeleteAllObjects(_ context.Context, b objstore.Bucket, prefix string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	objs, ok := d.buckets[b.Name()]
	if !ok {
		return nil
	}
	for name := range objs {
		if prefix == "" || strings.HasPrefix(name, prefix) {
			delete(objs, name)
		}
	}
	return nil
}

func (d *Driver) ClearAllExcept(_ context.Context, b objstore.Bucket, keep []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	objs, ok := d.buckets[b.Name()]
	if !ok {
		return nil
	}
	for name := range objs {
		remove := true
		for _, k := range keep {
			if strings.HasPrefix(name, k) {
				remove = false
				break
			}
		}
		if remove {
			delete(objs, name)
		}
	}
	return nil
}

func (d *Driver) CreatePAR(_ context.Context, b objstore.Bucket, key *string, readable, writeable bool, duration time.Duration) (*objstore.PAR, error) {
	if err := objstore.ValidateDuration(duration); err != nil {
		return nil, err
	}
	if _, err := objstore.ResolveAccessType(key == nil, readable, writeable); err != nil {
		return nil, err
	}
	now := encoding.GetDatetimeNow()
	parID := uuid.New().String()
	accessURI := fmt.Sprintf("par/%s/%s", b.Name(), parID)
	if key != nil {
		accessURI = fmt.Sprintf("par/%s/%s/%s", b.Name(), parID, encoding.StringToEncoded(*key))
	}
	return &objstore.PAR{
		URL:         objstore.QualifyURL(d.host, accessURI),
		Key:         key,
		CreatedAt:   now,
		ExpiresAt:   now.Add(duration),
		IsReadable:  readable,
		IsWriteable: writeable,
		ParID:       parID,
		ParName:     parID,
		Driver:      "mem",
	}, nil
}

func (d *Driver) Log(ctx context.Context, b objstore.Bucket, message string) error {
	key := fmt.Sprintf("log/%d", time.Now().UnixNano())
	return d.SetStringObject(ctx, b, key, message)
}

func (d *Driver) GetLog(_ context.Context, b objstore.Bucket) (string, error) {
	d.mu.Lock()
	objs, ok := d.buckets[b.Name()]
	d.mu.Unlock()
	if !ok {
		return "", svcerrors.NewObjectStoreError("no bucket called %q", b.Name())
	}
	var names []string
	for name := range objs {
		if strings.HasPrefix(name, "log/") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	var sb strings.Builder
	sb.WriteString("<log>")
	for _, name := range names {
		sb.WriteString("<logitem><message>")
		sb.Write(objs[name])
		sb.WriteString("</message></logitem>")
	}
	sb.WriteString("</log>")
	return sb.String(), nil
}

func (d *Driver) ClearLog(ctx context.Context, b objstore.Bucket) error {
	return d.DeleteAllObjects(ctx, b, "log")
}
