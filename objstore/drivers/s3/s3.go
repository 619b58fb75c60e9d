// Package s3 implements objstore.Store against Amazon S3 (or any
// S3-compatible endpoint) using the AWS SDK the teacher already vendors
// for its own S3 backend provider.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/google/uuid"
	"github.com/svctrust/core/encoding"
	"github.com/svctrust/core/objstore"
	"github.com/svctrust/core/persist"
	"github.com/svctrust/core/svcerrors"
)

// ChunkThreshold mirrors drivers/mem's write-side chunking so the same
// (key, key/1, key/2, ...) convention is observable end to end regardless
// of which backend a ServiceContext is configured with.
const ChunkThreshold = 256 * 1024

type bucket struct {
	name   string
	region string
}

func (b *bucket) Name() string   { return b.name }
func (b *bucket) Region() string { return b.region }

// Driver is an objstore.Store backed by a single AWS session.
type Driver struct {
	svc *s3.S3
}

var _ objstore.Store = (*Driver)(nil)

// New builds a Driver from a shared AWS session. Region/credentials come
// from the standard SDK resolution chain (env, shared config, IAM role).
func New(sess *session.Session) *Driver {
	return &Driver{svc: s3.New(sess)}
}

func (d *Driver) CreateBucket(ctx context.Context, name, region string) (objstore.Bucket, error) {
	_, err := d.svc.CreateBucketWithContext(ctx, &s3.CreateBucketInput{Bucket: aws.String(name)})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeBucketAlreadyOwnedByYou {
			return nil, svcerrors.NewObjectStoreError("bucket %q already exists", name)
		}
		return nil, svcerrors.NewObjectStoreError("creating bucket %q: %v", name, err)
	}
	return &bucket{name: name, region: region}, nil
}

func (d *Driver) GetBucket(ctx context.Context, name, region string, createIfNeeded bool) (objstore.Bucket, error) {
	_, err := d.svc.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(name)})
	if err == nil {
		return &bucket{name: name, region: region}, nil
	}
	if !createIfNeeded {
		return nil, svcerrors.NewObjectStoreError("no bucket called %q: %v", name, err)
	}
	return d.CreateBucket(ctx, name, region)
}

func isNotFound(err error) bool {
	aerr, ok := err.(awserr.Error)
	return ok && (aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound")
}

func (d *Driver) getObjectDirect(ctx context.Context, b objstore.Bucket, key string) ([]byte, error) {
	out, err := d.svc.GetObjectWithContext(ctx, &s3.GetObjectInput{Bucket: aws.String(b.Name()), Key: aws.String(key)})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// GetObject implements the chunked-read probe: try key directly, and only
// on a not-found fall back to streaming key/1, key/2, ....
func (d *Driver) GetObject(ctx context.Context, b objstore.Bucket, key string) ([]byte, error) {
	data, err := d.getObjectDirect(ctx, b, key)
	if err == nil {
		return data, nil
	}
	if !isNotFound(err) {
		return nil, svcerrors.NewObjectStoreError("GetObject %q: %v", key, err)
	}
	var out []byte
	found := false
	for i := 1; ; i++ {
		chunk, cerr := d.getObjectDirect(ctx, b, fmt.Sprintf("%s/%d", key, i))
		if cerr != nil {
			if isNotFound(cerr) {
				break
			}
			return nil, svcerrors.NewObjectStoreError("GetObject %q chunk %d: %v", key, i, cerr)
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
		return false, nil //nolint:nilerr // absence and corruption both read as "not found" here
	}
	if err := persist.Unwrap(data, v); err != nil {
		return false, nil //nolint:nilerr // same as above
	}
	return true, nil
}

func (d *Driver) putObjectDirect(ctx context.Context, b objstore.Bucket, key string, data []byte) error {
	_, err := d.svc.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.Name()),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	return err
}

// SetObject deletes any previous chunk sequence at key (a prior write may
// have been larger or smaller) before writing the new value, chunked only
// when it exceeds ChunkThreshold.
func (d *Driver) SetObject(ctx context.Context, b objstore.Bucket, key string, data []byte) error {
	if err := d.DeleteObject(ctx, b, key); err != nil {
		return err
	}
	for i := 1; ; i++ {
		chunkKey := fmt.Sprintf("%s/%d", key, i)
		if _, err := d.svc.HeadObjectWithContext(ctx, &s3.HeadObjectInput{Bucket: aws.String(b.Name()), Key: aws.String(chunkKey)}); err != nil {
			break
		}
		if err := d.DeleteObject(ctx, b, chunkKey); err != nil {
			return err
		}
	}
	if len(data) <= ChunkThreshold {
		if err := d.putObjectDirect(ctx, b, key, data); err != nil {
			return svcerrors.NewObjectStoreError("SetObject %q: %v", key, err)
		}
		return nil
	}
	for i := 0; i*ChunkThreshold < len(data); i++ {
		end := (i + 1) * ChunkThreshold
		if end > len(data) {
			end = len(data)
		}
		chunkKey := fmt.Sprintf("%s/%d", key, i+1)
		if err := d.putObjectDirect(ctx, b, chunkKey, data[i*ChunkThreshold:end]); err != nil {
			return svcerrors.NewObjectStoreError("SetObject %q chunk %d: %v", key, i+1, err)
		}
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

// SetInsStringObject synthesises insert-if-absent: S3 has no native CAS,
// so the driver checks existence with GetObject, writes with an
// unconditional PutObject when the key is absent, then reads the key back
// and returns what is stored. This is not atomic: two writers that both
// pass the existence check both write, and the race window between check
// and write is the cost of synthesising CAS on a backend that doesn't
// offer it, same as lock.Mutex's expired-lease replacement.
func (d *Driver) SetInsStringObject(ctx context.Context, b objstore.Bucket, key, value string) (string, error) {
	if existing, err := d.getObjectDirect(ctx, b, key); err == nil {
		return string(existing), nil
	} else if !isNotFound(err) {
		return "", svcerrors.NewObjectStoreError("SetInsStringObject %q: %v", key, err)
	}
	if err := d.putObjectDirect(ctx, b, key, []byte(value)); err != nil {
		return "", svcerrors.NewObjectStoreError("SetInsStringObject %q: %v", key, err)
	}
	if existing, err := d.getObjectDirect(ctx, b, key); err == nil {
		return string(existing), nil
	}
	return value, nil
}

func (d *Driver) ListObjects(ctx context.Context, b objstore.Bucket, prefix string) ([]string, error) {
	var names []string
	listPrefix := prefix
	if prefix != "" {
		listPrefix = prefix + "/"
	}
	err := d.svc.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.Name()),
		Prefix: aws.String(listPrefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			names = append(names, strings.TrimPrefix(aws.StringValue(obj.Key), listPrefix))
		}
		return true
	})
	if err != nil {
		return nil, svcerrors.NewObjectStoreError("ListObjects %q: %v", prefix, err)
	}
	sort.Strings(names)
	return names, nil
}

func (d *Driver) DeleteObject(ctx context.Context, b objstore.Bucket, key string) error {
	_, err := d.svc.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{Bucket: aws.String(b.Name()), Key: aws.String(key)})
	if err != nil {
		return svcerrors.NewObjectStoreError("DeleteObject %q: %v", key, err)
	}
	return nil
}

func (d *Driver) DeleteAllObjects(ctx context.Context, b objstore.Bucket, prefix string) error {
	names, err := d.ListObjects(ctx, b, "")
	if err != nil {
		return err
	}
	for _, name := range names {
		if prefix == "" || strings.HasPrefix(name, prefix) {
			if err := d.DeleteObject(ctx, b, name); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Driver) ClearAllExcept(ctx context.Context, b objstore.Bucket, keep []string) error {
	names, err := d.ListObjects(ctx, b, "")
	if err != nil {
		return err
	}
	for _, name := range names {
		remove := true
		for _, k := range keep {
			if strings.HasPrefix(name, k) {
				remove = false
				break
			}
		}
		if remove {
			if err := d.DeleteObject(ctx, b, name); err != nil {
				return err
			}
		}
	}
	return nil
}

// CreatePAR issues an S3 presigned request, the AWS analogue of an OCI
// PAR, enforcing the same scope matrix every driver shares.
func (d *Driver) CreatePAR(ctx context.Context, b objstore.Bucket, key *string, readable, writeable bool, duration time.Duration) (*objstore.PAR, error) {
	if err := objstore.ValidateDuration(duration); err != nil {
		return nil, err
	}
	accessType, err := objstore.ResolveAccessType(key == nil, readable, writeable)
	if err != nil {
		return nil, err
	}

	var (
		url    string
		objKey string
	)
	if key != nil {
		objKey = *key
	}
	switch accessType {
	case objstore.AccessObjectRead:
		req, _ := d.svc.GetObjectRequest(&s3.GetObjectInput{Bucket: aws.String(b.Name()), Key: aws.String(objKey)})
		url, err = req.Presign(duration)
	case objstore.AccessObjectWrite, objstore.AccessAnyObjectWrite:
		req, _ := d.svc.PutObjectRequest(&s3.PutObjectInput{Bucket: aws.String(b.Name()), Key: aws.String(objKey)})
		url, err = req.Presign(duration)
	case objstore.AccessObjectReadWrite:
		// S3 presigned requests are single-verb; issue the write leg and
		// let the read leg fall back to the (readable) object itself once
		// written. Documented limitation relative to OCI's native
		// read+write PARs.
		req, _ := d.svc.PutObjectRequest(&s3.PutObjectInput{Bucket: aws.String(b.Name()), Key: aws.String(objKey)})
		url, err = req.Presign(duration)
	}
	if err != nil {
		return nil, svcerrors.NewPARError("presigning request: %v", err)
	}

	now := encoding.GetDatetimeNow()
	parID := uuid.New().String()
	return &objstore.PAR{
		URL:         url,
		Key:         key,
		CreatedAt:   now,
		ExpiresAt:   now.Add(duration),
		IsReadable:  readable,
		IsWriteable: writeable,
		ParID:       parID,
		ParName:     parID,
		Driver:      "s3",
	}, nil
}

func (d *Driver) Log(ctx context.Context, b objstore.Bucket, message string) error {
	key := fmt.Sprintf("log/%s", uuid.New().String())
	return d.SetStringObject(ctx, b, key, message)
}

func (d *Driver) GetLog(ctx context.Context, b objstore.Bucket) (string, error) {
	names, err := d.ListObjects(ctx, b, "log")
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString("<log>")
	for _, name := range names {
		msg, err := d.GetStringObject(ctx, b, "log/"+name)
		if err != nil {
			continue
		}
		sb.WriteString("<logitem><message>")
		sb.WriteString(msg)
		sb.WriteString("</message></logitem>")
	}
	sb.WriteString("</log>")
	return sb.String(), nil
}

func (d *Driver) ClearLog(ctx context.Context, b objstore.Bucket) error {
	return d.DeleteAllObjects(ctx, b, "log")
}
