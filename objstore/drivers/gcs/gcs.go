// Package gcs implements objstore.Store against Google Cloud Storage.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package gcs

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/svctrust/core/encoding"
	"github.com/svctrust/core/objstore"
	"github.com/svctrust/core/persist"
	"github.com/svctrust/core/svcerrors"
	"google.golang.org/api/iterator"
)

const ChunkThreshold = 256 * 1024

type bucket struct {
	name   string
	region string
}

func (b *bucket) Name() string   { return b.name }
func (b *bucket) Region() string { return b.region }

// Driver is an objstore.Store backed by a single GCS client.
type Driver struct {
	client        *storage.Client
	projectID     string
	signerEmail   string // service account email used to sign URLs
	signerPrivKey []byte // PEM private key matching signerEmail
}

var _ objstore.Store = (*Driver)(nil)

// New builds a Driver. signerEmail/signerPrivKey are only required to
// call CreatePAR (GCS signed URLs need an explicit signer, unlike the
// ambient service-account credentials used for every other call).
func New(client *storage.Client, projectID, signerEmail string, signerPrivKey []byte) *Driver {
	return &Driver{client: client, projectID: projectID, signerEmail: signerEmail, signerPrivKey: signerPrivKey}
}

func (d *Driver) CreateBucket(ctx context.Context, name, region string) (objstore.Bucket, error) {
	attrs := &storage.BucketAttrs{}
	if region != "" {
		attrs.Location = region
	}
	if err := d.client.Bucket(name).Create(ctx, d.projectID, attrs); err != nil {
		return nil, svcerrors.NewObjectStoreError("creating bucket %q: %v", name, err)
	}
	return &bucket{name: name, region: region}, nil
}

func (d *Driver) GetBucket(ctx context.Context, name, region string, createIfNeeded bool) (objstore.Bucket, error) {
	if _, err := d.client.Bucket(name).Attrs(ctx); err == nil {
		return &bucket{name: name, region: region}, nil
	} else if !createIfNeeded {
		return nil, svcerrors.NewObjectStoreError("no bucket called %q: %v", name, err)
	}
	return d.CreateBucket(ctx, name, region)
}

func isNotFound(err error) bool {
	return err == storage.ErrObjectNotExist
}

func (d *Driver) getObjectDirect(ctx context.Context, b objstore.Bucket, key string) ([]byte, error) {
	r, err := d.client.Bucket(b.Name()).Object(key).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

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
		return false, nil //nolint:nilerr
	}
	if err := persist.Unwrap(data, v); err != nil {
		return false, nil //nolint:nilerr
	}
	return true, nil
}

func (d *Driver) putObjectDirect(ctx context.Context, b objstore.Bucket, key string, data []byte) error {
	w := d.client.Bucket(b.Name()).Object(key).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (d *Driver) SetObject(ctx context.Context, b objstore.Bucket, key string, data []byte) error {
	if err := d.DeleteObject(ctx, b, key); err != nil {
		return err
	}
	for i := 1; ; i++ {
		chunkKey := fmt.Sprintf("%s/%d", key, i)
		if _, err := d.client.Bucket(b.Name()).Object(chunkKey).Attrs(ctx); err != nil {
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

// SetInsStringObject uses GCS's native conditional write (DoesNotExist
// precondition) to get a true server-side CAS, unlike the S3 driver,
// which synthesises it from a check-then-write.
func (d *Driver) SetInsStringObject(ctx context.Context, b objstore.Bucket, key, value string) (string, error) {
	obj := d.client.Bucket(b.Name()).Object(key).If(storage.Conditions{DoesNotExist: true})
	w := obj.NewWriter(ctx)
	if _, err := w.Write([]byte(value)); err != nil {
		w.Close()
		return "", svcerrors.NewObjectStoreError("SetInsStringObject %q: %v", key, err)
	}
	if err := w.Close(); err != nil {
		// precondition failed: someone else created it first.
		existing, getErr := d.getObjectDirect(ctx, b, key)
		if getErr != nil {
			return "", svcerrors.NewObjectStoreError("SetInsStringObject %q: %v", key, getErr)
		}
		return string(existing), nil
	}
	return value, nil
}

func (d *Driver) ListObjects(ctx context.Context, b objstore.Bucket, prefix string) ([]string, error) {
	listPrefix := prefix
	if prefix != "" {
		listPrefix = prefix + "/"
	}
	it := d.client.Bucket(b.Name()).Objects(ctx, &storage.Query{Prefix: listPrefix})
	var names []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, svcerrors.NewObjectStoreError("ListObjects %q: %v", prefix, err)
		}
		names = append(names, strings.TrimPrefix(attrs.Name, listPrefix))
	}
	sort.Strings(names)
	return names, nil
}

func (d *Driver) DeleteObject(ctx context.Context, b objstore.Bucket, key string) error {
	err := d.client.Bucket(b.Name()).Object(key).Delete(ctx)
	if err != nil && !isNotFound(err) {
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

// CreatePAR issues a V4 signed URL, GCS's analogue of an OCI PAR.
func (d *Driver) CreatePAR(_ context.Context, b objstore.Bucket, key *string, readable, writeable bool, duration time.Duration) (*objstore.PAR, error) {
	if err := objstore.ValidateDuration(duration); err != nil {
		return nil, err
	}
	accessType, err := objstore.ResolveAccessType(key == nil, readable, writeable)
	if err != nil {
		return nil, err
	}
	if d.signerEmail == "" || len(d.signerPrivKey) == 0 {
		return nil, svcerrors.NewPARError("gcs driver has no signing credentials configured")
	}

	method := "GET"
	if accessType == objstore.AccessObjectWrite || accessType == objstore.AccessAnyObjectWrite {
		method = "PUT"
	}
	objKey := ""
	if key != nil {
		objKey = *key
	}
	url, err := storage.SignedURL(b.Name(), objKey, &storage.SignedURLOptions{
		GoogleAccessID: d.signerEmail,
		PrivateKey:     d.signerPrivKey,
		Method:         method,
		Expires:        time.Now().Add(duration),
		Scheme:         storage.SigningSchemeV4,
	})
	if err != nil {
		return nil, svcerrors.NewPARError("signing URL: %v", err)
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
		Driver:      "gcs",
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
