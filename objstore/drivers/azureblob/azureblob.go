// Package azureblob implements objstore.Store against Azure Blob Storage.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package azureblob

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-storage-blob-go/azblob"
	"github.com/google/uuid"
	"github.com/svctrust/core/encoding"
	"github.com/svctrust/core/objstore"
	"github.com/svctrust/core/persist"
	"github.com/svctrust/core/svcerrors"
)

const ChunkThreshold = 256 * 1024

type bucket struct {
	name   string
	region string
}

func (b *bucket) Name() string   { return b.name }
func (b *bucket) Region() string { return b.region }

// Driver is an objstore.Store backed by a single storage account.
type Driver struct {
	accountName string
	credential  *azblob.SharedKeyCredential
	serviceURL  azblob.ServiceURL
}

var _ objstore.Store = (*Driver)(nil)

// New builds a Driver for the given storage account, using shared-key
// authentication the same way the teacher's other cloud backends
// authenticate against their respective SDKs.
func New(accountName, accountKey string) (*Driver, error) {
	cred, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("azureblob: building credential: %w", err)
	}
	p := azblob.NewPipeline(cred, azblob.PipelineOptions{})
	base, _ := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", accountName))
	return &Driver{
		accountName: accountName,
		credential:  cred,
		serviceURL:  azblob.NewServiceURL(*base, p),
	}, nil
}

func (d *Driver) containerURL(name string) azblob.ContainerURL {
	return d.serviceURL.NewContainerURL(name)
}

func (d *Driver) CreateBucket(ctx context.Context, name, region string) (objstore.Bucket, error) {
	_, err := d.containerURL(name).Create(ctx, azblob.Metadata{}, azblob.PublicAccessNone)
	if err != nil {
		return nil, svcerrors.NewObjectStoreError("creating container %q: %v", name, err)
	}
	return &bucket{name: name, region: region}, nil
}

func (d *Driver) GetBucket(ctx context.Context, name, region string, createIfNeeded bool) (objstore.Bucket, error) {
	if _, err := d.containerURL(name).GetProperties(ctx, azblob.LeaseAccessConditions{}); err == nil {
		return &bucket{name: name, region: region}, nil
	} else if !createIfNeeded {
		return nil, svcerrors.NewObjectStoreError("no container called %q: %v", name, err)
	}
	return d.CreateBucket(ctx, name, region)
}

func isNotFound(err error) bool {
	serr, ok := err.(azblob.StorageError)
	return ok && serr.ServiceCode() == azblob.ServiceCodeBlobNotFound
}

func (d *Driver) getObjectDirect(ctx context.Context, b objstore.Bucket, key string) ([]byte, error) {
	blobURL := d.containerURL(b.Name()).NewBlockBlobURL(key)
	resp, err := blobURL.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		return nil, err
	}
	body := resp.Body(azblob.RetryReaderOptions{})
	defer body.Close()
	return io.ReadAll(body)
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

func (d *Driver) putObjectDirect(ctx context.Context, b objstore.Bucket, key string, data []byte, condition azblob.BlobAccessConditions) error {
	blobURL := d.containerURL(b.Name()).NewBlockBlobURL(key)
	_, err := blobURL.Upload(ctx, &byteReaderSeeker{data: data}, azblob.BlobHTTPHeaders{}, azblob.Metadata{},
		condition, azblob.DefaultAccessTier, nil, azblob.ClientProvidedKeyOptions{}, azblob.ImmutabilityPolicyOptions{})
	return err
}

func (d *Driver) SetObject(ctx context.Context, b objstore.Bucket, key string, data []byte) error {
	if err := d.DeleteObject(ctx, b, key); err != nil {
		return err
	}
	for i := 1; ; i++ {
		chunkKey := fmt.Sprintf("%s/%d", key, i)
		if _, err := d.containerURL(b.Name()).NewBlockBlobURL(chunkKey).GetProperties(ctx, azblob.BlobAccessConditions{}, azblob.ClientProvidedKeyOptions{}); err != nil {
			break
		}
		if err := d.DeleteObject(ctx, b, chunkKey); err != nil {
			return err
		}
	}
	if len(data) <= ChunkThreshold {
		if err := d.putObjectDirect(ctx, b, key, data, azblob.BlobAccessConditions{}); err != nil {
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
		if err := d.putObjectDirect(ctx, b, chunkKey, data[i*ChunkThreshold:end], azblob.BlobAccessConditions{}); err != nil {
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

// SetInsStringObject relies on the If-None-Match: * conditional header,
// Azure's native equivalent of insert-if-absent, so unlike the S3 driver
// this one gets a real server-side CAS rather than a synthesised one.
func (d *Driver) SetInsStringObject(ctx context.Context, b objstore.Bucket, key, value string) (string, error) {
	condition := azblob.BlobAccessConditions{
		ModifiedAccessConditions: azblob.ModifiedAccessConditions{IfNoneMatch: azblob.ETagAny},
	}
	err := d.putObjectDirect(ctx, b, key, []byte(value), condition)
	if err == nil {
		return value, nil
	}
	if serr, ok := err.(azblob.StorageError); ok && serr.Response() != nil && serr.Response().StatusCode == 412 {
		existing, getErr := d.getObjectDirect(ctx, b, key)
		if getErr != nil {
			return "", svcerrors.NewObjectStoreError("SetInsStringObject %q: %v", key, getErr)
		}
		return string(existing), nil
	}
	return "", svcerrors.NewObjectStoreError("SetInsStringObject %q: %v", key, err)
}

func (d *Driver) ListObjects(ctx context.Context, b objstore.Bucket, prefix string) ([]string, error) {
	listPrefix := prefix
	if prefix != "" {
		listPrefix = prefix + "/"
	}
	var names []string
	for marker := (azblob.Marker{}); marker.NotDone(); {
		resp, err := d.containerURL(b.Name()).ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{Prefix: listPrefix})
		if err != nil {
			return nil, svcerrors.NewObjectStoreError("ListObjects %q: %v", prefix, err)
		}
		for _, item := range resp.Segment.BlobItems {
			names = append(names, strings.TrimPrefix(item.Name, listPrefix))
		}
		marker = resp.NextMarker
	}
	sort.Strings(names)
	return names, nil
}

func (d *Driver) DeleteObject(ctx context.Context, b objstore.Bucket, key string) error {
	_, err := d.containerURL(b.Name()).NewBlockBlobURL(key).Delete(ctx, azblob.DeleteSnapshotsOptionNone, azblob.BlobAccessConditions{})
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

// CreatePAR issues a blob or container SAS token, Azure's analogue of an
// OCI PAR.
func (d *Driver) CreatePAR(_ context.Context, b objstore.Bucket, key *string, readable, writeable bool, duration time.Duration) (*objstore.PAR, error) {
	if err := objstore.ValidateDuration(duration); err != nil {
		return nil, err
	}
	if _, err := objstore.ResolveAccessType(key == nil, readable, writeable); err != nil {
		return nil, err
	}

	var perms azblob.BlobSASPermissions
	perms.Read = readable
	perms.Write = writeable

	now := encoding.GetDatetimeNow()
	expiry := now.Add(duration)
	objKey := ""
	if key != nil {
		objKey = *key
	}
	sasValues := azblob.BlobSASSignatureValues{
		Protocol:      azblob.SASProtocolHTTPS,
		StartTime:     now,
		ExpiryTime:    expiry,
		ContainerName: b.Name(),
		BlobName:      objKey,
		Permissions:   perms.String(),
	}
	query, err := sasValues.NewSASQueryParameters(d.credential)
	if err != nil {
		return nil, svcerrors.NewPARError("signing SAS token: %v", err)
	}
	blobURL := d.containerURL(b.Name()).NewBlockBlobURL(objKey).URL()
	blobURL.RawQuery = query.Encode()

	parID := uuid.New().String()
	return &objstore.PAR{
		URL:         blobURL.String(),
		Key:         key,
		CreatedAt:   now,
		ExpiresAt:   expiry,
		IsReadable:  readable,
		IsWriteable: writeable,
		ParID:       parID,
		ParName:     parID,
		Driver:      "azureblob",
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

// byteReaderSeeker adapts a byte slice to io.ReadSeeker, which azblob's
// Upload requires so it can retry a failed chunk upload from the start.
type byteReaderSeeker struct {
	data []byte
	pos  int64
}

func (r *byteReaderSeeker) Read(p []byte) (int, error) {
	if r.pos >= int64(len(r.data)) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += int64(n)
	return n, nil
}

func (r *byteReaderSeeker) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = r.pos + offset
	case io.SeekEnd:
		newPos = int64(len(r.data)) + offset
	}
	if newPos < 0 || newPos > int64(len(r.data)) {
		return 0, fmt.Errorf("azureblob: seek out of range")
	}
	r.pos = newPos
	return newPos, nil
}
