// Package parclient is the consumer side of a PAR: given the capability
// URL objstore.Store.CreatePAR hands out, it performs the GET/PUT/HEAD a
// party holding only that URL is entitled to, with no knowledge of which
// driver minted it. Adapted from the teacher's HTTP backend provider,
// which solved the same problem in reverse (treating an arbitrary URL as
// an object-store bucket) with the same http/https client split and
// header-based validation.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package parclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/svctrust/core/objstore"
	"github.com/svctrust/core/svcerrors"
)

// Client issues requests against PAR access URLs. It keeps one pooled
// *http.Client per scheme, mirroring the teacher's httpProvider split
// between an http and an https client instead of forcing every request
// through a single TLS-capable transport.
type Client struct {
	httpClient  *http.Client
	httpsClient *http.Client
}

// New builds a Client with the given per-request timeout.
func New(timeout time.Duration) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		httpsClient: &http.Client{Timeout: timeout, Transport: http.DefaultTransport},
	}
}

func (c *Client) pick(url string) *http.Client {
	if strings.HasPrefix(url, "https") {
		return c.httpsClient
	}
	return c.httpClient
}

// assertNotExpired rejects a PAR client-side before it ever reaches the
// network, the same early-exit discipline the spec requires of every PAR
// consumer (see spec §4.7 and §7's PARPermissionsError).
func assertNotExpired(par *objstore.PAR) error {
	if time.Now().UTC().After(par.ExpiresAt) {
		return svcerrors.NewPARPermissionsError("par %q expired at %s", par.ParID, par.ExpiresAt)
	}
	return nil
}

// Get fetches the object a readable PAR points at.
func (c *Client) Get(ctx context.Context, par *objstore.PAR) ([]byte, error) {
	if !par.IsReadable {
		return nil, svcerrors.NewPARPermissionsError("par %q is not readable", par.ParID)
	}
	if err := assertNotExpired(par); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, par.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("parclient: building request: %w", err)
	}
	resp, err := c.pick(par.URL).Do(req)
	if err != nil {
		return nil, fmt.Errorf("parclient: GET %s: %w", par.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, svcerrors.NewObjectStoreError("parclient: GET %s returned status %d", par.URL, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parclient: reading response body: %w", err)
	}
	return data, nil
}

// Put uploads data through a writeable PAR.
func (c *Client) Put(ctx context.Context, par *objstore.PAR, data []byte) error {
	if !par.IsWriteable {
		return svcerrors.NewPARPermissionsError("par %q is not writeable", par.ParID)
	}
	if err := assertNotExpired(par); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, par.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("parclient: building request: %w", err)
	}
	req.ContentLength = int64(len(data))
	resp, err := c.pick(par.URL).Do(req)
	if err != nil {
		return fmt.Errorf("parclient: PUT %s: %w", par.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return svcerrors.NewObjectStoreError("parclient: PUT %s returned status %d", par.URL, resp.StatusCode)
	}
	return nil
}

// Head reports the size of the object a PAR points at without
// downloading it, the same "connect and inspect headers" validation the
// teacher's HeadBucket/HeadObj performed against an arbitrary origin URL.
func (c *Client) Head(ctx context.Context, par *objstore.PAR) (size int64, err error) {
	if err := assertNotExpired(par); err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, par.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("parclient: building request: %w", err)
	}
	resp, err := c.pick(par.URL).Do(req)
	if err != nil {
		return 0, fmt.Errorf("parclient: HEAD %s: %w", par.URL, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, svcerrors.NewObjectStoreError("parclient: HEAD %s returned status %d", par.URL, resp.StatusCode)
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, convErr := strconv.ParseInt(cl, 10, 64); convErr == nil {
			return n, nil
		}
	}
	return resp.ContentLength, nil
}
