package parclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/svctrust/core/objstore"
)

func TestGetReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	c := New(time.Second)
	par := &objstore.PAR{URL: srv.URL, IsReadable: true, ExpiresAt: time.Now().Add(time.Hour)}
	data, err := c.Get(context.Background(), par)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("want hello, got %q", data)
	}
}

func TestGetRejectsNonReadablePAR(t *testing.T) {
	c := New(time.Second)
	par := &objstore.PAR{URL: "http://example.invalid", IsReadable: false, ExpiresAt: time.Now().Add(time.Hour)}
	if _, err := c.Get(context.Background(), par); err == nil {
		t.Fatal("expected a PARPermissionsError for a non-readable PAR")
	}
}

func TestGetRejectsExpiredPAR(t *testing.T) {
	c := New(time.Second)
	par := &objstore.PAR{URL: "http://example.invalid", IsReadable: true, ExpiresAt: time.Now().Add(-time.Minute)}
	if _, err := c.Get(context.Background(), par); err == nil {
		t.Fatal("expected a PARPermissionsError for an expired PAR")
	}
}

func TestPutSendsBody(t *testing.T) {
	var received []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(time.Second)
	par := &objstore.PAR{URL: srv.URL, IsWriteable: true, ExpiresAt: time.Now().Add(time.Hour)}
	if err := c.Put(context.Background(), par, []byte("payload")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if string(received) != "payload" {
		t.Fatalf("want payload, got %q", received)
	}
}

func TestPutRejectsNonWriteablePAR(t *testing.T) {
	c := New(time.Second)
	par := &objstore.PAR{URL: "http://example.invalid", IsWriteable: false, ExpiresAt: time.Now().Add(time.Hour)}
	if err := c.Put(context.Background(), par, []byte("x")); err == nil {
		t.Fatal("expected a PARPermissionsError for a non-writeable PAR")
	}
}

func TestHeadReportsSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "5")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(time.Second)
	par := &objstore.PAR{URL: srv.URL, IsReadable: true, ExpiresAt: time.Now().Add(time.Hour)}
	size, err := c.Head(context.Background(), par)
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	if size != 5 {
		t.Fatalf("want size 5, got %d", size)
	}
}
