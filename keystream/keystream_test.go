package keystream

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wxget/wxdlp/errs"
	"github.com/wxget/wxdlp/pkg/client"
)

func fastClient(baseURL string) *Client {
	c := New(baseURL)
	c.Retry = client.Policy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	return c
}

func TestDerive(t *testing.T) {
	want := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != keystreamPath {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req keystreamRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.DecodeKey != "12345" {
			t.Errorf("decode_key = %q", req.DecodeKey)
		}
		_ = json.NewEncoder(w).Encode(keystreamResponse{Keystream: hex.EncodeToString(want)})
	}))
	defer srv.Close()

	got, err := fastClient(srv.URL).Derive(context.Background(), "12345")
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("keystream = %x, want %x", got, want)
	}
}

func TestDeriveRetriesOutages(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(keystreamResponse{Keystream: "00ff"})
	}))
	defer srv.Close()

	got, err := fastClient(srv.URL).Derive(context.Background(), "k")
	if err != nil {
		t.Fatalf("Derive should survive two 502s: %v", err)
	}
	if !bytes.Equal(got, []byte{0x00, 0xFF}) {
		t.Errorf("keystream = %x", got)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("attempts = %d, want 3", n)
	}
}

func TestDeriveUnreachableService(t *testing.T) {
	c := fastClient("http://127.0.0.1:1") // nothing listens here
	_, err := c.Derive(context.Background(), "k")
	if !errors.Is(err, errs.ErrDecryptServiceUnavailable) {
		t.Fatalf("expected ErrDecryptServiceUnavailable, got %v", err)
	}
}

func TestDeriveKeyRejectionDoesNotRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"unknown decode key"}`))
	}))
	defer srv.Close()

	_, err := fastClient(srv.URL).Derive(context.Background(), "bad")
	if !errors.Is(err, errs.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("key rejection must not be retried, attempts = %d", n)
	}
}

func TestDeriveMalformedResponses(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing keystream", `{"other":"field"}`},
		{"bad hex", `{"keystream":"zz-not-hex"}`},
		{"not json", `<html>oops</html>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := fastClient(srv.URL).Derive(context.Background(), "k")
			if !errors.Is(err, errs.ErrInvalidKey) {
				t.Errorf("expected ErrInvalidKey, got %v", err)
			}
		})
	}
}

func TestDeriveEmptyKey(t *testing.T) {
	_, err := fastClient("http://unused").Derive(context.Background(), "  ")
	if !errors.Is(err, errs.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey for empty key, got %v", err)
	}
}

func TestDecryptRemote(t *testing.T) {
	plain := []byte("fully decrypted media bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != decryptPath {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("decode_key"); got != "12345" {
			t.Errorf("decode_key = %q", got)
		}
		f, _, err := r.FormFile("video")
		if err != nil {
			t.Fatalf("video part: %v", err)
		}
		defer f.Close()
		_, _ = w.Write(plain)
	}))
	defer srv.Close()

	dir := t.TempDir()
	encPath := filepath.Join(dir, "vid_encrypted.mp4")
	outPath := filepath.Join(dir, "vid_decrypted.mp4")
	if err := os.WriteFile(encPath, []byte("ciphertext"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := fastClient(srv.URL).DecryptRemote(context.Background(), encPath, "12345", outPath); err != nil {
		t.Fatalf("DecryptRemote: %v", err)
	}
	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("output = %q, want %q", got, plain)
	}
}

func TestDecryptRemoteKeyRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	dir := t.TempDir()
	encPath := filepath.Join(dir, "vid_encrypted.mp4")
	if err := os.WriteFile(encPath, []byte("ciphertext"), 0644); err != nil {
		t.Fatal(err)
	}

	err := fastClient(srv.URL).DecryptRemote(context.Background(), encPath, "bad", filepath.Join(dir, "out.mp4"))
	if !errors.Is(err, errs.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}
