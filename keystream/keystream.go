// Package keystream talks to the external decrypt service that turns a
// per-request decode key into the XOR mask covering a video's encrypted
// prefix.
package keystream

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/wxget/wxdlp/errs"
	"github.com/wxget/wxdlp/internal/logger"
	"github.com/wxget/wxdlp/pkg/client"
)

const (
	// DefaultBaseURL matches the decrypt service's default local port.
	DefaultBaseURL = "http://localhost:3005"

	keystreamPath = "/api/keystream"
	decryptPath   = "/api/decrypt"

	defaultTimeout = 30 * time.Second
	bodyExcerptMax = 300
)

var log = logger.C(logger.ComponentKeystream)

// Client calls the external decrypt service.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
	Retry      client.Policy
}

// New creates a decrypt service client for the given base URL. An empty base
// URL uses the default local service address.
func New(baseURL string) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		HTTPClient: &http.Client{Timeout: defaultTimeout},
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Retry:      client.DefaultPolicy(),
	}
}

type keystreamRequest struct {
	DecodeKey string `json:"decode_key"`
}

type keystreamResponse struct {
	Keystream string `json:"keystream"`
}

// Derive submits the decode key and returns the raw keystream bytes. The
// keystream is tied 1:1 to the key that produced it and is never cached
// across videos. Service outages surface as ErrDecryptServiceUnavailable and
// are retried; key rejections surface as ErrInvalidKey and are not.
func (c *Client) Derive(ctx context.Context, decodeKey string) ([]byte, error) {
	if strings.TrimSpace(decodeKey) == "" {
		return nil, fmt.Errorf("%w: empty decode key", errs.ErrInvalidKey)
	}

	payload, err := json.Marshal(keystreamRequest{DecodeKey: decodeKey})
	if err != nil {
		return nil, err
	}

	attempts := c.Retry.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.Retry.Backoff(attempt - 1)):
			}
		}

		ks, err := c.deriveOnce(ctx, payload)
		if err == nil {
			return ks, nil
		}
		lastErr = err
		if !errs.IsRetryable(err) {
			return nil, err
		}
		log.Warn("keystream request failed", map[string]interface{}{"attempt": attempt + 1, "error": err.Error()})
	}
	return nil, lastErr
}

func (c *Client) deriveOnce(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+keystreamPath, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrDecryptServiceUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", errs.ErrDecryptServiceUnavailable, err)
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: HTTP %d: %s", errs.ErrDecryptServiceUnavailable, resp.StatusCode, excerpt(body))
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, fmt.Errorf("%w: HTTP %d: %s", errs.ErrInvalidKey, resp.StatusCode, excerpt(body))
	}

	var kr keystreamResponse
	if err := json.Unmarshal(body, &kr); err != nil {
		return nil, fmt.Errorf("%w: parse response: %v", errs.ErrInvalidKey, err)
	}
	if kr.Keystream == "" {
		return nil, fmt.Errorf("%w: no keystream in response: %s", errs.ErrInvalidKey, excerpt(body))
	}

	ks, err := hex.DecodeString(kr.Keystream)
	if err != nil {
		return nil, fmt.Errorf("%w: keystream is not valid hex: %v", errs.ErrInvalidKey, err)
	}
	log.Debug("keystream derived", map[string]interface{}{"bytes": len(ks)})
	return ks, nil
}

// DecryptRemote uploads the encrypted file together with its decode key and
// writes the service's fully decrypted output to outputPath. This bypasses
// the local XOR path entirely.
func (c *Client) DecryptRemote(ctx context.Context, encryptedPath, decodeKey, outputPath string) error {
	in, err := os.Open(encryptedPath)
	if err != nil {
		return fmt.Errorf("open encrypted file: %w", err)
	}
	defer func() { _ = in.Close() }()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("video", "video.mp4")
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, in); err != nil {
		return fmt.Errorf("stage encrypted file: %w", err)
	}
	if err := mw.WriteField("decode_key", decodeKey); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+decryptPath, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrDecryptServiceUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, bodyExcerptMax))
		return fmt.Errorf("%w: HTTP %d: %s", errs.ErrDecryptServiceUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	case resp.StatusCode >= http.StatusBadRequest:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, bodyExcerptMax))
		return fmt.Errorf("%w: HTTP %d: %s", errs.ErrInvalidKey, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer func() { _ = out.Close() }()

	n, err := io.Copy(out, resp.Body)
	if err != nil {
		return fmt.Errorf("%w: stream decrypted body: %v", errs.ErrDecryptServiceUnavailable, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: empty decrypted response", errs.ErrInvalidKey)
	}
	log.Info("remote decrypt completed", map[string]interface{}{"bytes": n})
	return out.Close()
}

func excerpt(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > bodyExcerptMax {
		s = s[:bodyExcerptMax]
	}
	return s
}
