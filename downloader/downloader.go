package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/wxget/wxdlp/errs"
	"github.com/wxget/wxdlp/pkg/client"
)

const (
	defaultChunkSizeBytes = 1 << 20   // 1MB
	temporaryFileSuffix   = ".part"   // suffix for temp download
	copyBufferSizeBytes   = 32 * 1024 // 32KB

	headerRange         = "Range"
	headerContentRange  = "Content-Range"
	headerContentLength = "Content-Length"

	successMinHTTPStatusCode      = 200
	successMaxHTTPStatusExclusive = 400
)

// Progress holds information about download progress.
type Progress struct {
	TotalSize      int64
	DownloadedSize int64
	Percent        float64
}

// Downloader streams encrypted media payloads to disk with chunked HTTP
// requests, retry/backoff, and optional rate limiting. The payload is written
// as served; decryption happens downstream.
type Downloader struct {
	Client       *http.Client
	ProgressFunc func(Progress)

	chunkSize    int64
	retry        client.Policy
	rateLimitBps int64
}

// New creates a new downloader instance with sane defaults.
// If httpClient is nil, a default http.Client is used. rateLimitBps=0 disables limiting.
func New(httpClient *http.Client, progressFunc func(Progress), rateLimitBps int64) *Downloader {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Downloader{
		Client:       httpClient,
		ProgressFunc: progressFunc,
		chunkSize:    defaultChunkSizeBytes,
		retry:        client.DefaultPolicy(),
		rateLimitBps: rateLimitBps,
	}
}

// WithRetry overrides the per-chunk retry policy.
func (d *Downloader) WithRetry(p client.Policy) *Downloader {
	d.retry = p
	return d
}

// detectTotalSize tries HEAD first, then GET range 0-1 to infer total size.
func (d *Downloader) detectTotalSize(ctx context.Context, urlStr string) (int64, error) {
	headReq, _ := http.NewRequestWithContext(ctx, "HEAD", urlStr, nil)
	headReq.Header.Set("Accept", "*/*")
	headReq.Header.Set("Accept-Encoding", "identity")

	headResp, err := d.Client.Do(headReq)
	if err == nil && headResp != nil {
		defer func() { _ = headResp.Body.Close() }()
		if size, ok := sizeFromHeaders(headResp.Header); ok {
			return size, nil
		}
	}

	getReq, _ := http.NewRequestWithContext(ctx, "GET", urlStr, nil)
	getReq.Header.Set("Accept", "*/*")
	getReq.Header.Set("Accept-Encoding", "identity")
	getReq.Header.Set(headerRange, "bytes=0-1")

	getResp, err := d.Client.Do(getReq)
	if err != nil {
		return 0, err
	}
	defer func() { _ = getResp.Body.Close() }()
	if size, ok := sizeFromHeaders(getResp.Header); ok {
		return size, nil
	}
	return 0, errors.New("cannot determine total size")
}

func sizeFromHeaders(h http.Header) (int64, bool) {
	if cr := h.Get(headerContentRange); cr != "" {
		parts := strings.Split(cr, "/")
		if len(parts) == 2 {
			if v, err := strconv.ParseInt(parts[1], 10, 64); err == nil {
				return v, true
			}
		}
	}
	if cl := h.Get(headerContentLength); cl != "" {
		if v, err := strconv.ParseInt(cl, 10, 64); err == nil && v > 2 {
			return v, true
		}
	}
	return 0, false
}

// sleepForRate enforces simple rate limit based on bytes written in this step.
func (d *Downloader) sleepForRate(written int64) {
	if d.rateLimitBps <= 0 || written <= 0 {
		return
	}
	dur := time.Duration(int64(time.Second) * written / d.rateLimitBps)
	if dur > 0 {
		time.Sleep(dur)
	}
}

// Download fetches urlStr and saves it to outputPath, returning the number of
// bytes written. It resumes from an existing temporary file, retries transient
// chunk failures with backoff, and verifies the final size against the
// server-reported length. On cancellation the partial temp file is discarded.
func (d *Downloader) Download(ctx context.Context, urlStr string, outputPath string) (int64, error) {
	log.Printf("Downloader: Starting download to %s", outputPath)

	tmpPath := outputPath + temporaryFileSuffix
	var outFile *os.File
	var err error
	if _, statErr := os.Stat(tmpPath); statErr == nil {
		outFile, err = os.OpenFile(tmpPath, os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return 0, fmt.Errorf("%w: open tmp for append: %v", errs.ErrDownloadFailed, err)
		}
		log.Printf("Downloader: Resuming from existing temp file")
	} else {
		outFile, err = os.Create(tmpPath)
		if err != nil {
			return 0, fmt.Errorf("%w: create output file: %v", errs.ErrDownloadFailed, err)
		}
	}
	defer func() { _ = outFile.Close() }()

	currentInfo, _ := outFile.Stat()
	downloaded := currentInfo.Size()
	if downloaded > 0 {
		log.Printf("Downloader: Already downloaded: %d bytes", downloaded)
	}

	totalSize, err := d.detectTotalSize(ctx, urlStr)
	if err != nil {
		log.Printf("Downloader: Warning: Could not determine total size: %v", err)
		totalSize = 0
	} else {
		log.Printf("Downloader: Total size: %d bytes", totalSize)
	}

	for downloaded < totalSize || totalSize == 0 {
		start := downloaded
		end := start + d.chunkSize - 1
		if totalSize > 0 && end >= totalSize {
			end = totalSize - 1
		}

		resp, err := d.fetchChunk(ctx, urlStr, start, end)
		if err != nil {
			if ctx.Err() != nil {
				_ = outFile.Close()
				_ = os.Remove(tmpPath)
				return 0, ctx.Err()
			}
			return 0, fmt.Errorf("%w: chunk at byte %d: %v", errs.ErrDownloadFailed, start, err)
		}

		wholeBody := resp.StatusCode == http.StatusOK
		chunkStart := downloaded

		buf := make([]byte, copyBufferSizeBytes)
		for {
			n, rerr := resp.Body.Read(buf)
			if n > 0 {
				if _, werr := outFile.Write(buf[:n]); werr != nil {
					_ = resp.Body.Close()
					return 0, fmt.Errorf("%w: write chunk: %v", errs.ErrDownloadFailed, werr)
				}
				downloaded += int64(n)
				if d.ProgressFunc != nil {
					p := Progress{TotalSize: totalSize, DownloadedSize: downloaded}
					if totalSize > 0 {
						p.Percent = float64(downloaded) / float64(totalSize) * 100
					}
					d.ProgressFunc(p)
				}
				d.sleepForRate(int64(n))
			}
			if rerr == io.EOF {
				break
			}
			if rerr != nil {
				_ = resp.Body.Close()
				if ctx.Err() != nil {
					_ = outFile.Close()
					_ = os.Remove(tmpPath)
					return 0, ctx.Err()
				}
				return 0, fmt.Errorf("%w: read response body: %v", errs.ErrDownloadFailed, rerr)
			}
		}
		_ = resp.Body.Close()

		// A 200 means the server ignored the Range header and served the whole
		// payload in one response.
		if wholeBody {
			break
		}
		if totalSize > 0 && downloaded >= totalSize {
			break
		}
		// No forward progress means the server has nothing more to give;
		// bail out and let the size check classify the result.
		if downloaded == chunkStart {
			break
		}
		if totalSize == 0 && downloaded-start < d.chunkSize {
			// Unknown size and a response short of a full chunk means EOF.
			break
		}
	}

	if downloaded == 0 {
		_ = outFile.Close()
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("%w: empty download, 0 bytes written", errs.ErrDownloadFailed)
	}
	if totalSize > 0 && downloaded != totalSize {
		return 0, fmt.Errorf("%w: wrote %d bytes, server reported %d", errs.ErrTruncatedDownload, downloaded, totalSize)
	}

	if err := outFile.Close(); err != nil {
		return 0, fmt.Errorf("%w: close output: %v", errs.ErrDownloadFailed, err)
	}
	if err := os.Rename(tmpPath, outputPath); err != nil {
		return 0, fmt.Errorf("%w: finalize output: %v", errs.ErrDownloadFailed, err)
	}
	log.Printf("Downloader: Completed, %d bytes", downloaded)
	return downloaded, nil
}

// fetchChunk requests one byte range with the retry policy applied.
func (d *Downloader) fetchChunk(ctx context.Context, urlStr string, start, end int64) (*http.Response, error) {
	var resp *http.Response
	var lastErr error
	for attempt := 0; attempt < d.retry.Attempts; attempt++ {
		req, _ := http.NewRequestWithContext(ctx, "GET", urlStr, nil)
		req.Header.Set("Accept", "*/*")
		req.Header.Set("Accept-Encoding", "identity")
		req.Header.Set(headerRange, fmt.Sprintf("bytes=%d-%d", start, end))

		resp, lastErr = d.Client.Do(req)
		if lastErr == nil && resp != nil && resp.StatusCode >= successMinHTTPStatusCode && resp.StatusCode < successMaxHTTPStatusExclusive {
			return resp, nil
		}
		if resp != nil {
			if resp.Body != nil {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
				_ = resp.Body.Close()
				lastErr = fmt.Errorf("HTTP status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			} else {
				lastErr = fmt.Errorf("HTTP status %d", resp.StatusCode)
			}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Printf("Downloader: Chunk request failed, attempt %d: %v", attempt+1, lastErr)
		if attempt < d.retry.Attempts-1 {
			time.Sleep(d.retry.Backoff(attempt))
		}
	}
	if lastErr == nil {
		lastErr = errors.New("empty response")
	}
	return nil, lastErr
}
