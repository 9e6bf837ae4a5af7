package errs

import (
	"errors"
)

var (
	// ErrUserNotFound indicates that no channel account matched the search keyword.
	ErrUserNotFound = errors.New("user not found")
	// ErrEmptyCollection indicates that the account resolved but has no videos.
	ErrEmptyCollection = errors.New("no videos in collection")
	// ErrAccessDenied indicates an entitlement or scope rejection from the remote
	// API (HTTP 402/403). Not retryable; surfaced verbatim to the caller.
	ErrAccessDenied = errors.New("access denied")
	// ErrMalformedMedia indicates a video record missing url, url_token or decode_key.
	ErrMalformedMedia = errors.New("malformed media descriptor")
	// ErrDownloadFailed indicates the ciphertext download failed after retries.
	ErrDownloadFailed = errors.New("download failed")
	// ErrTruncatedDownload indicates the written byte count does not match the
	// server-reported content length.
	ErrTruncatedDownload = errors.New("truncated download")
	// ErrDecryptServiceUnavailable indicates the keystream service is unreachable
	// or failing transiently.
	ErrDecryptServiceUnavailable = errors.New("decrypt service unavailable")
	// ErrInvalidKey indicates the decrypt service rejected the decode key.
	// Resubmitting the same key will not help.
	ErrInvalidKey = errors.New("invalid decode key")
	// ErrShortKeystream indicates the keystream does not cover the encrypted
	// prefix. Zero-padding would silently corrupt output, so the run stops.
	ErrShortKeystream = errors.New("keystream too short")
)

// IsRetryable reports whether err is a transient failure worth retrying with
// the same inputs. Entitlement, key and schema errors are terminal.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrDownloadFailed) ||
		errors.Is(err, ErrTruncatedDownload) ||
		errors.Is(err, ErrDecryptServiceUnavailable)
}
