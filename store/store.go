// Package store manages the per-video artifact layout in the output
// directory: <id>_encrypted.mp4, <id>_decrypted.mp4 and <id>_meta.json.
// Re-running a pipeline for the same video id overwrites, never appends.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wxget/wxdlp/internal/logger"
	"github.com/wxget/wxdlp/internal/sanitize"
)

const (
	encryptedSuffix = "_encrypted.mp4"
	decryptedSuffix = "_decrypted.mp4"
	metaSuffix      = "_meta.json"
)

var log = logger.C(logger.ComponentStore)

// Meta is the resolution trace persisted alongside the media files.
type Meta struct {
	RunID         string `json:"run_id"`
	Keyword       string `json:"keyword,omitempty"`
	Username      string `json:"username"`
	VideoID       string `json:"video_id"`
	Description   string `json:"description"`
	CreateTime    int64  `json:"createtime"`
	CreateTimeUTC string `json:"createtime_utc"`
	DecodeKey     string `json:"decode_key"`
	URL           string `json:"url"`
	URLToken      string `json:"url_token"`
	EncryptedSize int64  `json:"encrypted_size,omitempty"`
	DecryptedSize int64  `json:"decrypted_size,omitempty"`
	FetchedAt     string `json:"fetched_at"`
	DecryptedAt   string `json:"decrypted_at,omitempty"`
}

// Artifacts addresses the output files for one video id.
type Artifacts struct {
	baseDir string
	videoID string
}

// New creates the output directory if needed and returns the artifact set
// for the given video id.
func New(baseDir, videoID string) (*Artifacts, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create output directory %s: %w", baseDir, err)
	}
	return &Artifacts{baseDir: baseDir, videoID: sanitize.ToSafeBase(videoID)}, nil
}

// EncryptedPath returns the ciphertext file path.
func (a *Artifacts) EncryptedPath() string {
	return filepath.Join(a.baseDir, a.videoID+encryptedSuffix)
}

// DecryptedPath returns the playable file path.
func (a *Artifacts) DecryptedPath() string {
	return filepath.Join(a.baseDir, a.videoID+decryptedSuffix)
}

// MetaPath returns the metadata file path.
func (a *Artifacts) MetaPath() string {
	return filepath.Join(a.baseDir, a.videoID+metaSuffix)
}

// WriteMeta persists the resolution trace, overwriting any previous run's.
func (a *Artifacts) WriteMeta(m Meta) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	if err := os.WriteFile(a.MetaPath(), data, 0644); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	log.Info("meta written", map[string]interface{}{"path": a.MetaPath()})
	return nil
}

// ReadMeta loads a previously written resolution trace.
func (a *Artifacts) ReadMeta() (Meta, error) {
	var m Meta
	data, err := os.ReadFile(a.MetaPath())
	if err != nil {
		return m, fmt.Errorf("read meta: %w", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parse meta: %w", err)
	}
	return m, nil
}

// HasEncrypted reports whether a non-empty ciphertext file already exists,
// and its size.
func (a *Artifacts) HasEncrypted() (int64, bool) {
	info, err := os.Stat(a.EncryptedPath())
	if err != nil || info.Size() == 0 {
		return 0, false
	}
	return info.Size(), true
}

// HumanTime renders a unix timestamp the way the meta file does.
func HumanTime(ts int64) string {
	if ts == 0 {
		return ""
	}
	return time.Unix(ts, 0).UTC().Format("2006-01-02 15:04:05 UTC")
}
