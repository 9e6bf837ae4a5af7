// Package wxdlp retrieves and decrypts WeChat Channels videos: it resolves an
// account from a keyword or username, picks a video from the account's
// collection, downloads the encrypted payload and reverses the prefix XOR
// masking into a playable file.
package wxdlp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/wxget/wxdlp/decrypt"
	"github.com/wxget/wxdlp/downloader"
	"github.com/wxget/wxdlp/errs"
	"github.com/wxget/wxdlp/internal/idcache"
	"github.com/wxget/wxdlp/internal/logger"
	"github.com/wxget/wxdlp/internal/sniff"
	"github.com/wxget/wxdlp/keystream"
	"github.com/wxget/wxdlp/pkg/client"
	"github.com/wxget/wxdlp/store"
	"github.com/wxget/wxdlp/tikhub/channels"
	"github.com/wxget/wxdlp/types"
)

// maxHomePages bounds collection crawling when a pinned video id is not on
// the first page.
const maxHomePages = 5

var log = logger.C(logger.ComponentApp)

// Stage names one step of the pipeline state machine.
type Stage string

const (
	StageResolving   Stage = "resolving"
	StageFetching    Stage = "fetching"
	StageLocating    Stage = "locating"
	StageDownloading Stage = "downloading"
	StageDerivingKey Stage = "deriving_key"
	StageDecrypting  Stage = "decrypting"
	StageDone        Stage = "done"
)

// StageError reports which pipeline stage failed and why. The underlying
// error kind is preserved; callers distinguish "pay your bill" from a
// transient network blip via errors.Is.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// Progress describes current progress of an ongoing download.
type Progress struct {
	TotalSize      int64
	DownloadedSize int64
	Percent        float64
}

// Result reports a finished pipeline run.
type Result struct {
	RunID         string
	Identity      types.Identity
	Video         types.VideoRecord
	EncryptedPath string
	DecryptedPath string
	MetaPath      string
	EncryptedSize int64
	DecryptedSize int64
}

// Options contains configuration for a single pipeline invocation.
//
// Use chainable setters on Pipeline to populate these options.
type Options struct {
	APIKey       string
	APIBaseURL   string
	Keyword      string
	SearchPage   int
	UserIndex    int
	Identity     string
	VideoID      string
	OutputDir    string
	DecryptAPI   string
	RemoteMode   bool
	SkipDownload bool
	SkipDecrypt  bool
	HTTPClient   *client.Client
	ProgressFunc func(Progress)
	RateLimitBps int64
	Retry        client.Policy
	Cache        idcache.Cache
}

// Pipeline provides a high-level API for resolving, downloading and
// decrypting channel videos.
type Pipeline struct {
	options   Options
	decryptor decrypt.Decryptor
}

// New creates a new Pipeline instance with default options.
func New() *Pipeline {
	return &Pipeline{options: Options{
		SearchPage: 1,
		OutputDir:  "output",
		Retry:      client.DefaultPolicy(),
	}}
}

// WithAPIKey sets the metadata API key.
func (p *Pipeline) WithAPIKey(key string) *Pipeline {
	p.options.APIKey = key
	return p
}

// WithAPIBaseURL overrides the metadata API host.
func (p *Pipeline) WithAPIBaseURL(base string) *Pipeline {
	p.options.APIBaseURL = base
	return p
}

// WithKeyword sets the account search keyword. Ignored when an identity is
// supplied directly.
func (p *Pipeline) WithKeyword(keyword string) *Pipeline {
	p.options.Keyword = keyword
	return p
}

// WithSearchPage sets the 1-based search result page.
func (p *Pipeline) WithSearchPage(page int) *Pipeline {
	if page < 1 {
		page = 1
	}
	p.options.SearchPage = page
	return p
}

// WithUserIndex selects which ranked search candidate to use.
func (p *Pipeline) WithUserIndex(index int) *Pipeline {
	p.options.UserIndex = index
	return p
}

// WithIdentity supplies a platform-qualified username directly, skipping search.
func (p *Pipeline) WithIdentity(username string) *Pipeline {
	p.options.Identity = username
	return p
}

// WithVideoID pins a specific video id instead of taking the latest.
func (p *Pipeline) WithVideoID(id string) *Pipeline {
	p.options.VideoID = id
	return p
}

// WithOutputDir sets the artifact directory.
func (p *Pipeline) WithOutputDir(dir string) *Pipeline {
	if dir != "" {
		p.options.OutputDir = dir
	}
	return p
}

// WithDecryptAPI sets the decrypt service base URL.
func (p *Pipeline) WithDecryptAPI(base string) *Pipeline {
	p.options.DecryptAPI = base
	return p
}

// WithRemoteDecrypt switches to the decrypt service's full-file endpoint
// instead of the local XOR transform.
func (p *Pipeline) WithRemoteDecrypt(remote bool) *Pipeline {
	p.options.RemoteMode = remote
	return p
}

// WithSkipDownload reuses an existing encrypted artifact instead of
// downloading.
func (p *Pipeline) WithSkipDownload(skip bool) *Pipeline {
	p.options.SkipDownload = skip
	return p
}

// WithSkipDecrypt stops the pipeline after download and metadata persistence.
func (p *Pipeline) WithSkipDecrypt(skip bool) *Pipeline {
	p.options.SkipDecrypt = skip
	return p
}

// WithHTTPClient sets a custom HTTP client used for metadata and download calls.
func (p *Pipeline) WithHTTPClient(c *client.Client) *Pipeline {
	p.options.HTTPClient = c
	return p
}

// WithProgress registers a callback that receives download progress updates.
func (p *Pipeline) WithProgress(f func(Progress)) *Pipeline {
	p.options.ProgressFunc = f
	return p
}

// WithRateLimit sets a download rate limit in bytes per second. Zero disables limiting.
func (p *Pipeline) WithRateLimit(bytesPerSecond int64) *Pipeline {
	if bytesPerSecond < 0 {
		bytesPerSecond = 0
	}
	p.options.RateLimitBps = bytesPerSecond
	return p
}

// WithRetry sets the retry policy injected into every network-calling component.
func (p *Pipeline) WithRetry(policy client.Policy) *Pipeline {
	p.options.Retry = policy
	return p
}

// WithIdentityCache caches keyword resolutions so repeat runs skip the
// search call. Nil disables caching.
func (p *Pipeline) WithIdentityCache(c idcache.Cache) *Pipeline {
	p.options.Cache = c
	return p
}

// WithDecryptor overrides the decryptor capability (tests, custom schemes).
func (p *Pipeline) WithDecryptor(d decrypt.Decryptor) *Pipeline {
	p.decryptor = d
	return p
}

// Run executes one pipeline run, walking the stages in order: resolving,
// fetching, locating, downloading, deriving the key, decrypting. Each stage retries
// transient failures internally; the orchestrator adds no cross-stage
// retries and never converts a specific error kind into a generic one.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	runID := uuid.NewString()
	log.Info("starting run", map[string]interface{}{"run_id": runID})

	httpClient := p.options.HTTPClient
	if httpClient == nil {
		httpClient = client.NewWith(client.Config{Retry: p.options.Retry})
	}
	api := channels.New(httpClient, p.options.APIKey).WithBaseURL(p.options.APIBaseURL)

	// Resolving
	identity, err := p.resolveIdentity(ctx, api)
	if err != nil {
		return nil, stageErr(StageResolving, err)
	}
	log.Info("identity resolved", map[string]interface{}{"identity": string(identity)})

	// Fetching
	video, err := p.selectVideo(ctx, api, identity)
	if err != nil {
		return nil, stageErr(StageFetching, err)
	}
	log.Info("video selected", map[string]interface{}{
		"video_id":   string(video.ID),
		"createtime": store.HumanTime(video.CreateTime),
	})

	// Locating
	desc, err := channels.Locate(video)
	if err != nil {
		return nil, stageErr(StageLocating, err)
	}

	artifacts, err := store.New(p.options.OutputDir, string(video.ID))
	if err != nil {
		return nil, stageErr(StageDownloading, err)
	}

	result := &Result{
		RunID:         runID,
		Identity:      identity,
		Video:         video,
		EncryptedPath: artifacts.EncryptedPath(),
		MetaPath:      artifacts.MetaPath(),
	}

	// Downloading
	if p.options.SkipDownload {
		size, ok := artifacts.HasEncrypted()
		if !ok {
			return nil, stageErr(StageDownloading, fmt.Errorf("%w: no existing encrypted file at %s", errs.ErrDownloadFailed, artifacts.EncryptedPath()))
		}
		result.EncryptedSize = size
		log.Info("skip download, using existing file", map[string]interface{}{"path": artifacts.EncryptedPath(), "bytes": size})
	} else {
		dl := downloader.New(httpClient.HTTPClient, p.progressFunc(), p.options.RateLimitBps).WithRetry(p.options.Retry)
		n, err := dl.Download(ctx, desc.DownloadURL(), artifacts.EncryptedPath())
		if err != nil {
			return nil, stageErr(StageDownloading, err)
		}
		result.EncryptedSize = n
	}

	meta := store.Meta{
		RunID:         runID,
		Keyword:       p.options.Keyword,
		Username:      string(identity),
		VideoID:       string(video.ID),
		Description:   video.ObjectDesc.Description,
		CreateTime:    video.CreateTime,
		CreateTimeUTC: store.HumanTime(video.CreateTime),
		DecodeKey:     desc.DecodeKey(),
		URL:           desc.URL(),
		URLToken:      desc.URLToken(),
		EncryptedSize: result.EncryptedSize,
		FetchedAt:     time.Now().UTC().Format(time.RFC3339),
	}
	if err := artifacts.WriteMeta(meta); err != nil {
		return nil, stageErr(StageDownloading, err)
	}

	if p.options.SkipDecrypt {
		log.Info("skip decrypt", map[string]interface{}{"run_id": runID})
		return result, nil
	}

	// DerivingKey + Decrypting, behind the decryptor capability. The local
	// variant derives a keystream then applies the XOR prefix transform; the
	// remote variant ships the file to the decrypt service.
	dec := p.decryptor
	if dec == nil {
		ksClient := p.keystreamClient()
		if p.options.RemoteMode {
			dec = decrypt.NewRemote(ksClient)
		} else {
			dec = decrypt.NewXOR(ksClient)
		}
	}
	if err := dec.Decrypt(ctx, artifacts.EncryptedPath(), desc.DecodeKey(), artifacts.DecryptedPath()); err != nil {
		return nil, stageErr(decryptStage(err), err)
	}
	result.DecryptedPath = artifacts.DecryptedPath()
	result.DecryptedSize = fileSize(artifacts.DecryptedPath())

	if container, err := sniff.File(result.DecryptedPath); err == nil && container == sniff.ContainerUnknown {
		log.Warn("decrypted output has no known container signature", map[string]interface{}{
			"path": result.DecryptedPath,
		})
	}

	meta.DecryptedSize = result.DecryptedSize
	meta.DecryptedAt = time.Now().UTC().Format(time.RFC3339)
	if err := artifacts.WriteMeta(meta); err != nil {
		return nil, stageErr(StageDecrypting, err)
	}

	log.Info("run complete", map[string]interface{}{"run_id": runID, "video_id": string(video.ID)})
	return result, nil
}

// resolveIdentity returns the caller-supplied identity or resolves the
// keyword through search.
func (p *Pipeline) resolveIdentity(ctx context.Context, api *channels.Client) (types.Identity, error) {
	if p.options.Identity != "" {
		return types.Identity(p.options.Identity), nil
	}
	if p.options.Keyword == "" {
		return "", fmt.Errorf("%w: no keyword or identity supplied", errs.ErrUserNotFound)
	}

	cacheKey := idcache.Key(p.options.Keyword, p.options.SearchPage, p.options.UserIndex)
	if p.options.Cache != nil {
		if e, ok := p.options.Cache.Get(cacheKey); ok {
			log.Debug("identity cache hit", map[string]interface{}{"keyword": p.options.Keyword, "identity": e.Identity})
			return types.Identity(e.Identity), nil
		}
	}

	candidates, err := api.SearchUsers(ctx, p.options.Keyword, p.options.SearchPage)
	if err != nil {
		return "", err
	}
	if len(candidates) > 1 && p.options.UserIndex == 0 {
		log.Warn("multiple accounts matched, using first ranked", map[string]interface{}{
			"keyword": p.options.Keyword,
			"matches": len(candidates),
		})
	}
	idx := p.options.UserIndex
	if idx < 0 || idx >= len(candidates) {
		return "", fmt.Errorf("%w: user index %d out of range (%d results)", errs.ErrUserNotFound, idx, len(candidates))
	}
	identity := candidates[idx].Username
	if p.options.Cache != nil {
		p.options.Cache.Set(cacheKey, idcache.Entry{
			Identity:  identity,
			ExpiresAt: time.Now().Add(idcache.DefaultTTL),
		})
	}
	return types.Identity(identity), nil
}

// selectVideo fetches the collection and picks the target record: the pinned
// id if one was requested, the most recent otherwise. Extra pages are only
// requested when a pinned id is missing from the pages seen so far.
func (p *Pipeline) selectVideo(ctx context.Context, api *channels.Client, identity types.Identity) (types.VideoRecord, error) {
	cursor := ""
	for page := 0; page < maxHomePages; page++ {
		hp, err := api.HomePage(ctx, identity, cursor)
		if err != nil {
			return types.VideoRecord{}, err
		}

		if p.options.VideoID == "" {
			latest, ok := channels.Latest(hp.Videos)
			if !ok {
				return types.VideoRecord{}, fmt.Errorf("%w: account %s", errs.ErrEmptyCollection, identity)
			}
			return latest, nil
		}

		if rec, ok := channels.FindByID(hp.Videos, p.options.VideoID); ok {
			return rec, nil
		}
		if hp.NextCursor == "" {
			break
		}
		cursor = hp.NextCursor
	}

	// Pinned id was not in the crawled pages; the detail endpoint is the
	// direct path.
	rec, err := api.VideoDetail(ctx, p.options.VideoID)
	if err != nil {
		return types.VideoRecord{}, err
	}
	return *rec, nil
}

func (p *Pipeline) keystreamClient() *keystream.Client {
	c := keystream.New(p.options.DecryptAPI)
	c.Retry = p.options.Retry
	return c
}

func (p *Pipeline) progressFunc() func(downloader.Progress) {
	if p.options.ProgressFunc == nil {
		return nil
	}
	return func(dp downloader.Progress) {
		p.options.ProgressFunc(Progress{
			TotalSize:      dp.TotalSize,
			DownloadedSize: dp.DownloadedSize,
			Percent:        dp.Percent,
		})
	}
}

// decryptStage maps a decryptor failure onto the state machine: keystream
// derivation problems belong to DerivingKey, transform problems to Decrypting.
func decryptStage(err error) Stage {
	if errors.Is(err, errs.ErrDecryptServiceUnavailable) || errors.Is(err, errs.ErrInvalidKey) {
		return StageDerivingKey
	}
	return StageDecrypting
}

func fileSize(path string) int64 {
	if info, err := os.Stat(path); err == nil {
		return info.Size()
	}
	return 0
}
