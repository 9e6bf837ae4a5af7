package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/wxget/wxdlp"
	"github.com/wxget/wxdlp/errs"
	"github.com/wxget/wxdlp/internal/idcache"
	"github.com/wxget/wxdlp/internal/logger"
	"github.com/wxget/wxdlp/pkg/client"
	s3mirror "github.com/wxget/wxdlp/store/s3"
)

const (
	exitOK         = 0
	exitOther      = 1
	exitUsage      = 2
	exitResolution = 3
	exitAccess     = 4
	exitDownload   = 5
	exitDecrypt    = 6
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		flagAPIKey        string
		flagKeyword       string
		flagUsername      string
		flagUserIndex     int
		flagPage          int
		flagVideoID       string
		flagOutDir        string
		flagDecryptAPI    string
		flagRemoteDecrypt bool
		flagSkipDownload  bool
		flagSkipDecrypt   bool
		flagTimeout       time.Duration
		flagRetries       int
		flagUA            string
		flagProxy         string
		flagRateLimit     string
		flagNoProgress    bool
		flagS3Bucket      string
		flagS3Prefix      string
		flagCacheDir      string
		flagLogLevel      string
	)

	flag.StringVar(&flagAPIKey, "api-key", "", "Metadata API key (defaults to TIKHUB_API_KEY env)")
	flag.StringVar(&flagKeyword, "keyword", "", "Account search keyword")
	flag.StringVar(&flagUsername, "username", "", "Resolved channel username (skips search)")
	flag.IntVar(&flagUserIndex, "user-index", 0, "Which ranked search result to use (0-based)")
	flag.IntVar(&flagPage, "page", 1, "Search result page (1-based)")
	flag.StringVar(&flagVideoID, "video-id", "", "Pin a specific video id instead of the latest")
	flag.StringVar(&flagOutDir, "outdir", "output", "Artifact output directory")
	flag.StringVar(&flagDecryptAPI, "decrypt-api", "", "Decrypt service base URL (default http://localhost:3005)")
	flag.BoolVar(&flagRemoteDecrypt, "remote-decrypt", false, "Decrypt through the service's full-file endpoint instead of locally")
	flag.BoolVar(&flagSkipDownload, "skip-download", false, "Reuse an existing encrypted file")
	flag.BoolVar(&flagSkipDecrypt, "skip-decrypt", false, "Stop after download and metadata")
	flag.DurationVar(&flagTimeout, "http-timeout", 30*time.Second, "HTTP timeout (e.g., 30s, 1m)")
	flag.IntVar(&flagRetries, "retries", 3, "HTTP retries for transient errors")
	flag.StringVar(&flagUA, "ua", "", "Override User-Agent header")
	flag.StringVar(&flagProxy, "proxy", "", "Proxy URL (http/https/socks)")
	flag.StringVar(&flagRateLimit, "rate-limit", "", "Download rate limit (e.g., 2MiB/s, 500KiB/s)")
	flag.BoolVar(&flagNoProgress, "no-progress", false, "Disable progress output")
	flag.StringVar(&flagS3Bucket, "s3-bucket", "", "Mirror artifacts to this S3 bucket after a successful run")
	flag.StringVar(&flagS3Prefix, "s3-prefix", "", "Key prefix for mirrored artifacts")
	flag.StringVar(&flagCacheDir, "cache-dir", "", "Cache resolved identities in this directory")
	flag.StringVar(&flagLogLevel, "log-level", "INFO", "Log level (TRACE, DEBUG, INFO, WARN, ERROR)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "\nOne of -keyword or -username is required.")
		fmt.Fprintln(os.Stderr, "\nFlags:")
		flag.PrintDefaults()
	}
	flag.Parse()

	// Local development convenience; a missing .env is not an error.
	_ = godotenv.Load()

	cfg := logger.DefaultConfig()
	cfg.Level = logger.ParseLevel(flagLogLevel)
	logger.SetDefault(logger.New(cfg))

	apiKey := flagAPIKey
	if apiKey == "" {
		apiKey = os.Getenv("TIKHUB_API_KEY")
	}
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "Missing API key: pass -api-key or set TIKHUB_API_KEY")
		return exitUsage
	}
	if flagKeyword == "" && flagUsername == "" {
		flag.Usage()
		return exitUsage
	}

	httpClient := client.NewWith(client.Config{
		Timeout:   flagTimeout,
		Retry:     client.Policy{Attempts: flagRetries, Jitter: true},
		UserAgent: flagUA,
		ProxyURL:  flagProxy,
	})

	p := wxdlp.New().
		WithAPIKey(apiKey).
		WithKeyword(flagKeyword).
		WithIdentity(flagUsername).
		WithUserIndex(flagUserIndex).
		WithSearchPage(flagPage).
		WithVideoID(flagVideoID).
		WithOutputDir(flagOutDir).
		WithDecryptAPI(flagDecryptAPI).
		WithRemoteDecrypt(flagRemoteDecrypt).
		WithSkipDownload(flagSkipDownload).
		WithSkipDecrypt(flagSkipDecrypt).
		WithHTTPClient(httpClient).
		WithRetry(httpClient.Retry)

	if bps := parseRate(flagRateLimit); bps > 0 {
		p = p.WithRateLimit(bps)
	}
	if flagCacheDir != "" {
		fc, err := idcache.NewFileCache(flagCacheDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Cannot use cache dir %s: %v\n", flagCacheDir, err)
			return exitUsage
		}
		p = p.WithIdentityCache(fc)
	}
	if !flagNoProgress {
		p = p.WithProgress(func(pr wxdlp.Progress) {
			if pr.TotalSize > 0 {
				_, _ = fmt.Fprintf(os.Stdout, "Downloaded %.1f%%\r", pr.Percent)
			}
		})
	}

	ctx := context.Background()
	result, err := p.Run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCodeFor(err)
	}

	fmt.Fprintf(os.Stdout, "\nSaved: %s\n", result.EncryptedPath)
	if result.DecryptedPath != "" {
		fmt.Fprintf(os.Stdout, "Decrypted: %s (%d bytes)\n", result.DecryptedPath, result.DecryptedSize)
	}
	fmt.Fprintf(os.Stdout, "Meta: %s\n", result.MetaPath)

	if flagS3Bucket != "" {
		if err := mirrorArtifacts(ctx, flagS3Bucket, flagS3Prefix, result); err != nil {
			fmt.Fprintf(os.Stderr, "S3 mirror failed: %v\n", err)
			return exitOther
		}
		fmt.Fprintf(os.Stdout, "Mirrored to s3://%s/%s\n", flagS3Bucket, flagS3Prefix)
	}
	return exitOK
}

func mirrorArtifacts(ctx context.Context, bucket, prefix string, result *wxdlp.Result) error {
	m, err := s3mirror.New(ctx, bucket, prefix)
	if err != nil {
		return err
	}
	paths := []string{result.EncryptedPath, result.MetaPath}
	if result.DecryptedPath != "" {
		paths = append(paths, result.DecryptedPath)
	}
	return m.UploadAll(ctx, paths...)
}

// exitCodeFor maps the pipeline's error taxonomy onto shell-friendly codes.
func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrUserNotFound), errors.Is(err, errs.ErrEmptyCollection):
		return exitResolution
	case errors.Is(err, errs.ErrAccessDenied):
		return exitAccess
	case errors.Is(err, errs.ErrDownloadFailed),
		errors.Is(err, errs.ErrTruncatedDownload),
		errors.Is(err, errs.ErrMalformedMedia):
		return exitDownload
	case errors.Is(err, errs.ErrDecryptServiceUnavailable),
		errors.Is(err, errs.ErrInvalidKey),
		errors.Is(err, errs.ErrShortKeystream):
		return exitDecrypt
	default:
		return exitOther
	}
}

// parseRate parses strings like "2MiB/s", "500KiB/s" into bytes per second.
func parseRate(s string) int64 {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0
	}
	mul := int64(1)
	s = strings.TrimSuffix(s, "/S")
	s = strings.TrimSpace(s)
	sfx := ""
	for _, suf := range []string{"KIB", "MIB", "GIB", "KB", "MB", "GB"} {
		if strings.HasSuffix(s, suf) {
			sfx = suf
			s = strings.TrimSuffix(s, suf)
			break
		}
	}
	s = strings.TrimSpace(s)
	var val float64
	_, err := fmt.Sscanf(s, "%f", &val)
	if err != nil || val <= 0 {
		return 0
	}
	switch sfx {
	case "KIB":
		mul = 1024
	case "MIB":
		mul = 1024 * 1024
	case "GIB":
		mul = 1024 * 1024 * 1024
	case "KB":
		mul = 1000
	case "MB":
		mul = 1000 * 1000
	case "GB":
		mul = 1000 * 1000 * 1000
	}
	return int64(val * float64(mul))
}
