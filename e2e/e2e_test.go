//go:build e2e

package e2e

import (
	"context"
	"os"
	"testing"

	"github.com/wxget/wxdlp"
)

func TestE2E_Pipeline(t *testing.T) {
	apiKey := os.Getenv("TIKHUB_API_KEY")
	if apiKey == "" {
		t.Skip("TIKHUB_API_KEY not set")
	}
	keyword := os.Getenv("WXDLP_E2E_KEYWORD")
	if keyword == "" {
		t.Skip("WXDLP_E2E_KEYWORD not set")
	}

	p := wxdlp.New().
		WithAPIKey(apiKey).
		WithKeyword(keyword).
		WithOutputDir(t.TempDir()).
		WithDecryptAPI(os.Getenv("WXDLP_E2E_DECRYPT_API"))
	if os.Getenv("WXDLP_E2E_DECRYPT_API") == "" {
		p = p.WithSkipDecrypt(true)
	}

	result, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("e2e run failed: %v", err)
	}
	if result.EncryptedSize == 0 {
		t.Fatalf("downloaded zero bytes")
	}
}
