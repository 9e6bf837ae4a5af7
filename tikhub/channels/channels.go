package channels

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"

	"github.com/wxget/wxdlp/errs"
	"github.com/wxget/wxdlp/internal/logger"
	"github.com/wxget/wxdlp/pkg/client"
	"github.com/wxget/wxdlp/types"
)

const (
	// DefaultBaseURL is the production metadata API host.
	DefaultBaseURL = "https://api.tikhub.io"

	searchPath = "/api/v1/wechat_channels/fetch_user_search"
	homePath   = "/api/v1/wechat_channels/fetch_home_page"
	detailPath = "/api/v1/wechat_channels/fetch_video_detail"

	envelopeOKCode = 200
	bodyExcerptMax = 500
)

var log = logger.C(logger.ComponentChannels)

// Client talks to the WeChat Channels metadata API.
type Client struct {
	HTTPClient *client.Client
	BaseURL    string
	APIKey     string
}

// New creates a metadata API client. If httpClient is nil a default retrying
// client is used.
func New(httpClient *client.Client, apiKey string) *Client {
	if httpClient == nil {
		httpClient = client.New()
	}
	return &Client{
		HTTPClient: httpClient,
		BaseURL:    DefaultBaseURL,
		APIKey:     apiKey,
	}
}

// WithBaseURL overrides the API host (tests, self-hosted proxies).
func (c *Client) WithBaseURL(base string) *Client {
	if strings.TrimSpace(base) != "" {
		c.BaseURL = strings.TrimRight(base, "/")
	}
	return c
}

// envelope is the API-level wrapper around every response payload.
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// apiGet performs an authenticated GET and unwraps the response envelope.
func (c *Client) apiGet(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	reqURL := c.BaseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	req.Header.Set("Connection", "keep-alive")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := readBody(resp)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}

	switch {
	case resp.StatusCode == http.StatusPaymentRequired:
		return nil, fmt.Errorf("%w: HTTP 402 payment required, check API plan: %s", errs.ErrAccessDenied, excerpt(body))
	case resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: HTTP 403 forbidden, key lacks scope: %s", errs.ErrAccessDenied, excerpt(body))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("HTTP %d from %s: %s", resp.StatusCode, path, excerpt(body))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("parse %s envelope: %w", path, err)
	}
	if env.Code != envelopeOKCode {
		return nil, fmt.Errorf("api error code %d from %s: %s", env.Code, path, excerpt(body))
	}
	return env.Data, nil
}

// readBody drains a response body, decoding the negotiated content encoding.
func readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gzReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("create gzip reader: %w", err)
		}
		defer gzReader.Close()
		reader = gzReader
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		reader = flate.NewReader(resp.Body)
	}
	return io.ReadAll(reader)
}

func excerpt(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > bodyExcerptMax {
		s = s[:bodyExcerptMax]
	}
	return s
}

type searchItem struct {
	Contact types.UserCandidate `json:"contact"`
}

// SearchUsers resolves a keyword to ranked account candidates. Pages are
// 1-based. An empty result set is ErrUserNotFound.
func (c *Client) SearchUsers(ctx context.Context, keywords string, page int) ([]types.UserCandidate, error) {
	if strings.TrimSpace(keywords) == "" {
		return nil, fmt.Errorf("%w: empty search keyword", errs.ErrUserNotFound)
	}
	if page < 1 {
		page = 1
	}

	params := url.Values{}
	params.Set("keywords", keywords)
	params.Set("page", strconv.Itoa(page))

	data, err := c.apiGet(ctx, searchPath, params)
	if err != nil {
		return nil, err
	}

	var items []searchItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse search results: %w", err)
	}

	candidates := make([]types.UserCandidate, 0, len(items))
	for _, it := range items {
		if it.Contact.Username == "" {
			continue
		}
		candidates = append(candidates, it.Contact)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: keyword %q page %d", errs.ErrUserNotFound, keywords, page)
	}

	log.Info("search completed", map[string]interface{}{"keyword": keywords, "results": len(candidates)})
	return candidates, nil
}

// HomePage is one page of an account's profile and video collection.
type HomePage struct {
	Profile    types.Profile
	Videos     []types.VideoRecord
	NextCursor string
}

type homeData struct {
	Contact *types.Profile `json:"contact"`
	// The collection arrives under either key with no documented rule for
	// which; object_list wins when both are present.
	ObjectList []types.VideoRecord `json:"object_list"`
	Object     []types.VideoRecord `json:"object"`
	LastBuffer types.FlexString    `json:"last_buffer"`
}

// HomePage fetches one page of the account's video collection. An empty
// cursor requests the first page; a first page with zero videos is
// ErrEmptyCollection.
func (c *Client) HomePage(ctx context.Context, identity types.Identity, cursor string) (*HomePage, error) {
	if identity == "" {
		return nil, fmt.Errorf("%w: empty identity", errs.ErrUserNotFound)
	}

	params := url.Values{}
	params.Set("username", string(identity))
	if cursor != "" {
		params.Set("last_buffer", cursor)
	}

	data, err := c.apiGet(ctx, homePath, params)
	if err != nil {
		return nil, err
	}

	var hd homeData
	if err := json.Unmarshal(data, &hd); err != nil {
		return nil, fmt.Errorf("parse home page: %w", err)
	}

	page := &HomePage{
		Videos:     hd.ObjectList,
		NextCursor: string(hd.LastBuffer),
	}
	if len(page.Videos) == 0 {
		page.Videos = hd.Object
	}
	if hd.Contact != nil {
		page.Profile = *hd.Contact
	}

	if len(page.Videos) == 0 && cursor == "" {
		return nil, fmt.Errorf("%w: account %s", errs.ErrEmptyCollection, identity)
	}

	log.Info("home page fetched", map[string]interface{}{"identity": string(identity), "videos": len(page.Videos)})
	return page, nil
}

// VideoDetail fetches a single record by id or export id.
func (c *Client) VideoDetail(ctx context.Context, id string) (*types.VideoRecord, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("video detail: empty id")
	}

	params := url.Values{}
	if strings.HasPrefix(id, "export/") {
		params.Set("exportId", id)
	} else {
		params.Set("id", id)
	}

	data, err := c.apiGet(ctx, detailPath, params)
	if err != nil {
		return nil, err
	}

	var rec types.VideoRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse video detail: %w", err)
	}
	return &rec, nil
}
