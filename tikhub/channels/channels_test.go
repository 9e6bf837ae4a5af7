package channels

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wxget/wxdlp/errs"
	"github.com/wxget/wxdlp/pkg/client"
	"github.com/wxget/wxdlp/types"
)

func testClient(t *testing.T, srvURL string) *Client {
	t.Helper()
	hc := client.NewWith(client.Config{
		Timeout: 5 * time.Second,
		Retry:   client.Policy{Attempts: 1, BaseDelay: time.Millisecond},
	})
	return New(hc, "test-key").WithBaseURL(srvURL)
}

func TestSearchUsers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != searchPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("missing bearer auth, got %q", got)
		}
		if got := r.URL.Query().Get("keywords"); got != "李大霄" {
			t.Errorf("keywords = %q", got)
		}
		if got := r.URL.Query().Get("page"); got != "1" {
			t.Errorf("page = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":200,"data":[
			{"contact":{"nickname":"李大霄","username":"v2_abc@finder","signature":"market watcher"}},
			{"contact":{"nickname":"李大霄粉丝","username":"v2_def@finder"}},
			{"contact":{"nickname":"no username"}}
		]}`))
	}))
	defer srv.Close()

	got, err := testClient(t, srv.URL).SearchUsers(context.Background(), "李大霄", 1)
	if err != nil {
		t.Fatalf("SearchUsers: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 usable candidates, got %d", len(got))
	}
	if got[0].Username != "v2_abc@finder" || got[0].Nickname != "李大霄" {
		t.Errorf("first ranked candidate = %+v", got[0])
	}
}

func TestSearchUsersEmptyIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":200,"data":[]}`))
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).SearchUsers(context.Background(), "nobody", 1)
	if !errors.Is(err, errs.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestHomePagePrefersObjectList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("username"); got != "v2_abc@finder" {
			t.Errorf("username = %q", got)
		}
		_, _ = w.Write([]byte(`{"code":200,"data":{
			"contact":{"nickname":"李大霄","username":"v2_abc@finder"},
			"object_list":[{"id":"111","createtime":100}],
			"object":[{"id":"222","createtime":200}],
			"last_buffer":"cursor-1"
		}}`))
	}))
	defer srv.Close()

	page, err := testClient(t, srv.URL).HomePage(context.Background(), "v2_abc@finder", "")
	if err != nil {
		t.Fatalf("HomePage: %v", err)
	}
	if len(page.Videos) != 1 || string(page.Videos[0].ID) != "111" {
		t.Errorf("expected object_list to win, got %+v", page.Videos)
	}
	if page.NextCursor != "cursor-1" {
		t.Errorf("NextCursor = %q", page.NextCursor)
	}
	if page.Profile.Nickname != "李大霄" {
		t.Errorf("Profile = %+v", page.Profile)
	}
}

func TestHomePageFallsBackToObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":200,"data":{"object":[{"id":333,"createtime":200}]}}`))
	}))
	defer srv.Close()

	page, err := testClient(t, srv.URL).HomePage(context.Background(), "v2_abc@finder", "")
	if err != nil {
		t.Fatalf("HomePage: %v", err)
	}
	if len(page.Videos) != 1 || string(page.Videos[0].ID) != "333" {
		t.Errorf("expected numeric-id object fallback, got %+v", page.Videos)
	}
}

func TestHomePageEmptyCollection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":200,"data":{}}`))
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).HomePage(context.Background(), "v2_abc@finder", "")
	if !errors.Is(err, errs.ErrEmptyCollection) {
		t.Fatalf("expected ErrEmptyCollection, got %v", err)
	}
}

func TestHomePageEmptyContinuationIsNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("last_buffer"); got != "cursor-1" {
			t.Errorf("last_buffer = %q", got)
		}
		_, _ = w.Write([]byte(`{"code":200,"data":{}}`))
	}))
	defer srv.Close()

	page, err := testClient(t, srv.URL).HomePage(context.Background(), "v2_abc@finder", "cursor-1")
	if err != nil {
		t.Fatalf("continuation page with zero videos should not error: %v", err)
	}
	if len(page.Videos) != 0 {
		t.Errorf("expected empty continuation page, got %d videos", len(page.Videos))
	}
}

func TestPaymentRequiredIsAccessDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"detail":"No remaining credits"}`))
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).HomePage(context.Background(), "v2_abc@finder", "")
	if !errors.Is(err, errs.ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
	if !strings.Contains(err.Error(), "402") || !strings.Contains(err.Error(), "No remaining credits") {
		t.Errorf("error should carry status and body excerpt, got %v", err)
	}
}

func TestPersistentServerErrorKeepsStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"detail":"upstream exploded"}`))
	}))
	defer srv.Close()

	hc := client.NewWith(client.Config{
		Timeout: 5 * time.Second,
		Retry:   client.Policy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	})
	_, err := New(hc, "test-key").WithBaseURL(srv.URL).SearchUsers(context.Background(), "x", 1)
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if !strings.Contains(err.Error(), "502") || !strings.Contains(err.Error(), "upstream exploded") {
		t.Errorf("error should carry status and body excerpt, got %v", err)
	}
}

func TestForbiddenIsAccessDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).SearchUsers(context.Background(), "x", 1)
	if !errors.Is(err, errs.ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
}

func TestEnvelopeErrorCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":500,"msg":"upstream flaked","data":null}`))
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).HomePage(context.Background(), "v2_abc@finder", "")
	if err == nil || !strings.Contains(err.Error(), "api error code 500") {
		t.Fatalf("expected envelope code error, got %v", err)
	}
}

func TestGzipResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = gz.Write([]byte(`{"code":200,"data":{"object_list":[{"id":"1","createtime":1}]}}`))
		_ = gz.Close()
	}))
	defer srv.Close()

	page, err := testClient(t, srv.URL).HomePage(context.Background(), "v2_abc@finder", "")
	if err != nil {
		t.Fatalf("gzip-encoded response: %v", err)
	}
	if len(page.Videos) != 1 {
		t.Errorf("expected 1 video, got %d", len(page.Videos))
	}
}

func TestVideoDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != detailPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("id"); got != "14538497534979031" {
			t.Errorf("id = %q", got)
		}
		_, _ = w.Write([]byte(`{"code":200,"data":{
			"id":"14538497534979031","createtime":1700000000,
			"object_desc":{"description":"market update","media":[{"url":"https://cdn/v.mp4?","url_token":"&tok=1","decode_key":"12345"}]}
		}}`))
	}))
	defer srv.Close()

	rec, err := testClient(t, srv.URL).VideoDetail(context.Background(), "14538497534979031")
	if err != nil {
		t.Fatalf("VideoDetail: %v", err)
	}
	if string(rec.ID) != "14538497534979031" || rec.ObjectDesc.Description != "market update" {
		t.Errorf("record = %+v", rec)
	}
}

func TestVideoDetailExportID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("exportId"); got != "export/abc" {
			t.Errorf("exportId = %q", got)
		}
		_, _ = w.Write([]byte(`{"code":200,"data":{"id":"abc"}}`))
	}))
	defer srv.Close()

	if _, err := testClient(t, srv.URL).VideoDetail(context.Background(), "export/abc"); err != nil {
		t.Fatalf("VideoDetail export id: %v", err)
	}
}

func TestNumericDecodeKey(t *testing.T) {
	rec := types.VideoRecord{}
	raw := `{"id":1,"object_desc":{"media":[{"url":"u","url_token":"t","decode_key":987654}]}}`
	if err := jsonUnmarshal(raw, &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	d, err := Locate(rec)
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if d.DecodeKey() != "987654" {
		t.Errorf("DecodeKey = %q, want 987654", d.DecodeKey())
	}
}

func jsonUnmarshal(s string, v interface{}) error {
	dec := json.NewDecoder(strings.NewReader(s))
	return dec.Decode(v)
}
