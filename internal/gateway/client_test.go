package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/foxzi/reviewdesk/internal/normalize"
)

func newTestClient(srv *httptest.Server) *Client {
	c := NewClient(Options{
		FetchURL:   srv.URL + "/fetch",
		CommandURL: srv.URL + "/command",
		UploadURL:  srv.URL + "/upload",
		Token:      "test-token",
		Timeout:    5 * time.Second,
	})
	c.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return c
}

func TestFetchCampaigns(t *testing.T) {
	var gotAction, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("Expected GET, got %s", r.Method)
		}
		gotAction = r.URL.Query().Get("action")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"Unique ID":"C-1","Campaign Name":"Spring","Status":"New"}]}`))
	}))
	defer srv.Close()

	tree, err := newTestClient(srv).FetchCampaigns(context.Background())
	if err != nil {
		t.Fatalf("FetchCampaigns failed: %v", err)
	}
	if gotAction != "FetchActiveCampaigns" {
		t.Errorf("action = %q", gotAction)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}

	list := normalize.Campaigns(tree)
	if len(list) != 1 || list[0].ID != "C-1" {
		t.Fatalf("unexpected campaigns: %+v", list)
	}
}

func TestFetchUsersEmailFilter(t *testing.T) {
	var gotEmail string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEmail = r.URL.Query().Get("email")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	if _, err := newTestClient(srv).FetchUsers(context.Background(), "a@b.c"); err != nil {
		t.Fatal(err)
	}
	if gotEmail != "a@b.c" {
		t.Errorf("email = %q", gotEmail)
	}
}

func TestFetchNonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>oops</html>`))
	}))
	defer srv.Close()

	tree, err := newTestClient(srv).FetchDesigners(context.Background())
	if err != nil {
		t.Fatalf("non-JSON body should not fail: %v", err)
	}
	if got := normalize.Designers(tree); len(got) != 0 {
		t.Errorf("expected no designers, got %d", len(got))
	}
}

func TestFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"message":"workflow inactive"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).FetchCampaigns(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrRemoteRead) {
		t.Errorf("expected ErrRemoteRead, got %v", err)
	}
	var re *RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RemoteError, got %T", err)
	}
	if re.StatusCode != http.StatusBadGateway || re.Message != "workflow inactive" {
		t.Errorf("unexpected remote error: %+v", re)
	}
}

func TestFetchUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c := newTestClient(srv)
	srv.Close()

	_, err := c.FetchCampaigns(context.Background())
	if !errors.Is(err, ErrRemoteRead) {
		t.Errorf("expected ErrRemoteRead, got %v", err)
	}
}

func TestSubmitReview(t *testing.T) {
	var body map[string]any
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	res, err := newTestClient(srv).Submit(context.Background(), Command{
		Kind:       KindReview,
		CampaignID: "C-1",
		Fields:     map[string]any{"status": "Rejected", "feedback": "too dark"},
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Errorf("status = %d", res.StatusCode)
	}
	if path != "/command" {
		t.Errorf("path = %q", path)
	}
	if body["action"] != "Project Review" || body["id"] != "C-1" || body["feedback"] != "too dark" {
		t.Errorf("unexpected body: %v", body)
	}
	if body["sentAt"] != "2026-03-01T12:00:00Z" {
		t.Errorf("sentAt = %v", body["sentAt"])
	}
}

func TestSubmitCreateReturnsID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"Unique ID":"C-77","Campaign Name":"Launch"}]`))
	}))
	defer srv.Close()

	res, err := newTestClient(srv).Submit(context.Background(), Command{
		Kind:   KindCreate,
		Fields: map[string]any{"Campaign Name": "Launch"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.ID != "C-77" {
		t.Errorf("ID = %q, want C-77", res.ID)
	}
}

func TestSubmitDesignUploadMultipart(t *testing.T) {
	var path, id, fileName, fileData string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
			return
		}
		id = r.FormValue("id")
		f, hdr, err := r.FormFile("design")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			return
		}
		defer f.Close()
		fileName = hdr.Filename
		data, _ := io.ReadAll(f)
		fileData = string(data)
		w.Write([]byte(`{"designUrl":"https://cdn.example.com/a.png"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Submit(context.Background(), Command{
		Kind:       KindDesignUpload,
		CampaignID: "C-3",
		Fields:     map[string]any{"campaignName": "Spring"},
		Attachments: []Attachment{
			{Field: "design", FileName: "a.png", ContentType: "image/png", Data: []byte("PNGDATA")},
		},
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if path != "/upload" {
		t.Errorf("path = %q, want /upload", path)
	}
	if id != "C-3" || fileName != "a.png" || fileData != "PNGDATA" {
		t.Errorf("id=%q file=%q data=%q", id, fileName, fileData)
	}
}

func TestSubmitError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(strings.Repeat("x", 500)))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Submit(context.Background(), Command{Kind: KindDelete, CampaignID: "C-1"})
	if !errors.Is(err, ErrRemoteWrite) {
		t.Fatalf("expected ErrRemoteWrite, got %v", err)
	}
	if errors.Is(err, ErrRemoteRead) {
		t.Error("write failure must not match ErrRemoteRead")
	}
	var re *RemoteError
	errors.As(err, &re)
	if len(re.Message) != 200 {
		t.Errorf("expected message truncated to 200, got %d", len(re.Message))
	}
}

func TestGenerateCaptionParams(t *testing.T) {
	var q map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q = map[string]string{
			"action":       r.URL.Query().Get("action"),
			"id":           r.URL.Query().Get("id"),
			"campaignName": r.URL.Query().Get("campaignName"),
			"designUrl":    r.URL.Query().Get("designUrl"),
		}
		w.Write([]byte(`{"caption":"Hello","hashtags":"#a"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).GenerateCaption(context.Background(), CaptionRequest{
		CampaignID:   "C-1",
		CampaignName: "Spring Sale",
		DesignURL:    "https://x/y.png",
	})
	if err != nil {
		t.Fatal(err)
	}
	if q["action"] != "captiongen" || q["id"] != "C-1" || q["campaignName"] != "Spring Sale" || q["designUrl"] != "https://x/y.png" {
		t.Errorf("unexpected params: %v", q)
	}
}

func TestFetchURLWithQuery(t *testing.T) {
	var raw string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw = r.URL.RawQuery
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	c.opts.FetchURL = srv.URL + "/fetch?sheet=main"
	if _, err := c.FetchCampaigns(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(raw, "sheet=main") || !strings.Contains(raw, "action=FetchActiveCampaigns") {
		t.Errorf("query = %q", raw)
	}
}

func TestUploadURLDefaultsToCommandURL(t *testing.T) {
	c := NewClient(Options{CommandURL: "http://example.com/cmd"})
	if c.opts.UploadURL != "http://example.com/cmd" {
		t.Errorf("UploadURL = %q", c.opts.UploadURL)
	}
	if c.opts.FetchTimeout != 10*time.Second {
		t.Errorf("FetchTimeout = %v", c.opts.FetchTimeout)
	}
}
