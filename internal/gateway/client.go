// Package gateway talks to the automation backend through its webhooks.
// Reads return the decoded response tree; interpreting it is up to package
// normalize.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/foxzi/reviewdesk/internal/metrics"
	"github.com/foxzi/reviewdesk/internal/normalize"
)

// Gateway is the backend surface the controller and session manager use
type Gateway interface {
	FetchCampaigns(ctx context.Context) (any, error)
	FetchDesigners(ctx context.Context) (any, error)
	FetchUsers(ctx context.Context, emailFilter string) (any, error)
	Submit(ctx context.Context, cmd Command) (*CommandResult, error)
	GenerateCaption(ctx context.Context, req CaptionRequest) (any, error)
	TriggerSync(ctx context.Context) error
}

const maxResponseBytes = 10 << 20

// Options configures the webhook endpoints
type Options struct {
	FetchURL     string
	CommandURL   string
	UploadURL    string
	Token        string
	Timeout      time.Duration
	FetchTimeout time.Duration
}

// Client is the HTTP implementation of Gateway
type Client struct {
	opts       Options
	httpClient *http.Client
	now        func() time.Time
}

// NewClient creates a new backend webhook client
func NewClient(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.FetchTimeout == 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	if opts.UploadURL == "" {
		opts.UploadURL = opts.CommandURL
	}
	return &Client{
		opts: opts,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		now: time.Now,
	}
}

// FetchCampaigns returns the active campaign rows
func (c *Client) FetchCampaigns(ctx context.Context) (any, error) {
	return c.fetch(ctx, "fetch_campaigns", url.Values{"action": {"FetchActiveCampaigns"}})
}

// FetchDesigners returns the designer rows
func (c *Client) FetchDesigners(ctx context.Context) (any, error) {
	return c.fetch(ctx, "fetch_designers", url.Values{"action": {"FetchDesigners"}})
}

// FetchUsers returns identity rows, optionally filtered by email on the backend
func (c *Client) FetchUsers(ctx context.Context, emailFilter string) (any, error) {
	params := url.Values{"action": {"FetchUsers"}}
	if emailFilter != "" {
		params.Set("email", emailFilter)
	}
	return c.fetch(ctx, "fetch_users", params)
}

// GenerateCaption asks the backend for an AI caption suggestion
func (c *Client) GenerateCaption(ctx context.Context, req CaptionRequest) (any, error) {
	return c.fetch(ctx, "caption_generate", url.Values{
		"action":       {"captiongen"},
		"id":           {req.CampaignID},
		"campaignName": {req.CampaignName},
		"brief":        {req.Brief},
		"designUrl":    {req.DesignURL},
	})
}

// TriggerSync asks the backend to resynchronize its sheet
func (c *Client) TriggerSync(ctx context.Context) error {
	_, err := c.Submit(ctx, Command{Kind: KindSync})
	return err
}

// Submit sends a write command. Design uploads go to the upload webhook,
// as multipart when files are attached.
func (c *Client) Submit(ctx context.Context, cmd Command) (*CommandResult, error) {
	op := "submit_" + opName(cmd.Kind)
	body := c.commandBody(cmd)

	if cmd.Kind != KindDesignUpload {
		return c.postJSON(ctx, op, c.opts.CommandURL, body)
	}
	if len(cmd.Attachments) == 0 {
		return c.postJSON(ctx, op, c.opts.UploadURL, body)
	}
	return c.postMultipart(ctx, op, c.opts.UploadURL, body, cmd.Attachments)
}

func (c *Client) commandBody(cmd Command) map[string]any {
	body := make(map[string]any, len(cmd.Fields)+3)
	for k, v := range cmd.Fields {
		body[k] = v
	}
	body["action"] = string(cmd.Kind)
	if cmd.CampaignID != "" {
		body["id"] = cmd.CampaignID
	}
	body["sentAt"] = c.now().UTC().Format(time.RFC3339)
	return body
}

func (c *Client) fetch(ctx context.Context, op string, params url.Values) (result any, err error) {
	start := time.Now()
	defer func() { observe(op, start, err) }()

	ctx, cancel := context.WithTimeout(ctx, c.opts.FetchTimeout)
	defer cancel()

	target := c.opts.FetchURL
	if strings.Contains(target, "?") {
		target += "&" + params.Encode()
	} else {
		target += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &RemoteError{Op: op, err: ErrRemoteRead, cause: fmt.Errorf("create request: %w", err)}
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "application/json")

	data, status, err := c.do(req)
	if err != nil {
		return nil, &RemoteError{Op: op, err: ErrRemoteRead, cause: err}
	}
	if status >= 400 {
		return nil, &RemoteError{Op: op, StatusCode: status, Message: errorMessage(data), err: ErrRemoteRead}
	}

	return normalize.Decode(data), nil
}

func (c *Client) postJSON(ctx context.Context, op, target string, body any) (*CommandResult, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, &RemoteError{Op: op, err: ErrRemoteWrite, cause: fmt.Errorf("marshal request: %w", err)}
	}
	return c.post(ctx, op, target, "application/json", bytes.NewReader(data))
}

func (c *Client) postMultipart(ctx context.Context, op, target string, fields map[string]any, files []Attachment) (*CommandResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	for k, v := range fields {
		if err := mw.WriteField(k, fmt.Sprint(v)); err != nil {
			return nil, &RemoteError{Op: op, err: ErrRemoteWrite, cause: err}
		}
	}

	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.Field, f.FileName))
		ct := f.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)

		part, err := mw.CreatePart(h)
		if err != nil {
			return nil, &RemoteError{Op: op, err: ErrRemoteWrite, cause: err}
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, &RemoteError{Op: op, err: ErrRemoteWrite, cause: err}
		}
	}

	if err := mw.Close(); err != nil {
		return nil, &RemoteError{Op: op, err: ErrRemoteWrite, cause: err}
	}

	return c.post(ctx, op, target, mw.FormDataContentType(), &buf)
}

func (c *Client) post(ctx context.Context, op, target, contentType string, body io.Reader) (result *CommandResult, err error) {
	start := time.Now()
	defer func() { observe(op, start, err) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return nil, &RemoteError{Op: op, err: ErrRemoteWrite, cause: fmt.Errorf("create request: %w", err)}
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	data, status, err := c.do(req)
	if err != nil {
		return nil, &RemoteError{Op: op, err: ErrRemoteWrite, cause: err}
	}
	if status >= 400 {
		return nil, &RemoteError{Op: op, StatusCode: status, Message: errorMessage(data), err: ErrRemoteWrite}
	}

	tree := normalize.Decode(data)
	return &CommandResult{
		StatusCode: status,
		ID:         normalize.FirstID(tree),
		Body:       tree,
	}, nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	req.Header.Set("User-Agent", "reviewdesk")
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return data, resp.StatusCode, nil
}

// errorMessage pulls a readable message out of an error body
func errorMessage(data []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

func opName(kind CommandKind) string {
	return strings.ToLower(strings.ReplaceAll(string(kind), " ", "_"))
}

func observe(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.ObserveGatewayRequest(op, outcome, time.Since(start))
}
