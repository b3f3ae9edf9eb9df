// Package tracker files issues with a Jira-compatible tracker. A thin
// Client covers the two REST calls the pipeline needs (create issue,
// attach file); Dispatcher turns validator findings into tickets in bulk
// with per-item accounting.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	ErrNotConfigured = errors.New("tracker: client not configured")
	ErrCreateFailed  = errors.New("tracker: ticket creation failed")
)

// Client talks to one Jira-compatible instance using basic auth with an
// API token.
type Client struct {
	base       string
	user       string
	token      string
	projectKey string
	issueType  string
	httpc      *http.Client
	logger     *slog.Logger
}

// Option adjusts a Client.
type Option func(*Client)

// WithHTTPClient substitutes the HTTP client, mainly for tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpc = h }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithIssueType overrides the issue type name, default "Bug".
func WithIssueType(name string) Option {
	return func(c *Client) { c.issueType = name }
}

// NewClient creates a tracker client. base is the instance root, e.g.
// https://org.atlassian.net.
func NewClient(base, user, token, projectKey string, opts ...Option) (*Client, error) {
	if base == "" || token == "" || projectKey == "" {
		return nil, ErrNotConfigured
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		user:       user,
		token:      token,
		projectKey: projectKey,
		issueType:  "Bug",
		httpc:      &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Ticket identifies a created tracker issue.
type Ticket struct {
	Key string
	URL string
}

type createFields struct {
	Project   nameRef           `json:"project"`
	Summary   string            `json:"summary"`
	Desc      string            `json:"description"`
	IssueType map[string]string `json:"issuetype"`
	Priority  map[string]string `json:"priority"`
	Labels    []string          `json:"labels"`
	Assignee  map[string]string `json:"assignee,omitempty"`
}

type nameRef struct {
	Key string `json:"key"`
}

// CreateIssue files one ticket and returns its key plus a browsable URL.
func (c *Client) CreateIssue(ctx context.Context, summary, description, priority string, labels []string, assignee string) (Ticket, error) {
	fields := createFields{
		Project:   nameRef{Key: c.projectKey},
		Summary:   summary,
		Desc:      description,
		IssueType: map[string]string{"name": c.issueType},
		Priority:  map[string]string{"name": priority},
		Labels:    labels,
	}
	if assignee != "" {
		fields.Assignee = map[string]string{"name": assignee}
	}
	body, err := json.Marshal(map[string]any{"fields": fields})
	if err != nil {
		return Ticket{}, fmt.Errorf("tracker: marshal issue: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/rest/api/2/issue", bytes.NewReader(body))
	if err != nil {
		return Ticket{}, fmt.Errorf("tracker: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.user, c.token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return Ticket{}, fmt.Errorf("tracker: create issue: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Ticket{}, fmt.Errorf("%w: status %d: %s", ErrCreateFailed, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var created struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return Ticket{}, fmt.Errorf("tracker: decode create response: %w", err)
	}
	if created.Key == "" {
		return Ticket{}, fmt.Errorf("%w: response missing issue key", ErrCreateFailed)
	}
	return Ticket{Key: created.Key, URL: c.base + "/browse/" + created.Key}, nil
}

// Attach uploads a local file against an existing issue key. Attachment
// failures are reported but do not invalidate the ticket.
func (c *Client) Attach(ctx context.Context, issueKey, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("tracker: open attachment: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("tracker: build attachment form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("tracker: read attachment: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("tracker: finalize attachment form: %w", err)
	}

	url := fmt.Sprintf("%s/rest/api/2/issue/%s/attachments", c.base, issueKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return fmt.Errorf("tracker: build attachment request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Atlassian-Token", "no-check")
	req.SetBasicAuth(c.user, c.token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("tracker: upload attachment: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("tracker: attachment rejected with status %d", resp.StatusCode)
	}
	return nil
}
