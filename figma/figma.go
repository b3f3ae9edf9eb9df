// Package figma resolves design-file identifiers and fetches file metadata
// and rendered reference images from the Figma REST API. Batch rendering
// degrades gracefully: failed batches are bisected and retried so one bad
// node never sinks the whole request.
package figma

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.figma.com/v1"

// bareIDPattern matches a clean file id passed without a URL around it.
var bareIDPattern = regexp.MustCompile(`^[a-zA-Z0-9]{15,25}$`)

// nodeIDPattern matches the node-id query parameter of a deep link.
var nodeIDPattern = regexp.MustCompile(`^[0-9-]+$`)

// urlMarkers are the path segments a file id can follow in a share URL.
var urlMarkers = []string{"file", "design", "proto"}

// Client talks to the Figma API.
type Client struct {
	base    string
	token   string
	httpc   *http.Client
	logger  *slog.Logger
	backoff time.Duration // base delay for 429 retries
	retries int           // attempts per request on 429
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL (used by tests).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.base = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpc = h }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithBackoff sets the base delay applied between 429 retries. The n-th
// retry waits n times this value.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

// NewClient creates a Figma API client authenticated with the given
// personal access token.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		base:    defaultBaseURL,
		token:   token,
		httpc:   &http.Client{Timeout: 60 * time.Second},
		logger:  slog.Default(),
		backoff: 2 * time.Second,
		retries: 3,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Resolve turns a bare file id or a share URL into a file id. Accepted
// shapes: a 15-25 character alphanumeric id, or a URL whose path contains
// /file/{id}, /design/{id} or /proto/{id}. Resolution is a pure string
// operation; the same input always resolves to the same id.
func Resolve(idOrURL string) (string, error) {
	s := strings.TrimSpace(idOrURL)
	if s == "" {
		return "", fmt.Errorf("%w: empty input", ErrResolution)
	}
	if bareIDPattern.MatchString(s) {
		return s, nil
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrResolution, idOrURL)
	}
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, seg := range segs {
		for _, marker := range urlMarkers {
			if seg == marker && i+1 < len(segs) {
				id := segs[i+1]
				if bareIDPattern.MatchString(id) {
					return id, nil
				}
				return "", fmt.Errorf("%w: malformed id %q in %q", ErrResolution, id, idOrURL)
			}
		}
	}
	return "", fmt.Errorf("%w: %q", ErrResolution, idOrURL)
}

// ResolveNode resolves a deep link that names a specific node via the
// node-id query parameter. The dash form used in share URLs is converted
// to the colon form the API expects. Without a node-id parameter the
// document root "0:1" is assumed.
func ResolveNode(link string) (fileID, nodeID string, err error) {
	fileID, err = Resolve(link)
	if err != nil {
		return "", "", err
	}
	nodeID = "0:1"
	if u, perr := url.Parse(strings.TrimSpace(link)); perr == nil {
		if raw := u.Query().Get("node-id"); raw != "" && nodeIDPattern.MatchString(raw) {
			nodeID = strings.ReplaceAll(raw, "-", ":")
		}
	}
	return fileID, nodeID, nil
}

// Node is one element of the document tree returned by the metadata
// endpoint. Only the structural fields the pipeline needs are decoded.
type Node struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Children []Node `json:"children,omitempty"`
}

// FileMeta is the decoded metadata of one design file.
type FileMeta struct {
	Name         string `json:"name"`
	LastModified string `json:"lastModified"`
	Document     Node   `json:"document"`
}

// NodeRef names one renderable frame.
type NodeRef struct {
	ID   string
	Name string
}

// Frames enumerates the renderable frames of the document: the FRAME
// children of each page, or the page itself when it has no frames.
func (m *FileMeta) Frames() []NodeRef {
	var refs []NodeRef
	for _, page := range m.Document.Children {
		if page.Type != "CANVAS" {
			continue
		}
		var found bool
		for _, child := range page.Children {
			if child.Type == "FRAME" {
				refs = append(refs, NodeRef{ID: child.ID, Name: child.Name})
				found = true
			}
		}
		if !found && page.ID != "" {
			refs = append(refs, NodeRef{ID: page.ID, Name: page.Name})
		}
	}
	return refs
}

// File fetches the metadata document tree of a file. HTTP status codes map
// onto the package error taxonomy: 404 → ErrAssetNotFound, 401/403 →
// ErrAssetAccessDenied; 429 goes through the backoff path before
// surfacing ErrRateLimited.
func (c *Client) File(ctx context.Context, fileID string) (*FileMeta, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/files/%s", c.base, url.PathEscape(fileID)), fileID)
	if err != nil {
		return nil, err
	}

	var meta FileMeta
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, fmt.Errorf("figma: decode file %s: %w", fileID, err)
	}
	return &meta, nil
}

// get performs one authenticated GET with bounded 429 retries.
func (c *Client) get(ctx context.Context, rawURL, fileID string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * c.backoff
			c.logger.Info("figma: rate limited, backing off",
				"file", fileID, "attempt", attempt+1, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("figma: new request: %w", err)
		}
		req.Header.Set("X-Figma-Token", c.token)

		resp, err := c.httpc.Do(req)
		if err != nil {
			return nil, fmt.Errorf("figma: request %s: %w", fileID, err)
		}

		switch resp.StatusCode {
		case http.StatusOK:
			body, rerr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if rerr != nil {
				return nil, fmt.Errorf("figma: read response for %s: %w", fileID, rerr)
			}
			return body, nil
		case http.StatusNotFound:
			resp.Body.Close()
			return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, fileID)
		case http.StatusUnauthorized, http.StatusForbidden:
			resp.Body.Close()
			return nil, fmt.Errorf("%w: %s (status %d)", ErrAssetAccessDenied, fileID, resp.StatusCode)
		case http.StatusTooManyRequests:
			resp.Body.Close()
			lastErr = fmt.Errorf("%w: %s", ErrRateLimited, fileID)
			continue
		default:
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return nil, fmt.Errorf("figma: %s: unexpected status %d: %s", fileID, resp.StatusCode, snippet)
		}
	}
	return nil, lastErr
}
