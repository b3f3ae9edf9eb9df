package figma

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResolveBareID(t *testing.T) {
	ids := []string{
		"abc123def456ghi",          // 15 chars, lower bound
		"abc123def456ghi789jkl",    // 21 chars
		"A1B2C3D4E5F6G7H8I9J0K2L3M", // 25 chars, upper bound
	}
	for _, id := range ids {
		got, err := Resolve(id)
		if err != nil {
			t.Errorf("Resolve(%q): %v", id, err)
			continue
		}
		if got != id {
			t.Errorf("Resolve(%q) = %q, want unchanged", id, got)
		}
	}
}

func TestResolveURLShapes(t *testing.T) {
	const id = "abc123def456ghi789jkl"
	tests := []string{
		"https://x.com/design/" + id + "/Name",
		"https://www.figma.com/file/" + id + "/My-Design?node-id=1-2",
		"https://www.figma.com/proto/" + id,
	}
	for _, u := range tests {
		got, err := Resolve(u)
		if err != nil {
			t.Errorf("Resolve(%q): %v", u, err)
			continue
		}
		if got != id {
			t.Errorf("Resolve(%q) = %q, want %q", u, got, id)
		}
	}
}

func TestResolveRejects(t *testing.T) {
	bad := []string{
		"",
		"short",
		"way-too-long-identifier-with-far-too-many-characters",
		"has spaces in it yes",
		"https://example.com/nothing/here",
		"https://www.figma.com/file/bad!chars$/Name",
	}
	for _, s := range bad {
		if _, err := Resolve(s); !errors.Is(err, ErrResolution) {
			t.Errorf("Resolve(%q): got %v, want ErrResolution", s, err)
		}
	}
}

func TestResolveNode(t *testing.T) {
	const id = "abc123def456ghi789jkl"
	fileID, nodeID, err := ResolveNode("https://www.figma.com/design/" + id + "/App?node-id=12-345")
	if err != nil {
		t.Fatal(err)
	}
	if fileID != id {
		t.Errorf("file: got %q", fileID)
	}
	if nodeID != "12:345" {
		t.Errorf("node: got %q, want 12:345", nodeID)
	}

	_, nodeID, err = ResolveNode("https://www.figma.com/file/" + id + "/App")
	if err != nil {
		t.Fatal(err)
	}
	if nodeID != "0:1" {
		t.Errorf("default node: got %q, want 0:1", nodeID)
	}
}

func TestFileStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, ErrAssetNotFound},
		{http.StatusUnauthorized, ErrAssetAccessDenied},
		{http.StatusForbidden, ErrAssetAccessDenied},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		c := NewClient("tok", WithBaseURL(srv.URL), WithLogger(silentLogger()), WithBackoff(time.Millisecond))
		_, err := c.File(context.Background(), "abc123def456ghi789jkl")
		srv.Close()
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: got %v, want %v", tt.status, err, tt.want)
		}
	}
}

func TestFileMetadataAndFrames(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/files/{id}", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Figma-Token"); got != "tok" {
			t.Errorf("auth header: got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"name": "My Design",
			"document": {
				"id": "0:0", "type": "DOCUMENT", "children": [
					{"id": "1:1", "name": "Page 1", "type": "CANVAS", "children": [
						{"id": "2:1", "name": "Home", "type": "FRAME"},
						{"id": "2:2", "name": "Vector", "type": "VECTOR"},
						{"id": "2:3", "name": "Checkout", "type": "FRAME"}
					]},
					{"id": "1:2", "name": "Empty Page", "type": "CANVAS"}
				]
			}
		}`))
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	c := NewClient("tok", WithBaseURL(srv.URL), WithLogger(silentLogger()))
	meta, err := c.File(context.Background(), "abc123def456ghi789jkl")
	if err != nil {
		t.Fatal(err)
	}
	if meta.Name != "My Design" {
		t.Errorf("name: got %q", meta.Name)
	}

	frames := meta.Frames()
	if len(frames) != 3 {
		t.Fatalf("frames: got %d, want 3 (%v)", len(frames), frames)
	}
	// Frames of page 1, then the frameless page itself.
	if frames[0].ID != "2:1" || frames[1].ID != "2:3" || frames[2].ID != "1:2" {
		t.Errorf("frame ids: got %v", frames)
	}
}

func TestFileRateLimitRetries(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"name":"ok","document":{"id":"0:0","type":"DOCUMENT"}}`))
	}))
	defer srv.Close()

	c := NewClient("tok", WithBaseURL(srv.URL), WithLogger(silentLogger()), WithBackoff(time.Millisecond))
	if _, err := c.File(context.Background(), "abc123def456ghi789jkl"); err != nil {
		t.Fatalf("expected recovery after backoff, got %v", err)
	}
	if calls != 3 {
		t.Errorf("calls: got %d, want 3", calls)
	}
}

func TestFileRateLimitExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient("tok", WithBaseURL(srv.URL), WithLogger(silentLogger()), WithBackoff(time.Millisecond))
	_, err := c.File(context.Background(), "abc123def456ghi789jkl")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("got %v, want ErrRateLimited", err)
	}
}
