package figma

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Scale is a render scale factor accepted by the images endpoint.
type Scale int

const (
	Scale1 Scale = 1
	Scale2 Scale = 2
	Scale4 Scale = 4

	// MinScale is the fallback scale for a singleton node that failed at
	// the requested scale.
	MinScale = Scale1
)

// Valid reports whether s is an accepted scale factor.
func (s Scale) Valid() bool { return s == Scale1 || s == Scale2 || s == Scale4 }

// Format is a render output format.
type Format string

const (
	FormatPNG Format = "png"
	FormatJPG Format = "jpg"
	FormatSVG Format = "svg"
	FormatPDF Format = "pdf"
)

// Valid reports whether f is an accepted output format.
func (f Format) Valid() bool {
	switch f {
	case FormatPNG, FormatJPG, FormatSVG, FormatPDF:
		return true
	}
	return false
}

// RenderResult is the outcome of a batch render: the maximal fetchable
// subset plus a per-node reason for everything that could not be rendered.
type RenderResult struct {
	// Images maps node id to rendered image URL for every node that
	// succeeded.
	Images map[string]string

	// Failed maps node id to the error that finally dropped it.
	Failed map[string]error
}

// RenderImages requests rendered images for a batch of node ids. The full
// batch is tried first; a failed batch is bisected into two halves that
// retry independently (and concurrently), so the result retains whichever
// nodes can be fetched. A singleton node that still fails is retried once
// at MinScale before being dropped. Rate-limit, not-found and
// access-denied failures are terminal for their sub-batch and are never
// bisected further.
//
// The returned error covers only invalid arguments and context
// cancellation; per-node failures live in RenderResult.Failed.
func (c *Client) RenderImages(ctx context.Context, fileID string, nodeIDs []string, scale Scale, format Format) (*RenderResult, error) {
	if !scale.Valid() {
		return nil, fmt.Errorf("figma: invalid scale %d", scale)
	}
	if !format.Valid() {
		return nil, fmt.Errorf("figma: invalid format %q", format)
	}
	if len(nodeIDs) == 0 {
		return &RenderResult{Images: map[string]string{}, Failed: map[string]error{}}, nil
	}

	res := &RenderResult{Images: map[string]string{}, Failed: map[string]error{}}
	c.fetchBisect(ctx, fileID, nodeIDs, scale, format, res)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// fetchBisect implements the recursive batch-splitting retry. Results are
// merged into res keyed by node id, never by arrival order, so the two
// halves are free to run concurrently.
func (c *Client) fetchBisect(ctx context.Context, fileID string, ids []string, scale Scale, format Format, res *RenderResult) {
	urls, err := c.renderBatch(ctx, fileID, ids, scale, format)
	if err != nil {
		if terminalRenderErr(err) || ctx.Err() != nil {
			for _, id := range ids {
				res.Failed[id] = err
			}
			return
		}
		if len(ids) > 1 {
			mid := len(ids) / 2
			c.logger.Warn("figma: render batch failed, bisecting",
				"file", fileID, "size", len(ids), "error", err)

			left := &RenderResult{Images: map[string]string{}, Failed: map[string]error{}}
			right := &RenderResult{Images: map[string]string{}, Failed: map[string]error{}}
			var g errgroup.Group
			g.Go(func() error {
				c.fetchBisect(ctx, fileID, ids[:mid], scale, format, left)
				return nil
			})
			g.Go(func() error {
				c.fetchBisect(ctx, fileID, ids[mid:], scale, format, right)
				return nil
			})
			g.Wait()

			mergeRender(res, left)
			mergeRender(res, right)
			return
		}
		// Singleton: one more try at the minimal scale.
		c.retrySingleton(ctx, fileID, ids[0], scale, format, err, res)
		return
	}

	for _, id := range ids {
		u, ok := urls[id]
		if ok && u != nil && *u != "" {
			res.Images[id] = *u
			continue
		}
		// Null URL is folded into plain fetch failure for the node.
		c.retrySingleton(ctx, fileID, id, scale, format, fmt.Errorf("%w: %s", ErrNoImage, id), res)
	}
}

// retrySingleton gives one node a last chance at the minimal scale, then
// records it as failed.
func (c *Client) retrySingleton(ctx context.Context, fileID, id string, scale Scale, format Format, cause error, res *RenderResult) {
	if scale != MinScale && ctx.Err() == nil {
		c.logger.Warn("figma: node failed, retrying at minimal scale",
			"file", fileID, "node", id, "scale", int(scale))
		urls, err := c.renderBatch(ctx, fileID, []string{id}, MinScale, format)
		if err == nil {
			if u, ok := urls[id]; ok && u != nil && *u != "" {
				res.Images[id] = *u
				return
			}
			err = fmt.Errorf("%w: %s", ErrNoImage, id)
		}
		cause = err
	}
	c.logger.Warn("figma: dropping unrenderable node", "file", fileID, "node", id, "error", cause)
	res.Failed[id] = cause
}

// renderBatch performs one GET against the images endpoint.
func (c *Client) renderBatch(ctx context.Context, fileID string, ids []string, scale Scale, format Format) (map[string]*string, error) {
	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("scale", fmt.Sprintf("%d", int(scale)))
	q.Set("format", string(format))

	body, err := c.get(ctx, fmt.Sprintf("%s/images/%s?%s", c.base, url.PathEscape(fileID), q.Encode()), fileID)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Err    string             `json:"err"`
		Images map[string]*string `json:"images"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("figma: decode images for %s: %w", fileID, err)
	}
	if payload.Err != "" {
		return nil, fmt.Errorf("figma: images %s: %s", fileID, payload.Err)
	}
	return payload.Images, nil
}

// terminalRenderErr reports whether a batch error cannot be cured by
// splitting the batch.
func terminalRenderErr(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrAssetNotFound) ||
		errors.Is(err, ErrAssetAccessDenied) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func mergeRender(dst, src *RenderResult) {
	for id, u := range src.Images {
		dst.Images[id] = u
	}
	for id, e := range src.Failed {
		dst.Failed[id] = e
	}
}
