package figma

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Download fetches a rendered asset URL to destPath. Rendered URLs are
// short-lived S3 links and carry no auth header. PDF downloads are
// validated structurally before being accepted; a corrupt file is removed
// and reported as an error rather than handed downstream.
func (c *Client) Download(ctx context.Context, assetURL, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return fmt.Errorf("figma: download request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("figma: download %s: %w", assetURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("figma: download %s: status %d", assetURL, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("figma: create download dir: %w", err)
	}

	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("figma: create %s: %w", destPath, err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(destPath)
		return fmt.Errorf("figma: write %s: %w", destPath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("figma: close %s: %w", destPath, err)
	}

	if strings.EqualFold(filepath.Ext(destPath), ".pdf") {
		if err := validatePDF(destPath); err != nil {
			os.Remove(destPath)
			return fmt.Errorf("figma: invalid pdf %s: %w", destPath, err)
		}
	}
	return nil
}

// validatePDF runs a structural pdfcpu validation pass over a downloaded
// PDF reference.
func validatePDF(path string) error {
	conf := model.NewDefaultConfiguration()
	return api.ValidateFile(path, conf)
}
