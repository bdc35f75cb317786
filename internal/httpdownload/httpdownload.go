// Package httpdownload is the one concrete orchestrator.Downloader this
// repo ships. Spec.md treats "the downloader HTTP clients for specific DEM
// providers" as an opaque byte-fetcher keyed by (dataset, bounds) — this
// package is the thinnest possible thing satisfying that interface over
// plain HTTP, so ensure-region has something to run against out of the box.
// A real deployment is expected to swap in a provider-specific Downloader.
package httpdownload

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/mumuon/demregion/internal/tilegrid"
)

// Client fetches tiles over HTTP from a per-dataset base URL, formatting
// the request path the same way tilegrid names canonical tile files.
type Client struct {
	http    *http.Client
	baseURL map[tilegrid.Dataset]string
}

// New builds a Client. baseURL maps each dataset tag to the URL prefix a
// tile's canonical filename is appended to, e.g.
// {"dem30m_global": "https://example.org/dem30m"}.
func New(baseURL map[tilegrid.Dataset]string) *Client {
	return &Client{
		http: &http.Client{
			Timeout: 2 * time.Minute,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
				DialContext: (&net.Dialer{
					Timeout:   15 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
			},
		},
		baseURL: baseURL,
	}
}

// Fetch implements orchestrator.Downloader. It issues one GET and streams
// the response to destPath; the orchestrator is responsible for retrying
// on error (spec §4.2.2).
func (c *Client) Fetch(ctx context.Context, dataset tilegrid.Dataset, bounds tilegrid.Bounds, destPath string) error {
	base, ok := c.baseURL[dataset]
	if !ok {
		return fmt.Errorf("no download endpoint configured for dataset %s", dataset)
	}

	ids, err := tilegrid.TilesForBounds(bounds)
	if err != nil || len(ids) != 1 {
		return fmt.Errorf("httpdownload.Fetch expects a single-tile bounds, got %v", bounds)
	}
	url := base + "/" + tilegrid.Filename(ids[0], dataset)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building download request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetching tile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching tile: unexpected status %s", resp.Status)
	}

	tmp := destPath + ".download"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating download destination: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing downloaded tile: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing downloaded tile: %w", err)
	}
	if err := os.Rename(tmp, destPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalizing downloaded tile: %w", err)
	}
	return nil
}
