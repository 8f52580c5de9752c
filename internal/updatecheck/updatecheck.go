// Package updatecheck queries the Factorio release endpoint for the
// latest stable headless version.
package updatecheck

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pkt.systems/pslog"
)

// DefaultEndpoint is the public release listing of factorio.com.
const DefaultEndpoint = "https://factorio.com/api/latest-releases"

type releasesPayload struct {
	Stable releaseChannel `json:"stable"`
}

type releaseChannel struct {
	Headless string `json:"headless"`
}

// Checker fetches release information. The zero Endpoint means
// DefaultEndpoint.
type Checker struct {
	Endpoint string
	Client   *http.Client
}

// LatestHeadless returns the current stable headless version string,
// for example "1.1.110".
func (c Checker) LatestHeadless(ctx context.Context) (string, error) {
	url := c.Endpoint
	if url == "" {
		url = DefaultEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return "", fmt.Errorf("request %s failed: %s; body=%s", url, resp.Status, strings.TrimSpace(string(body)))
	}

	var payload releasesPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if payload.Stable.Headless == "" {
		return "", fmt.Errorf("response from %s carries no stable headless version", url)
	}
	return payload.Stable.Headless, nil
}

// Report fetches the latest stable headless version and logs how it
// compares against installed. Failures are logged, never returned; the
// check is informational and must not block server startup.
func Report(ctx context.Context, c Checker, installed string) {
	log := pslog.Ctx(ctx)
	latest, err := c.LatestHeadless(ctx)
	if err != nil {
		log.Warn("update check failed", "err", err)
		return
	}
	switch {
	case installed == "":
		log.Info("latest stable headless release", "latest", latest)
	case installed == latest:
		log.Info("server is up to date", "version", installed)
	default:
		log.Info("newer headless release available", "installed", installed, "latest", latest)
	}
}
