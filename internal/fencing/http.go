package fencing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/radryc/nvmeof-mon/internal/gwmap"
)

// HTTPBridge talks to an external OSD monitor over its REST surface:
// GET /api/v1/osdmap/epoch for the current epoch and POST /api/v1/blocklist
// to fence an address list. The last observed epoch is cached so a failed
// poll degrades to slightly stale reads instead of an error the state
// machine cannot express.
type HTTPBridge struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger

	mu        sync.Mutex
	lastEpoch gwmap.Epoch
}

// NewHTTPBridge creates a bridge against the OSD monitor at baseURL
// (e.g. "http://osd-mon:7400").
func NewHTTPBridge(baseURL string, logger *slog.Logger) *HTTPBridge {
	return &HTTPBridge{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
		logger:  nopLogger(logger).With("component", "fencing"),
	}
}

type epochResponse struct {
	Epoch uint32 `json:"epoch"`
}

type blocklistRequest struct {
	Addresses  []string `json:"addresses"`
	TTLSeconds uint32   `json:"ttl_seconds"`
}

// CurrentEpoch implements gwmap.Fencing. On a failed poll the last observed
// epoch is returned.
func (b *HTTPBridge) CurrentEpoch() gwmap.Epoch {
	resp, err := b.client.Get(b.baseURL + "/api/v1/osdmap/epoch")
	if err != nil {
		b.logger.Warn("epoch poll failed, using cached epoch", "error", err)
		return b.cachedEpoch()
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b.logger.Warn("epoch poll rejected, using cached epoch", "status", resp.StatusCode)
		return b.cachedEpoch()
	}
	var er epochResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		b.logger.Warn("epoch poll malformed, using cached epoch", "error", err)
		return b.cachedEpoch()
	}

	b.mu.Lock()
	b.lastEpoch = gwmap.Epoch(er.Epoch)
	b.mu.Unlock()
	return gwmap.Epoch(er.Epoch)
}

func (b *HTTPBridge) cachedEpoch() gwmap.Epoch {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastEpoch
}

// Blocklist implements gwmap.Fencing.
func (b *HTTPBridge) Blocklist(addrs []string, ttl time.Duration) (gwmap.Epoch, error) {
	body, err := json.Marshal(blocklistRequest{
		Addresses:  addrs,
		TTLSeconds: uint32(ttl.Seconds()),
	})
	if err != nil {
		return 0, err
	}

	resp, err := b.client.Post(b.baseURL+"/api/v1/blocklist", "application/json", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("blocklist request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("blocklist request: status %d", resp.StatusCode)
	}

	var er epochResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return 0, fmt.Errorf("blocklist response: %w", err)
	}

	b.mu.Lock()
	b.lastEpoch = gwmap.Epoch(er.Epoch)
	b.mu.Unlock()
	b.logger.Info("blocklist accepted", "addresses", len(addrs), "epoch", er.Epoch)
	return gwmap.Epoch(er.Epoch), nil
}

var _ gwmap.Fencing = (*HTTPBridge)(nil)
