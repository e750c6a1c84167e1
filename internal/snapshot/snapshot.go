// Package snapshot fetches full inventory snapshots over HTTP for bootstrap
// and drift repair.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/gclink/internal/inventory"
	"github.com/rs/zerolog/log"
)

var ErrBaseURLRequired = errors.New("snapshot: base url required")

// StatusError is a non-200 answer from the snapshot endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("snapshot: status %d: %s", e.Code, e.Body)
}

// HTTPFetcher implements inventory.Fetcher with GET
// {BaseURL}/inventory/{account}/{app}, answered by a JSON list of objects.
type HTTPFetcher struct {
	BaseURL string
	Client  *http.Client
}

var _ inventory.Fetcher = (*HTTPFetcher)(nil)

func NewHTTPFetcher(baseURL string) (*HTTPFetcher, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}
	return &HTTPFetcher{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (f *HTTPFetcher) FetchInventory(ctx context.Context, accountID uint64, appID uint32) ([]inventory.Object, error) {
	url := fmt.Sprintf("%s/inventory/%d/%d", f.BaseURL, accountID, appID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	var objs []inventory.Object
	if err := json.NewDecoder(resp.Body).Decode(&objs); err != nil {
		return nil, fmt.Errorf("snapshot: decode: %w", err)
	}
	log.Debug().Uint64("account", accountID).Uint32("app", appID).Int("objects", len(objs)).Msg("snapshot.HTTPFetcher fetched")
	return objs, nil
}
