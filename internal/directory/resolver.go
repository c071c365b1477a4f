package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// UnknownService is the display name used when a lookup fails.
const UnknownService = "Unknown Service"

const cacheSize = 256

// Resolver maps a service key (npub) to a human display name through an
// HTTP metadata gateway. Results are cached; concurrent lookups for the
// same key collapse into one upstream call.
type Resolver struct {
	baseURL    string
	httpClient *http.Client
	cache      *lru.Cache[string, string]
	group      singleflight.Group
	log        *slog.Logger
}

// NewResolver creates a resolver against the given gateway base URL.
func NewResolver(baseURL string, log *slog.Logger) *Resolver {
	cache, _ := lru.New[string, string](cacheSize)
	return &Resolver{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		cache: cache,
		log:   log,
	}
}

// DisplayName resolves a service key to a display name. Lookup failures are
// not cached and fall back to UnknownService.
func (r *Resolver) DisplayName(ctx context.Context, serviceKey string) string {
	if serviceKey == "" {
		return UnknownService
	}
	if name, ok := r.cache.Get(serviceKey); ok {
		return name
	}

	v, err, _ := r.group.Do(serviceKey, func() (interface{}, error) {
		return r.fetch(ctx, serviceKey)
	})
	if err != nil {
		r.log.Debug("service name lookup failed", "service_key", serviceKey, "error", err)
		return UnknownService
	}

	name := v.(string)
	r.cache.Add(serviceKey, name)
	return name
}

type profileResponse struct {
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

func (r *Resolver) fetch(ctx context.Context, serviceKey string) (string, error) {
	if r.baseURL == "" {
		return "", fmt.Errorf("no directory configured")
	}

	url := r.baseURL + "/profile/" + serviceKey
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("API error %d: %s", resp.StatusCode, string(data))
	}

	var profile profileResponse
	if err := json.Unmarshal(data, &profile); err != nil {
		return "", fmt.Errorf("unmarshal: %w", err)
	}

	name := profile.DisplayName
	if name == "" {
		name = profile.Name
	}
	if name == "" {
		return "", fmt.Errorf("profile has no name")
	}
	return name, nil
}
