// Package geocode turns photo coordinates into an address the 311 portal's
// search box can resolve.
package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"pimbl/internal/api"
	apperrors "pimbl/internal/errors"
)

// Provider names accepted by New.
const (
	ProviderMapsCo   = "mapsco"
	ProviderGeoNames = "geonames"
)

// Geocoder reverse-geocodes a coordinate pair.
type Geocoder interface {
	// Reverse returns a human-readable address near lat/lon.
	Reverse(ctx context.Context, lat, lon float64) (string, error)
}

// Option configures a geocoder.
type Option func(*client)

// WithBaseURL overrides the provider endpoint root.
func WithBaseURL(u string) Option {
	return func(c *client) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.httpClient = hc
	}
}

// WithRateLimit sets the requests-per-second limit. Both free tiers ban
// clients that burst.
func WithRateLimit(rps float64) Option {
	return func(c *client) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// client holds what both providers share.
type client struct {
	name       string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func newClient(name, baseURL string, opts []Option) client {
	c := client{
		name:       name,
		baseURL:    baseURL,
		httpClient: api.GetHTTPClient(),
		limiter:    rate.NewLimiter(rate.Every(time.Second), 1),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// New returns the geocoder for provider. credential is the maps.co API key
// or the GeoNames username.
func New(provider, credential string, opts ...Option) (Geocoder, error) {
	if credential == "" {
		return nil, eris.Errorf("geocode: %s requires a credential", provider)
	}
	switch provider {
	case ProviderMapsCo:
		return NewMapsCo(credential, opts...), nil
	case ProviderGeoNames:
		return NewGeoNames(credential, opts...), nil
	default:
		return nil, eris.Errorf("geocode: unknown provider %q", provider)
	}
}

// getJSON performs a rate-limited GET and decodes the body into out.
// Failures come back as external-service errors.
func (c *client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return apperrors.NewExternalServiceError(c.name, eris.Wrap(err, "geocode: rate limit"))
	}

	reqURL := c.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return apperrors.NewExternalServiceError(c.name, eris.Wrap(err, "geocode: build request"))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.NewExternalServiceError(c.name, eris.Wrap(err, "geocode: request"))
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return apperrors.NewExternalServiceError(c.name, eris.Errorf("geocode: %s returned status %d", c.name, resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.NewExternalServiceError(c.name, eris.Wrap(err, "geocode: read body"))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperrors.NewExternalServiceError(c.name, eris.Wrap(err, "geocode: parse response"))
	}
	return nil
}
