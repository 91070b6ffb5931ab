package geocode

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	apperrors "pimbl/internal/errors"
)

const mapsCoBaseURL = "https://geocode.maps.co"

// MapsCo reverse-geocodes with geocode.maps.co (Nominatim data).
type MapsCo struct {
	client
	apiKey string
}

// NewMapsCo creates a maps.co geocoder.
func NewMapsCo(apiKey string, opts ...Option) *MapsCo {
	return &MapsCo{client: newClient("geocode.maps.co", mapsCoBaseURL, opts), apiKey: apiKey}
}

type mapsCoResponse struct {
	Error   string `json:"error"`
	Address struct {
		HouseNumber string `json:"house_number"`
		Road        string `json:"road"`
		Suburb      string `json:"suburb"`
	} `json:"address"`
}

// Reverse returns "<house number> <road> <suburb>", skipping missing parts.
// In New York City the suburb is the borough.
func (m *MapsCo) Reverse(ctx context.Context, lat, lon float64) (string, error) {
	params := url.Values{
		"lat":     {formatCoord(lat)},
		"lon":     {formatCoord(lon)},
		"api_key": {m.apiKey},
	}

	var resp mapsCoResponse
	if err := m.getJSON(ctx, "/reverse", params, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", apperrors.NewExternalServiceError(m.name, eris.Errorf("geocode: maps.co: %s", resp.Error))
	}
	if resp.Address.Road == "" {
		return "", apperrors.NewValidationError("no street address near the given coordinates")
	}

	return joinNonEmpty(" ", resp.Address.HouseNumber, resp.Address.Road, resp.Address.Suburb), nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
