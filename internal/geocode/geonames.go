package geocode

import (
	"context"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"

	apperrors "pimbl/internal/errors"
)

const geoNamesBaseURL = "https://secure.geonames.org"

// boroughs maps county names to the borough names the portal search knows.
var boroughs = map[string]string{
	"Kings":    "Brooklyn",
	"Richmond": "Staten Island",
	"New York": "Manhattan",
}

// GeoNames reverse-geocodes to the nearest street intersection.
type GeoNames struct {
	client
	username string
}

// NewGeoNames creates a GeoNames geocoder for a registered username.
func NewGeoNames(username string, opts ...Option) *GeoNames {
	return &GeoNames{client: newClient("geonames", geoNamesBaseURL, opts), username: username}
}

type geoNamesResponse struct {
	Intersection *struct {
		Street1    string `json:"street1"`
		Street2    string `json:"street2"`
		AdminName2 string `json:"adminName2"`
	} `json:"intersection"`
	Status *struct {
		Message string `json:"message"`
		Value   int    `json:"value"`
	} `json:"status"`
}

// Reverse returns "<street1> & <street2>, <borough>".
func (g *GeoNames) Reverse(ctx context.Context, lat, lon float64) (string, error) {
	params := url.Values{
		"lat":      {formatCoord(lat)},
		"lng":      {formatCoord(lon)},
		"username": {g.username},
	}

	var resp geoNamesResponse
	if err := g.getJSON(ctx, "/findNearestIntersectionJSON", params, &resp); err != nil {
		return "", err
	}
	if resp.Status != nil {
		return "", apperrors.NewExternalServiceError(g.name,
			eris.Errorf("geocode: geonames status %d: %s", resp.Status.Value, resp.Status.Message))
	}
	if resp.Intersection == nil || resp.Intersection.Street1 == "" {
		return "", apperrors.NewValidationError("no intersection near the given coordinates")
	}

	streets := joinNonEmpty(" & ", resp.Intersection.Street1, resp.Intersection.Street2)
	if borough := Borough(resp.Intersection.AdminName2); borough != "" {
		return streets + ", " + borough, nil
	}
	return streets, nil
}

// Borough converts a county name ("Kings" or "Kings County") to its borough.
// Counties that share the borough's name pass through unchanged.
func Borough(county string) string {
	county = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(county), " County"))
	if b, ok := boroughs[county]; ok {
		return b
	}
	return county
}
