package geo

import (
	"math"
	"regexp"
	"strings"

	"github.com/twpayne/go-geom"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// postcodeRe matches a full UK-format postcode with or without the space.
var postcodeRe = regexp.MustCompile(`^([A-Z]{1,2}[0-9][A-Z0-9]?)\s*([0-9][A-Z]{2})$`)

// SplitPostcode normalizes a postcode and splits it into outward/inward
// parts. ok is false for anything that does not look like a full postcode.
func SplitPostcode(raw string) (outcode, incode string, ok bool) {
	compact := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), " ", ""))
	if len(compact) < 5 || len(compact) > 7 {
		return "", "", false
	}
	// Reinsert the canonical space: the inward part is always 3 chars.
	spaced := compact[:len(compact)-3] + " " + compact[len(compact)-3:]
	m := postcodeRe.FindStringSubmatch(spaced)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

var streetCaser = cases.Title(language.BritishEnglish)

// TitleCaseStreet normalizes a shouting registry street name ("DOWNING
// STREET") into display form ("Downing Street").
func TitleCaseStreet(s string) string {
	return streetCaser.String(strings.ToLower(strings.TrimSpace(s)))
}

const earthRadiusM = 6371000.0

// HaversineMeters returns the great-circle distance between two points.
func HaversineMeters(a, b geom.Coord) float64 {
	lat1 := a.Y() * math.Pi / 180
	lat2 := b.Y() * math.Pi / 180
	dLat := (b.Y() - a.Y()) * math.Pi / 180
	dLng := (b.X() - a.X()) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusM * math.Asin(math.Sqrt(h))
}

// CoordOf converts a model coordinate to a go-geom XY coord (lng, lat order).
func CoordOf(lat, lng float64) geom.Coord {
	return geom.Coord{lng, lat}
}
