package schools

import (
	"encoding/json"
	"regexp"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/doorstep-labs/doorstep/internal/faults"
	"github.com/doorstep-labs/doorstep/internal/model"
)

// The intercepted response is a JSON envelope whose "js" field carries an
// inline script. Buried in that script is one call of the form
//
//	renderCatchmentSchools("<area label>", "<primary json array>", "<secondary json array>")
//
// where the two array arguments are JSON-encoded (and therefore escaped)
// string literals. This file is the dedicated parser for that grammar;
// nothing else in the package slices strings out of script bodies.

// stringLit matches one double-quoted string literal including escapes.
const stringLit = `"((?:[^"\\]|\\.)*)"`

var catchmentCallRe = regexp.MustCompile(
	`renderCatchmentSchools\(\s*` + stringLit +
		`\s*,\s*` + stringLit +
		`\s*,\s*` + stringLit + `\s*\)`)

type interceptEnvelope struct {
	Success bool   `json:"success"`
	JS      string `json:"js"`
	Error   string `json:"error"`
}

// rawSchool mirrors one record inside the embedded arrays. The nested
// school sub-object is required; rows without it are dropped.
type rawSchool struct {
	Pct    float64 `json:"pct"`
	School *struct {
		URN       string   `json:"urn"`
		Name      string   `json:"name"`
		Rating    *int     `json:"rating"`
		Selective bool     `json:"selective"`
		Lat       *float64 `json:"lat"`
		Lng       *float64 `json:"lng"`
	} `json:"school"`
}

// ParseCatchmentCall extracts the schools result from a captured response
// body. Both phase lists come back sorted by attendance descending.
func ParseCatchmentCall(body []byte, lookup model.Coordinate) (*model.SchoolsResult, error) {
	var env interceptEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &faults.MalformedError{Provider: "schools", Err: err}
	}
	if !env.Success {
		return nil, &faults.UpstreamError{Provider: "schools", Message: env.Error}
	}

	m := catchmentCallRe.FindStringSubmatch(env.JS)
	if m == nil {
		return nil, &faults.MalformedError{
			Provider: "schools",
			Err:      eris.New("no catchment call in script body"),
		}
	}

	label, err := unquoteArg(m[1])
	if err != nil {
		return nil, err
	}
	primary, err := decodeSchoolArg(m[2])
	if err != nil {
		return nil, err
	}
	secondary, err := decodeSchoolArg(m[3])
	if err != nil {
		return nil, err
	}

	result := &model.SchoolsResult{
		AreaLabel: label,
		Lookup:    lookup,
		Primary:   primary,
		Secondary: secondary,
	}
	result.SortByAttendance()
	return result, nil
}

// unquoteArg turns a matched string literal back into its value.
func unquoteArg(lit string) (string, error) {
	s, err := strconv.Unquote(`"` + lit + `"`)
	if err != nil {
		return "", &faults.MalformedError{
			Provider: "schools",
			Err:      eris.Wrap(err, "unquote argument"),
		}
	}
	return s, nil
}

// decodeSchoolArg unquotes one array argument and decodes its records.
func decodeSchoolArg(lit string) ([]model.School, error) {
	raw, err := unquoteArg(lit)
	if err != nil {
		return nil, err
	}
	var rows []rawSchool
	if err := json.Unmarshal([]byte(raw), &rows); err != nil {
		return nil, &faults.MalformedError{
			Provider: "schools",
			Err:      eris.Wrap(err, "decode school array"),
		}
	}

	schools := make([]model.School, 0, len(rows))
	for _, row := range rows {
		if row.School == nil {
			continue
		}
		s := model.School{
			URN:           row.School.URN,
			Name:          row.School.Name,
			AttendancePct: row.Pct,
			Rating:        model.RatingFromCode(row.School.Rating),
			Selective:     row.School.Selective,
		}
		if row.School.Lat != nil && row.School.Lng != nil {
			s.Coordinate = &model.Coordinate{Lat: *row.School.Lat, Lng: *row.School.Lng}
		}
		schools = append(schools, s)
	}
	return schools, nil
}
