package model

import "sort"

// InspectionRating is the four-grade school inspection scale.
type InspectionRating string

const (
	RatingOutstanding         InspectionRating = "outstanding"
	RatingGood                InspectionRating = "good"
	RatingRequiresImprovement InspectionRating = "requires-improvement"
	RatingInadequate          InspectionRating = "inadequate"
)

// ratingByCode maps the upstream numeric rating codes onto the enum.
var ratingByCode = map[int]InspectionRating{
	1: RatingOutstanding,
	2: RatingGood,
	3: RatingRequiresImprovement,
	4: RatingInadequate,
}

// RatingFromCode maps an upstream rating code to the enum, nil for unknown
// or absent codes.
func RatingFromCode(code *int) *InspectionRating {
	if code == nil {
		return nil
	}
	r, ok := ratingByCode[*code]
	if !ok {
		return nil
	}
	return &r
}

// School is one attended school with its share of pupils from the area.
// Percentages across a phase list are not required to sum to 100.
type School struct {
	URN            string            `json:"urn"`
	Name           string            `json:"name"`
	AttendancePct  float64           `json:"attendance_pct"`
	Rating         *InspectionRating `json:"rating,omitempty"`
	Selective      bool              `json:"selective"`
	Coordinate     *Coordinate       `json:"coordinate,omitempty"`
	DistanceMeters *int              `json:"distance_meters,omitempty"`
	TravelMinutes  *int              `json:"travel_minutes,omitempty"`
}

// SchoolsResult holds the attended-schools lookup for a small statistical
// area around the resolved coordinate.
type SchoolsResult struct {
	AreaLabel string      `json:"area_label"`
	Lookup    Coordinate  `json:"lookup"`
	Primary   []School    `json:"primary"`
	Secondary []School    `json:"secondary"`
}

// SortByAttendance orders both phase lists by attendance percentage,
// highest first.
func (r *SchoolsResult) SortByAttendance() {
	byPct := func(list []School) func(i, j int) bool {
		return func(i, j int) bool { return list[i].AttendancePct > list[j].AttendancePct }
	}
	sort.SliceStable(r.Primary, byPct(r.Primary))
	sort.SliceStable(r.Secondary, byPct(r.Secondary))
}

// FilterBelow drops entries under the given attendance percentage. Raw
// results keep sub-threshold rows; enrichment and display filter at 1%.
func FilterBelow(list []School, minPct float64) []School {
	out := make([]School, 0, len(list))
	for _, s := range list {
		if s.AttendancePct >= minPct {
			out = append(out, s)
		}
	}
	return out
}
