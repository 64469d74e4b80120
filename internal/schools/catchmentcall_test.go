package schools

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doorstep-labs/doorstep/internal/faults"
	"github.com/doorstep-labs/doorstep/internal/model"
)

// envelopeWith builds a captured body whose script embeds the catchment
// call with the given arguments, escaping the array literals the way the
// site does (JSON strings inside a JSON string).
func envelopeWith(t *testing.T, label string, primary, secondary any) []byte {
	t.Helper()

	primaryJSON, err := json.Marshal(primary)
	require.NoError(t, err)
	secondaryJSON, err := json.Marshal(secondary)
	require.NoError(t, err)

	call := "var x = 1; renderCatchmentSchools(" +
		string(mustMarshal(t, label)) + ", " +
		string(mustMarshal(t, string(primaryJSON))) + ", " +
		string(mustMarshal(t, string(secondaryJSON))) + "); map.refresh();"

	body, err := json.Marshal(map[string]any{"success": true, "js": call})
	require.NoError(t, err)
	return body
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func schoolRow(urn, name string, pct float64, rating *int) map[string]any {
	row := map[string]any{
		"pct": pct,
		"school": map[string]any{
			"urn": urn, "name": name, "selective": false,
			"lat": 51.5, "lng": -0.1,
		},
	}
	if rating != nil {
		row["school"].(map[string]any)["rating"] = *rating
	}
	return row
}

func ratingPtr(code int) *int { return &code }

func TestParseCatchmentCall_Success(t *testing.T) {
	t.Parallel()

	body := envelopeWith(t, "Westminster 018A",
		[]any{
			schoolRow("100500", "St Mary's Primary", 42.5, ratingPtr(2)),
			schoolRow("100501", "Riverside Primary", 61.0, ratingPtr(1)),
		},
		[]any{
			schoolRow("100600", "City Academy", 88.0, nil),
		},
	)

	lookup := model.Coordinate{Lat: 51.5, Lng: -0.14}
	got, err := ParseCatchmentCall(body, lookup)
	require.NoError(t, err)

	assert.Equal(t, "Westminster 018A", got.AreaLabel)
	assert.Equal(t, lookup, got.Lookup)

	require.Len(t, got.Primary, 2)
	assert.Equal(t, "Riverside Primary", got.Primary[0].Name,
		"phase lists are sorted by attendance descending")
	require.NotNil(t, got.Primary[0].Rating)
	assert.Equal(t, model.RatingOutstanding, *got.Primary[0].Rating)
	require.NotNil(t, got.Primary[1].Rating)
	assert.Equal(t, model.RatingGood, *got.Primary[1].Rating)

	require.Len(t, got.Secondary, 1)
	assert.Nil(t, got.Secondary[0].Rating, "absent rating code stays nil")
	require.NotNil(t, got.Secondary[0].Coordinate)
}

func TestParseCatchmentCall_RowWithoutSchoolDropped(t *testing.T) {
	t.Parallel()

	body := envelopeWith(t, "Area",
		[]any{
			map[string]any{"pct": 10.0}, // no nested school object
			schoolRow("1", "Kept School", 5.0, nil),
		},
		[]any{},
	)

	got, err := ParseCatchmentCall(body, model.Coordinate{})
	require.NoError(t, err)
	require.Len(t, got.Primary, 1)
	assert.Equal(t, "Kept School", got.Primary[0].Name)
	assert.NotNil(t, got.Secondary)
	assert.Len(t, got.Secondary, 0)
}

func TestParseCatchmentCall_UnknownRatingCode(t *testing.T) {
	t.Parallel()

	body := envelopeWith(t, "Area",
		[]any{schoolRow("1", "School", 50.0, ratingPtr(9))},
		[]any{},
	)

	got, err := ParseCatchmentCall(body, model.Coordinate{})
	require.NoError(t, err)
	assert.Nil(t, got.Primary[0].Rating, "codes outside the 4-grade table map to nil")
}

func TestParseCatchmentCall_ErrorEnvelope(t *testing.T) {
	t.Parallel()

	body := []byte(`{"success":false,"error":"area not covered"}`)
	_, err := ParseCatchmentCall(body, model.Coordinate{})
	require.Error(t, err)

	var ue *faults.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "area not covered", ue.Message)
}

func TestParseCatchmentCall_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"not json", "<html>gateway timeout</html>"},
		{"no call in script", `{"success":true,"js":"var x = 1;"}`},
		{"array is not json", `{"success":true,"js":"renderCatchmentSchools(\"A\", \"not[json\", \"[]\")"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseCatchmentCall([]byte(tt.body), model.Coordinate{})
			require.Error(t, err)
			var me *faults.MalformedError
			assert.ErrorAs(t, err, &me)
		})
	}
}

func TestParseCatchmentCall_EscapedQuotesInLabel(t *testing.T) {
	t.Parallel()

	body := envelopeWith(t, `King's Cross "Central"`, []any{}, []any{})
	got, err := ParseCatchmentCall(body, model.Coordinate{})
	require.NoError(t, err)
	assert.Equal(t, `King's Cross "Central"`, got.AreaLabel)
}
