package scrapeext

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceScrape_Success(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/scrape", r.URL.Path)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Contains(t, req["url"], "/properties/42")

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"listing":{"id":"42","url":"` + req["url"] + `","price":425000}}`)) //nolint:errcheck
	}))
	defer ts.Close()

	c := NewService(ts.URL)
	got, err := c.Scrape(context.Background(), "https://www.example-homes.co.uk/properties/42")
	require.NoError(t, err)
	assert.Equal(t, "42", got.ID)
	require.NotNil(t, got.Price)
	assert.Equal(t, 425000, *got.Price)
}

func TestServiceScrape_TypedFailureKinds(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":false,"error":{"kind":"blocked","message":"captcha wall"}}`)) //nolint:errcheck
	}))
	defer ts.Close()

	c := NewService(ts.URL)
	_, err := c.Scrape(context.Background(), "https://www.example-homes.co.uk/properties/42")
	require.Error(t, err)

	var se *ScrapeError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, FailBlocked, se.Kind)
	assert.Contains(t, se.Error(), "captcha wall")
}

func TestServiceScrape_ValidatesBeforeNetwork(t *testing.T) {
	t.Parallel()

	hits := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer ts.Close()

	c := NewService(ts.URL)
	_, err := c.Scrape(context.Background(), "not-a-url")
	require.Error(t, err)
	assert.Equal(t, 0, hits)
}
