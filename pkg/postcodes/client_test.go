package postcodes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doorstep-labs/doorstep/internal/faults"
)

func TestLookup_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/postcodes/SW1A 1AA", r.URL.Path)
		w.Write([]byte(`{"status":200,"result":{"postcode":"SW1A 1AA","latitude":51.501009,"longitude":-0.141588,"admin_district":"Westminster"}}`))
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	got, err := client.Lookup(context.Background(), "SW1A 1AA")

	require.NoError(t, err)
	assert.InDelta(t, 51.501009, got.Latitude, 1e-9)
	assert.InDelta(t, -0.141588, got.Longitude, 1e-9)
	assert.Equal(t, "Westminster", got.Admin)
}

func TestLookup_UnknownPostcodeIsNotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"status":404,"error":"Postcode not found"}`))
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	_, err := client.Lookup(context.Background(), "ZZ99 9ZZ")

	require.Error(t, err)
	assert.True(t, faults.IsNotFound(err), "404 is a legitimate negative, not a failure")
}

func TestLookup_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	_, err := client.Lookup(context.Background(), "SW1A 1AA")

	require.Error(t, err)
	assert.False(t, faults.IsNotFound(err))
}

func TestLookup_MalformedBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{nope`))
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	_, err := client.Lookup(context.Background(), "SW1A 1AA")

	require.Error(t, err)
	var me *faults.MalformedError
	assert.ErrorAs(t, err, &me)
}

func TestLookup_EmptyPostcode(t *testing.T) {
	t.Parallel()

	client := NewClient(WithBaseURL("http://127.0.0.1:0"))
	_, err := client.Lookup(context.Background(), "  ")
	assert.True(t, faults.IsNotFound(err))
}
