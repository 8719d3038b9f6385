package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/buswatch/buswatch/pkg/tracker/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonFeedSession(endpoint string) *Session {
	return NewSession(&source.Descriptor{
		Name:      "acme-live",
		Endpoint:  endpoint,
		Transport: source.TransportJSONFeed,
		Operators: []string{"BUSWATCH:OPERATOR:ACME"},
	}, nil)
}

func TestJSONFeedFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v2"`)
		w.Write([]byte(`{
			"vehicles": [
				{"id": "3635", "route": "36", "operator": "ACM", "destination": "City Centre", "lon": -1.54, "lat": 53.79, "heading": 90, "updated": "2024-06-01T09:00:00Z"},
				{"id": "3636", "route": "36", "lon": -1.55, "lat": 53.80}
			],
			"cursor": "abc123"
		}`))
	}))
	defer server.Close()

	session := jsonFeedSession(server.URL)

	feed := &JSONFeed{}
	sightings, err := feed.Fetch(context.Background(), session)
	require.NoError(t, err)
	require.Len(t, sightings, 2)

	first := sightings[0]
	assert.Equal(t, "3635", first.VendorVehicleCode)
	assert.Equal(t, "36", first.LineLabel)
	assert.Equal(t, "ACM", first.OperatorHint)
	assert.Equal(t, "City Centre", first.DestinationText)
	assert.Equal(t, -1.54, first.Location.Longitude())
	assert.Equal(t, 53.79, first.Location.Latitude())
	require.NotNil(t, first.Bearing)
	assert.Equal(t, 90.0, *first.Bearing)
	assert.Equal(t, "2024-06-01T09:00:00Z", first.RecordedAt.UTC().Format("2006-01-02T15:04:05Z"))

	// cursor and etag captured for the next cycle
	assert.Equal(t, "abc123", session.Settings["cursor"])
	assert.Equal(t, `"v2"`, session.Settings["etag"])
}

func TestJSONFeedSkipsMalformedRecords(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"vehicles": [
				{"route": "36", "lon": -1.54, "lat": 53.79},
				{"id": "3635", "route": "36"},
				{"id": "3636", "route": "36", "lon": -1.55, "lat": 53.80}
			]
		}`))
	}))
	defer server.Close()

	feed := &JSONFeed{}
	sightings, err := feed.Fetch(context.Background(), jsonFeedSession(server.URL))
	require.NoError(t, err)

	require.Len(t, sightings, 1)
	assert.Equal(t, "3636", sightings[0].VendorVehicleCode)
}

func TestJSONFeedNotModified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v2"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}

		w.Write([]byte(`{"vehicles": []}`))
	}))
	defer server.Close()

	session := jsonFeedSession(server.URL)
	session.Settings["etag"] = `"v2"`

	feed := &JSONFeed{}
	sightings, err := feed.Fetch(context.Background(), session)
	require.NoError(t, err)
	assert.Empty(t, sightings)
}

func TestJSONFeedCursorPreservesEndpointQuery(t *testing.T) {
	var gotAfter, gotFormat, gotKey string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAfter = r.URL.Query().Get("after")
		gotFormat = r.URL.Query().Get("format")
		gotKey = r.URL.Query().Get("api_key")
		w.Write([]byte(`{"vehicles": []}`))
	}))
	defer server.Close()

	// endpoints commonly carry their own query string already
	session := jsonFeedSession(server.URL + "?format=json")
	session.Descriptor.Authentication = source.Authentication{
		Query: map[string]string{"api_key": "secret"},
	}
	session.Settings["cursor"] = "abc123"

	feed := &JSONFeed{}
	_, err := feed.Fetch(context.Background(), session)
	require.NoError(t, err)

	assert.Equal(t, "abc123", gotAfter)
	assert.Equal(t, "json", gotFormat)
	assert.Equal(t, "secret", gotKey)
}

func TestJSONFeedClassifiesAuthFailureAsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	feed := &JSONFeed{}
	_, err := feed.Fetch(context.Background(), jsonFeedSession(server.URL))

	require.Error(t, err)
	assert.True(t, IsFatal(err))
}

func TestJSONFeedClassifiesServerErrorAsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	feed := &JSONFeed{}
	_, err := feed.Fetch(context.Background(), jsonFeedSession(server.URL))

	require.Error(t, err)
	assert.False(t, IsFatal(err))
}

func TestJSONFeedAppliesAuthentication(t *testing.T) {
	var gotKey, gotHeader string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("api_key")
		gotHeader = r.Header.Get("X-App-Id")
		w.Write([]byte(`{"vehicles": []}`))
	}))
	defer server.Close()

	session := jsonFeedSession(server.URL)
	session.Descriptor.Authentication = source.Authentication{
		Query:  map[string]string{"api_key": "secret"},
		Header: map[string]string{"X-App-Id": "buswatch"},
	}

	feed := &JSONFeed{}
	_, err := feed.Fetch(context.Background(), session)
	require.NoError(t, err)

	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "buswatch", gotHeader)
}
