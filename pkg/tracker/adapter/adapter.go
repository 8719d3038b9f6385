package adapter

import (
	"context"
	"errors"
	"net/http"

	"github.com/buswatch/buswatch/pkg/tracker/sighting"
	"github.com/buswatch/buswatch/pkg/tracker/source"
)

// Adapter turns one poll cycle against a source into a batch of normalised
// sightings. Implementations perform network I/O only; they never mutate
// shared state.
type Adapter interface {
	Fetch(ctx context.Context, session *Session) ([]sighting.Sighting, error)
}

// StreamingAdapter is the push-subscription variant: connect, subscribe and
// emit sightings until the connection drops. The scheduler treats a stream as
// an infinite single poll and reconnects with backoff.
type StreamingAdapter interface {
	Stream(ctx context.Context, session *Session, emit func(sighting.Sighting)) error
}

// Session is the per-worker adapter state for one source: its descriptor, the
// mutable settings blob (cursors, ETags) and a shared HTTP client
type Session struct {
	Descriptor *source.Descriptor
	Settings   map[string]string

	HTTPClient *http.Client
}

func NewSession(descriptor *source.Descriptor, settings map[string]string) *Session {
	if settings == nil {
		settings = map[string]string{}
	}

	return &Session{
		Descriptor: descriptor,
		Settings:   settings,
		HTTPClient: &http.Client{
			Timeout: descriptor.FetchTimeoutDuration(),
		},
	}
}

func (s *Session) NewRequest(ctx context.Context, method string, endpoint string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, err
	}

	// some vendor endpoints sit behind cloudflare and reject requests
	// without a user agent
	req.Header["user-agent"] = []string{"curl/7.54.1"}

	auth := s.Descriptor.Authentication

	for key, value := range auth.Header {
		req.Header.Set(key, value)
	}

	if len(auth.Query) > 0 {
		query := req.URL.Query()
		for key, value := range auth.Query {
			query.Set(key, value)
		}
		req.URL.RawQuery = query.Encode()
	}

	if auth.Basic.Username != "" {
		req.SetBasicAuth(auth.Basic.Username, auth.Basic.Password)
	}

	return req, nil
}

// New returns the adapter for a source's transport kind
func New(kind source.TransportKind) (Adapter, error) {
	switch kind {
	case source.TransportJSONFeed:
		return &JSONFeed{}, nil
	case source.TransportSiriVM:
		return &SiriVM{}, nil
	case source.TransportWebSocket:
		return &WebSocket{}, nil
	default:
		return nil, errors.New("unrecognised transport kind")
	}
}
