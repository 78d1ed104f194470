// Package piped is a client for Piped-compatible relay APIs.
package piped

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/iconidentify/vidyodl/internal/config"
	"github.com/iconidentify/vidyodl/internal/domain"
)

// HealthPath is the relay liveness endpoint.
const HealthPath = "/healthcheck"

// maxPlaylistPages bounds nextpage chasing for very long playlists.
const maxPlaylistPages = 50

// Client talks to relay instances. The instance base URL is passed per call
// because the caller picks the proxy.
type Client interface {
	// Healthcheck probes the instance and returns the round-trip time of a 200 answer.
	Healthcheck(ctx context.Context, baseURL string) (time.Duration, error)
	// Streams fetches the stream manifest for a content id.
	Streams(ctx context.Context, baseURL, contentID string) (*StreamsResponse, error)
	// Playlist fetches every entry of a playlist, following nextpage tokens.
	Playlist(ctx context.Context, baseURL, playlistID string) (*PlaylistResponse, error)
}

// StreamsResponse is the wire form of GET /streams/{id}. Required fields are
// pointers so a missing key can be told apart from an empty value.
type StreamsResponse struct {
	Title        *string   `json:"title"`
	Description  *string   `json:"description"`
	AudioStreams *[]Stream `json:"audioStreams"`
	VideoStreams *[]Stream `json:"videoStreams"`
	Error        string    `json:"error,omitempty"`
	Message      string    `json:"message,omitempty"`
}

// Stream is one entry of audioStreams or videoStreams.
type Stream struct {
	URL              *string `json:"url"`
	Format           *string `json:"format"`
	Quality          string  `json:"quality"`
	MimeType         string  `json:"mimeType"`
	Codec            string  `json:"codec"`
	AudioTrackID     string  `json:"audioTrackId"`
	AudioTrackName   string  `json:"audioTrackName"`
	AudioTrackLocale string  `json:"audioTrackLocale"`
	VideoOnly        bool    `json:"videoOnly"`
	Itag             int     `json:"itag"`
	Bitrate          int64   `json:"bitrate"`
	InitStart        int64   `json:"initStart"`
	InitEnd          int64   `json:"initEnd"`
	IndexStart       int64   `json:"indexStart"`
	IndexEnd         int64   `json:"indexEnd"`
	Width            int     `json:"width"`
	Height           int     `json:"height"`
	FPS              int     `json:"fps"`
	ContentLength    int64   `json:"contentLength"`
}

// PlaylistResponse is the wire form of GET /playlists/{id}.
type PlaylistResponse struct {
	Name           string          `json:"name"`
	RelatedStreams []RelatedStream `json:"relatedStreams"`
	NextPage       *string         `json:"nextpage"`
}

// RelatedStream is a playlist entry; URL has the form /watch?v=<id>.
type RelatedStream struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// ContentID extracts the v= parameter from the entry URL.
func (s RelatedStream) ContentID() string {
	u, err := url.Parse(s.URL)
	if err != nil {
		return ""
	}
	return u.Query().Get("v")
}

// HTTPClient implements Client over net/http.
type HTTPClient struct {
	httpClient *http.Client
	headers    map[string]string
}

// NewClient creates a relay client.
func NewClient(cfg config.ProxyConfig) *HTTPClient {
	return &HTTPClient{
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		headers: cfg.Headers,
	}
}

// Healthcheck issues GET {baseURL}/healthcheck. Any answer other than 200
// is ErrProbeFailure; a deadline hit is ErrProbeTimeout.
func (c *HTTPClient) Healthcheck(ctx context.Context, baseURL string) (time.Duration, error) {
	req, err := c.newRequest(ctx, joinURL(baseURL, HealthPath))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrProbeFailure, err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return 0, fmt.Errorf("%w: %v", domain.ErrProbeTimeout, err)
		}
		return 0, fmt.Errorf("%w: %v", domain.ErrProbeFailure, err)
	}
	elapsed := time.Since(start)
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: status %d", domain.ErrProbeFailure, resp.StatusCode)
	}
	return elapsed, nil
}

// Streams issues GET {baseURL}/streams/{contentID}?instance={baseURL}.
func (c *HTTPClient) Streams(ctx context.Context, baseURL, contentID string) (*StreamsResponse, error) {
	endpoint := joinURL(baseURL, "/streams/"+url.PathEscape(contentID)) + "?instance=" + url.QueryEscape(baseURL)

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var out StreamsResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMetadataParse, err)
	}
	return &out, nil
}

// Playlist issues GET {baseURL}/playlists/{playlistID} and follows
// /nextpage/playlists/{playlistID}?nextpage=... until exhausted.
func (c *HTTPClient) Playlist(ctx context.Context, baseURL, playlistID string) (*PlaylistResponse, error) {
	body, err := c.get(ctx, joinURL(baseURL, "/playlists/"+url.PathEscape(playlistID)))
	if err != nil {
		return nil, err
	}

	var out PlaylistResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMetadataParse, err)
	}

	next := out.NextPage
	for page := 0; next != nil && *next != "" && page < maxPlaylistPages; page++ {
		endpoint := joinURL(baseURL, "/nextpage/playlists/"+url.PathEscape(playlistID)) + "?nextpage=" + url.QueryEscape(*next)
		body, err := c.get(ctx, endpoint)
		if err != nil {
			return nil, err
		}
		var more PlaylistResponse
		if err := json.Unmarshal(body, &more); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrMetadataParse, err)
		}
		out.RelatedStreams = append(out.RelatedStreams, more.RelatedStreams...)
		next = more.NextPage
	}
	out.NextPage = nil

	return &out, nil
}

// get performs a GET and returns the body. Transport failures and gateway
// statuses come back as a connectivity FetchError. Other statuses return
// the body so the caller's parser decides whether it is usable.
func (c *HTTPClient) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := c.newRequest(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.FetchError{URL: endpoint, Connectivity: domain.IsConnectivityError(err), Err: err}
	}
	defer resp.Body.Close()

	if domain.IsConnectivityStatus(resp.StatusCode) {
		return nil, &domain.FetchError{URL: endpoint, StatusCode: resp.StatusCode, Connectivity: true}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.FetchError{URL: endpoint, Connectivity: domain.IsConnectivityError(err), Err: err}
	}
	return body, nil
}

func (c *HTTPClient) newRequest(ctx context.Context, endpoint string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
