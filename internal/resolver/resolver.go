// Package resolver turns relay stream metadata into typed manifests.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/iconidentify/vidyodl/internal/config"
	"github.com/iconidentify/vidyodl/internal/domain"
	"github.com/iconidentify/vidyodl/pkg/piped"
)

const defaultCacheSize = 256

// Resolver fetches and validates stream manifests. Successful results are
// cached per (proxy, content id); failures are not.
type Resolver struct {
	client piped.Client
	cache  *expirable.LRU[string, *domain.Manifest]
	logger *slog.Logger
}

// New creates a resolver. cfg supplies the manifest cache size and TTL.
func New(client piped.Client, cfg config.ProxyConfig, logger *slog.Logger) *Resolver {
	size := cfg.ManifestCache
	if size <= 0 {
		size = defaultCacheSize
	}
	return &Resolver{
		client: client,
		cache:  expirable.NewLRU[string, *domain.Manifest](size, nil, cfg.ManifestTTL),
		logger: logger,
	}
}

func cacheKey(proxyURL, contentID string) string {
	return proxyURL + "\x00" + contentID
}

// Resolve returns the manifest for contentID as served by proxy.
//
// Errors: ErrInvalidContentID for an empty id, *domain.FetchError when the
// relay could not be reached, ErrMetadataParse for a body that is not JSON
// and ErrMetadataShape when required fields are missing.
func (r *Resolver) Resolve(ctx context.Context, contentID string, proxy domain.Proxy) (*domain.Manifest, error) {
	if strings.TrimSpace(contentID) == "" {
		return nil, domain.ErrInvalidContentID
	}

	key := cacheKey(proxy.URL, contentID)
	if m, ok := r.cache.Get(key); ok {
		return m, nil
	}

	resp, err := r.client.Streams(ctx, proxy.URL, contentID)
	if err != nil {
		return nil, fmt.Errorf("fetch streams: %w", err)
	}

	m, err := toManifest(contentID, proxy.URL, resp)
	if err != nil {
		return nil, err
	}

	r.cache.Add(key, m)
	r.logger.Debug("manifest resolved",
		"content_id", contentID,
		"proxy", proxy.URL,
		"audio_streams", len(m.AudioStreams),
		"video_streams", len(m.VideoStreams),
	)
	return m, nil
}

// Forget drops a cached manifest.
func (r *Resolver) Forget(proxyURL, contentID string) {
	r.cache.Remove(cacheKey(proxyURL, contentID))
}

// BestAudio returns the highest-ranked audio stream of m.
func BestAudio(m *domain.Manifest) (domain.StreamDescriptor, error) {
	return m.BestAudio()
}

// BestVideo returns the highest-ranked video stream of m.
func BestVideo(m *domain.Manifest) (domain.StreamDescriptor, error) {
	return m.BestVideo()
}

// Playlist returns the content ids of every entry in playlistID.
func (r *Resolver) Playlist(ctx context.Context, playlistID string, proxy domain.Proxy) ([]string, error) {
	if strings.TrimSpace(playlistID) == "" {
		return nil, domain.ErrInvalidContentID
	}

	resp, err := r.client.Playlist(ctx, proxy.URL, playlistID)
	if err != nil {
		return nil, fmt.Errorf("fetch playlist: %w", err)
	}

	ids := make([]string, 0, len(resp.RelatedStreams))
	seen := make(map[string]struct{}, len(resp.RelatedStreams))
	for _, s := range resp.RelatedStreams {
		id := s.ContentID()
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

func toManifest(contentID, proxyURL string, resp *piped.StreamsResponse) (*domain.Manifest, error) {
	var missing []string
	if resp.Title == nil {
		missing = append(missing, "title")
	}
	if resp.Description == nil {
		missing = append(missing, "description")
	}
	if resp.AudioStreams == nil {
		missing = append(missing, "audioStreams")
	}
	if resp.VideoStreams == nil {
		missing = append(missing, "videoStreams")
	}
	if len(missing) > 0 {
		if msg := firstNonEmpty(resp.Error, resp.Message); msg != "" {
			return nil, fmt.Errorf("%w: %s (relay said %q)", domain.ErrMetadataShape, strings.Join(missing, ", "), msg)
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrMetadataShape, strings.Join(missing, ", "))
	}

	audio, err := toDescriptors(domain.StreamKindAudio, *resp.AudioStreams)
	if err != nil {
		return nil, err
	}
	video, err := toDescriptors(domain.StreamKindVideo, *resp.VideoStreams)
	if err != nil {
		return nil, err
	}

	return &domain.Manifest{
		ContentID:    contentID,
		ProxyURL:     proxyURL,
		Title:        *resp.Title,
		Description:  *resp.Description,
		AudioStreams: audio,
		VideoStreams: video,
	}, nil
}

func toDescriptors(kind domain.StreamKind, streams []piped.Stream) ([]domain.StreamDescriptor, error) {
	out := make([]domain.StreamDescriptor, 0, len(streams))
	for i, s := range streams {
		if s.URL == nil || *s.URL == "" {
			return nil, fmt.Errorf("%w: %s[%d].url", domain.ErrMetadataShape, kind, i)
		}
		if s.Format == nil {
			return nil, fmt.Errorf("%w: %s[%d].format", domain.ErrMetadataShape, kind, i)
		}
		out = append(out, domain.StreamDescriptor{
			Kind:             kind,
			URL:              *s.URL,
			ContainerFormat:  *s.Format,
			QualityLabel:     s.Quality,
			MimeType:         s.MimeType,
			Codec:            s.Codec,
			Bitrate:          s.Bitrate,
			IsVideoOnly:      s.VideoOnly,
			Width:            s.Width,
			Height:           s.Height,
			FPS:              s.FPS,
			ContentLength:    s.ContentLength,
			Itag:             s.Itag,
			AudioTrackID:     s.AudioTrackID,
			AudioTrackName:   s.AudioTrackName,
			AudioTrackLocale: s.AudioTrackLocale,
			InitStart:        s.InitStart,
			InitEnd:          s.InitEnd,
			IndexStart:       s.IndexStart,
			IndexEnd:         s.IndexEnd,
		})
	}
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
