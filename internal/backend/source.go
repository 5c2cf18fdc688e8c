package backend

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"blendcore/internal/blob"
	"blendcore/pkg/domain"
)

// DefaultCacheSize is the number of decoded frames kept in memory.
const DefaultCacheSize = 16

// ErrEmptyCutout is returned when a request selects no frame pixels.
var ErrEmptyCutout = errors.New("cutout selects no pixels")

// BlobSource implements domain.PixelSource over frames in a blob store.
// Decoded frames are cached; concurrent requests for an uncached frame
// share a single load.
type BlobSource struct {
	store  blob.Store
	cache  *lru.Cache[domain.ExposureID, *Frame]
	loads  singleflight.Group
	logger zerolog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// SourceOption configures a BlobSource.
type SourceOption func(*sourceConfig)

type sourceConfig struct {
	cacheSize int
	logger    zerolog.Logger
}

// WithCacheSize bounds the frame cache. Values below 1 use DefaultCacheSize.
func WithCacheSize(n int) SourceOption {
	return func(c *sourceConfig) { c.cacheSize = n }
}

// WithLogger sets the logger used for frame loads.
func WithLogger(logger zerolog.Logger) SourceOption {
	return func(c *sourceConfig) { c.logger = logger }
}

// NewBlobSource constructs a source reading frames from store.
func NewBlobSource(store blob.Store, opts ...SourceOption) (*BlobSource, error) {
	if store == nil {
		return nil, errors.New("backend: blob store required")
	}
	cfg := sourceConfig{cacheSize: DefaultCacheSize, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.cacheSize < 1 {
		cfg.cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[domain.ExposureID, *Frame](cfg.cacheSize)
	if err != nil {
		return nil, err
	}
	return &BlobSource{store: store, cache: cache, logger: cfg.logger}, nil
}

// CacheStats reports frame cache hits and misses.
type CacheStats struct {
	Hits   int64
	Misses int64
	Cached int
}

// Stats returns cache counters.
func (s *BlobSource) Stats() CacheStats {
	return CacheStats{Hits: s.hits.Load(), Misses: s.misses.Load(), Cached: s.cache.Len()}
}

// Purge drops every cached frame.
func (s *BlobSource) Purge() { s.cache.Purge() }

// Fetch cuts the request's pixels out of its exposure frame. The cutout is
// the object's sky box projected through the frame WCS, clipped to the
// unit region's bounding box and the frame bounds.
func (s *BlobSource) Fetch(ctx context.Context, req domain.PixelRequest) (*domain.Pixels, error) {
	frame, err := s.frame(ctx, req.Exposure)
	if err != nil {
		return nil, err
	}
	if req.Filter != "" && req.Filter != frame.Filter {
		return nil, fmt.Errorf("exposure %s: frame filter %s, unit filter %s", req.Exposure, frame.Filter, req.Filter)
	}
	box, err := cutoutBox(frame, req)
	if err != nil {
		return nil, fmt.Errorf("exposure %s object %s: %w", req.Exposure, req.Object, err)
	}
	return cut(frame.Pixels, box), nil
}

func (s *BlobSource) frame(ctx context.Context, id domain.ExposureID) (*Frame, error) {
	if frame, ok := s.cache.Get(id); ok {
		s.hits.Add(1)
		return frame, nil
	}
	v, err, _ := s.loads.Do(string(id), func() (any, error) {
		if frame, ok := s.cache.Get(id); ok {
			return frame, nil
		}
		s.misses.Add(1)
		frame, err := ReadFrame(ctx, s.store, id)
		if err != nil {
			return nil, err
		}
		s.cache.Add(id, frame)
		s.logger.Debug().Str("exposure", string(id)).Msg("frame loaded")
		return frame, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Frame), nil
}

func cutoutBox(frame *Frame, req domain.PixelRequest) (domain.Box, error) {
	box := frame.Pixels.Image.Box
	if !req.SkyRegion.Empty() {
		sky, err := frame.Pixels.WCS.SkyBoxToPixels(req.SkyRegion)
		if err != nil {
			return domain.Box{}, err
		}
		box = box.Intersect(sky)
	}
	if !req.Region.Empty() {
		box = box.Intersect(req.Region.BBox())
	}
	if box.Empty() {
		return domain.Box{}, ErrEmptyCutout
	}
	return box, nil
}

// cut copies box out of px. PSF and transmission are copied whole.
func cut(px *domain.Pixels, box domain.Box) *domain.Pixels {
	image := domain.NewPlane(box)
	variance := domain.NewPlane(box)
	mask := domain.NewMaskPlane(box)
	for y := box.Y0; y < box.Y1; y++ {
		for x := box.X0; x < box.X1; x++ {
			v, _ := px.Image.At(x, y)
			image.Set(x, y, v)
			v, _ = px.Variance.At(x, y)
			variance.Set(x, y, v)
			bits, _ := px.Mask.At(x, y)
			mask.Or(x, y, bits)
		}
	}
	out := (&domain.Pixels{WCS: px.WCS, PSF: px.PSF, Transmission: px.Transmission}).Clone()
	out.Image, out.Mask, out.Variance = image, mask, variance
	return out
}

var _ domain.PixelSource = (*BlobSource)(nil)
