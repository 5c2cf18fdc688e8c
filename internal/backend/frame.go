// Package backend serves unit pixels from exposure frames kept in blob
// storage.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"blendcore/internal/blob"
	"blendcore/pkg/domain"
)

// FramePrefix is the blob key prefix under which frames are stored.
const FramePrefix = "exposures/"

const frameContentType = "application/json"

// ErrFrameNotFound is returned when no frame exists for an exposure.
var ErrFrameNotFound = errors.New("exposure frame not found")

// Frame is one exposure's full pixel payload. Plane boxes are absolute
// pixel coordinates shared with the frame WCS.
type Frame struct {
	Exposure domain.ExposureID `json:"exposure_id"`
	Filter   domain.FilterID   `json:"filter_id"`
	Pixels   *domain.Pixels    `json:"pixels"`
}

// Validate checks identifiers and the pixel payload.
func (f *Frame) Validate() error {
	if f == nil {
		return errors.New("frame: nil")
	}
	if strings.TrimSpace(string(f.Exposure)) == "" {
		return errors.New("frame: exposure id required")
	}
	if strings.TrimSpace(string(f.Filter)) == "" {
		return fmt.Errorf("frame %s: filter id required", f.Exposure)
	}
	if err := f.Pixels.Validate(); err != nil {
		return fmt.Errorf("frame %s: %w", f.Exposure, err)
	}
	return nil
}

// FrameKey returns the blob key of an exposure's frame.
func FrameKey(id domain.ExposureID) string {
	return FramePrefix + string(id) + ".json"
}

// WriteFrame validates and stores a frame, replacing any previous version.
func WriteFrame(ctx context.Context, store blob.Store, frame *Frame) (blob.Info, error) {
	if err := frame.Validate(); err != nil {
		return blob.Info{}, err
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		return blob.Info{}, fmt.Errorf("encode frame %s: %w", frame.Exposure, err)
	}
	return store.Put(ctx, FrameKey(frame.Exposure), bytes.NewReader(raw), blob.PutOptions{
		ContentType: frameContentType,
		Metadata:    map[string]string{"filter": string(frame.Filter)},
		Overwrite:   true,
	})
}

// ReadFrame loads and validates one frame.
func ReadFrame(ctx context.Context, store blob.Store, id domain.ExposureID) (*Frame, error) {
	_, rc, err := store.Get(ctx, FrameKey(id))
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, fmt.Errorf("exposure %s: %w", id, ErrFrameNotFound)
		}
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read frame %s: %w", id, err)
	}
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("decode frame %s: %w", id, err)
	}
	if frame.Exposure != id {
		return nil, fmt.Errorf("frame %s: stored under %s", frame.Exposure, id)
	}
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	return &frame, nil
}

// ListFrames returns the exposure ids with a stored frame, in key order.
func ListFrames(ctx context.Context, store blob.Store) ([]domain.ExposureID, error) {
	infos, err := store.List(ctx, FramePrefix)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ExposureID, 0, len(infos))
	for _, info := range infos {
		name := strings.TrimPrefix(info.Key, FramePrefix)
		if !strings.HasSuffix(name, ".json") || strings.Contains(name, "/") {
			continue
		}
		out = append(out, domain.ExposureID(strings.TrimSuffix(name, ".json")))
	}
	return out, nil
}
