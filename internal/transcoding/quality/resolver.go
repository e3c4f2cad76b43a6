// Package quality decides which requested profiles are worth producing for a source.
package quality

import (
	"fmt"
	"math"

	"video_transcoding_service/internal/transcoding/domain"
)

// DefaultTolerance a profile passes while source/target >= 0.8 on both axes
const DefaultTolerance = 0.8

// Resolver filters requested profiles against the source resolution, never upscaling
type Resolver struct {
	tolerance float64
}

// NewResolver tolerance <= 0 falls back to DefaultTolerance
func NewResolver(tolerance float64) *Resolver {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Resolver{tolerance: tolerance}
}

// Tolerance the configured non-upscale band
func (r *Resolver) Tolerance() float64 {
	return r.tolerance
}

// Resolve returns the retained profiles ascending by bitrate.
// When nothing passes the tolerance check the smallest requested profile is rescaled
// to the source instead, so one playable variant is always attempted. The best retained
// profile is also rescaled when it is still larger than the source.
func (r *Resolver) Resolve(source domain.Resolution, requested []domain.QualityProfile) ([]domain.QualityProfile, error) {
	if source.Width <= 0 || source.Height <= 0 {
		return nil, fmt.Errorf("%w: source resolution %s", domain.ErrNoValidQuality, source)
	}
	if len(requested) == 0 {
		return nil, fmt.Errorf("%w: no quality requested", domain.ErrNoValidQuality)
	}

	candidates := make([]domain.QualityProfile, 0, len(requested))
	for _, q := range requested {
		if q.Resolution.Width <= 0 || q.Resolution.Height <= 0 || q.Bitrate <= 0 {
			continue
		}
		candidates = append(candidates, q)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: every requested profile is malformed", domain.ErrNoValidQuality)
	}
	domain.SortByBitrate(candidates)

	retained := make([]domain.QualityProfile, 0, len(candidates))
	for _, q := range candidates {
		if r.fits(source, q.Resolution) {
			retained = append(retained, q)
		}
	}

	if len(retained) == 0 {
		return []domain.QualityProfile{rescale(candidates[0], source)}, nil
	}

	best := len(retained) - 1
	if exceeds(source, retained[best].Resolution) {
		retained[best] = rescale(retained[best], source)
	}
	return retained, nil
}

func (r *Resolver) fits(source, target domain.Resolution) bool {
	wRatio := float64(source.Width) / float64(target.Width)
	hRatio := float64(source.Height) / float64(target.Height)
	return wRatio >= r.tolerance && hRatio >= r.tolerance
}

func exceeds(source, target domain.Resolution) bool {
	return target.Width > source.Width || target.Height > source.Height
}

// rescale shrinks q to fit inside source keeping its aspect ratio, bitrate follows the pixel count
func rescale(q domain.QualityProfile, source domain.Resolution) domain.QualityProfile {
	if !exceeds(source, q.Resolution) {
		return q
	}
	factor := math.Min(
		float64(source.Width)/float64(q.Resolution.Width),
		float64(source.Height)/float64(q.Resolution.Height),
	)
	res := domain.Resolution{
		Width:  even(float64(q.Resolution.Width) * factor),
		Height: even(float64(q.Resolution.Height) * factor),
	}
	pixelRatio := float64(res.Pixels()) / float64(q.Resolution.Pixels())
	bitrate := int(math.Round(float64(q.Bitrate) * pixelRatio))
	if bitrate < 1 {
		bitrate = 1
	}

	out := q
	out.Resolution = res
	out.Bitrate = bitrate
	out.Rescaled = true
	return out
}

// even rounds down to an even number, H.264 needs even dimensions
func even(v float64) int {
	n := int(math.Floor(v))
	n -= n % 2
	if n < 2 {
		return 2
	}
	return n
}
