package domain

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Resolution width x height in pixels
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Pixels width * height
func (r Resolution) Pixels() int {
	return r.Width * r.Height
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// QualityProfile definition one output variant, Bitrate in kbps
type QualityProfile struct {
	Name       string     `json:"name"`
	Resolution Resolution `json:"resolution"`
	Bitrate    int        `json:"bitrate"`
	FPS        int        `json:"fps,omitempty"`
	// Rescaled is set when the resolver shrank the profile to fit the source
	Rescaled bool `json:"rescaled,omitempty"`
}

// Bandwidth bits per second for the master playlist
func (q QualityProfile) Bandwidth() int {
	return q.Bitrate * 1000
}

// Validate reject profiles that cannot be encoded or would escape the output tree
func (q QualityProfile) Validate() error {
	name := strings.TrimSpace(q.Name)
	if name == "" {
		return fmt.Errorf("%w: quality name is required", ErrInvalidJob)
	}
	if name != filepath.Base(name) || name == ".." || name == "." {
		return fmt.Errorf("%w: quality name %q is not a plain directory name", ErrInvalidJob, q.Name)
	}
	if q.Resolution.Width <= 0 || q.Resolution.Height <= 0 {
		return fmt.Errorf("%w: quality %s has invalid resolution %s", ErrInvalidJob, q.Name, q.Resolution)
	}
	if q.Bitrate <= 0 {
		return fmt.Errorf("%w: quality %s has invalid bitrate %d", ErrInvalidJob, q.Name, q.Bitrate)
	}
	return nil
}

var defaultCatalog = []QualityProfile{
	{Name: "360p", Resolution: Resolution{Width: 640, Height: 360}, Bitrate: 800},
	{Name: "480p", Resolution: Resolution{Width: 854, Height: 480}, Bitrate: 1400},
	{Name: "720p", Resolution: Resolution{Width: 1280, Height: 720}, Bitrate: 2800},
	{Name: "1080p", Resolution: Resolution{Width: 1920, Height: 1080}, Bitrate: 5000},
}

// DefaultCatalog the default requested set, ascending by bitrate
func DefaultCatalog() []QualityProfile {
	out := make([]QualityProfile, len(defaultCatalog))
	copy(out, defaultCatalog)
	return out
}

// SortByBitrate stable ascending sort by bitrate
func SortByBitrate(qs []QualityProfile) {
	sort.SliceStable(qs, func(i, j int) bool {
		return qs[i].Bitrate < qs[j].Bitrate
	})
}

// QualityNames names in slice order
func QualityNames(qs []QualityProfile) []string {
	names := make([]string, 0, len(qs))
	for _, q := range qs {
		names = append(names, q.Name)
	}
	return names
}
