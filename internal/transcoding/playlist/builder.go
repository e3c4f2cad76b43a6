// Package playlist builds, parses and validates HLS manifests.
package playlist

import (
	"fmt"
	"math"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"video_transcoding_service/internal/transcoding/domain"
)

const (
	// MasterFileName top level manifest in the job output directory
	MasterFileName = "master.m3u8"
	// MediaFileName per quality manifest inside <outputDir>/<quality>/
	MediaFileName = "playlist.m3u8"
	// SegmentPattern segment names the encoder writes, printf style
	SegmentPattern = "segment_%03d.ts"

	version = 3
)

// Variant one master playlist entry
type Variant struct {
	Name       string
	Bandwidth  int
	Resolution domain.Resolution
	URI        string
}

// VariantFor master entry of a produced quality
func VariantFor(q domain.QualityProfile) Variant {
	return Variant{
		Name:       q.Name,
		Bandwidth:  q.Bandwidth(),
		Resolution: q.Resolution,
		URI:        path.Join(q.Name, MediaFileName),
	}
}

// BuildMaster render the master playlist, entries ascending by bandwidth whatever the input order
func BuildMaster(variants []Variant) string {
	sorted := make([]Variant, len(variants))
	copy(sorted, variants)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Bandwidth < sorted[j].Bandwidth
	})

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	fmt.Fprintf(&b, "#EXT-X-VERSION:%d\n", version)
	for _, v := range sorted {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%s\n", v.Bandwidth, v.Resolution)
		b.WriteString(v.URI)
		b.WriteByte('\n')
	}
	return b.String()
}

// TargetDuration ceiling of the longest segment
func TargetDuration(segments []domain.SegmentInfo) int {
	longest := 0.0
	for _, s := range segments {
		if s.Duration > longest {
			longest = s.Duration
		}
	}
	return int(math.Ceil(longest))
}

// BuildMedia render a media playlist in production order; only VOD playlists get #EXT-X-ENDLIST
func BuildMedia(segments []domain.SegmentInfo, vod bool) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	fmt.Fprintf(&b, "#EXT-X-VERSION:%d\n", version)
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", TargetDuration(segments))
	if vod {
		b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")
	}
	for _, s := range segments {
		if s.Discontinuity {
			b.WriteString("#EXT-X-DISCONTINUITY\n")
		}
		fmt.Fprintf(&b, "#EXTINF:%s,\n", formatDuration(s.Duration))
		b.WriteString(s.Filename)
		b.WriteByte('\n')
	}
	if vod {
		b.WriteString("#EXT-X-ENDLIST\n")
	}
	return b.String()
}

func formatDuration(d float64) string {
	return strconv.FormatFloat(d, 'f', 3, 64)
}

// WriteMedia write <dir>/playlist.m3u8
func WriteMedia(dir string, segments []domain.SegmentInfo, vod bool) error {
	return writeFile(filepath.Join(dir, MediaFileName), BuildMedia(segments, vod))
}

// WriteMaster write <outputDir>/master.m3u8
func WriteMaster(outputDir string, variants []Variant) error {
	return writeFile(filepath.Join(outputDir, MasterFileName), BuildMaster(variants))
}

// writeFile replaces name through a rename so readers never see a half written manifest
func writeFile(name, content string) error {
	tmp := name + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, name); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}
