package playlist

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"

	"video_transcoding_service/internal/transcoding/domain"
)

// MediaPlaylist parsed media manifest
type MediaPlaylist struct {
	HasHeader      bool
	Version        int
	TargetDuration int
	PlaylistType   string
	EndList        bool
	Segments       []domain.SegmentInfo
}

// MasterPlaylist parsed master manifest
type MasterPlaylist struct {
	HasHeader bool
	Version   int
	Variants  []Variant
}

// ParseMedia read a media playlist; unknown tags are ignored
func ParseMedia(r io.Reader) (*MediaPlaylist, error) {
	pl := &MediaPlaylist{}
	var (
		pending       *float64
		discontinuity bool
		first         = true
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if first {
			first = false
			if line == "#EXTM3U" {
				pl.HasHeader = true
				continue
			}
		}

		switch {
		case strings.HasPrefix(line, "#EXT-X-VERSION:"):
			pl.Version, _ = strconv.Atoi(strings.TrimPrefix(line, "#EXT-X-VERSION:"))
		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			pl.TargetDuration, _ = strconv.Atoi(strings.TrimPrefix(line, "#EXT-X-TARGETDURATION:"))
		case strings.HasPrefix(line, "#EXT-X-PLAYLIST-TYPE:"):
			pl.PlaylistType = strings.TrimPrefix(line, "#EXT-X-PLAYLIST-TYPE:")
		case line == "#EXT-X-ENDLIST":
			pl.EndList = true
		case line == "#EXT-X-DISCONTINUITY":
			discontinuity = true
		case strings.HasPrefix(line, "#EXTINF:"):
			raw := strings.TrimPrefix(line, "#EXTINF:")
			if i := strings.IndexByte(raw, ','); i >= 0 {
				raw = raw[:i]
			}
			d, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid #EXTINF duration %q: %w", raw, err)
			}
			pending = &d
		case strings.HasPrefix(line, "#"):
			// other tags and comments
		default:
			if pending == nil {
				return nil, fmt.Errorf("segment %q without #EXTINF", line)
			}
			pl.Segments = append(pl.Segments, domain.SegmentInfo{
				Filename:      line,
				Duration:      *pending,
				Discontinuity: discontinuity,
			})
			pending = nil
			discontinuity = false
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return pl, nil
}

// ParseMediaFile ParseMedia on a file
func ParseMediaFile(name string) (*MediaPlaylist, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseMedia(f)
}

// ParseMasterFile ParseMaster on a file
func ParseMasterFile(name string) (*MasterPlaylist, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseMaster(f)
}

// ParseMaster read a master playlist
func ParseMaster(r io.Reader) (*MasterPlaylist, error) {
	pl := &MasterPlaylist{}
	var (
		pending *Variant
		first   = true
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if first {
			first = false
			if line == "#EXTM3U" {
				pl.HasHeader = true
				continue
			}
		}

		switch {
		case strings.HasPrefix(line, "#EXT-X-VERSION:"):
			pl.Version, _ = strconv.Atoi(strings.TrimPrefix(line, "#EXT-X-VERSION:"))
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF:"):
			v := parseStreamInf(strings.TrimPrefix(line, "#EXT-X-STREAM-INF:"))
			pending = &v
		case strings.HasPrefix(line, "#"):
		default:
			if pending == nil {
				return nil, fmt.Errorf("variant %q without #EXT-X-STREAM-INF", line)
			}
			pending.URI = line
			pending.Name = path.Base(path.Dir(line))
			pl.Variants = append(pl.Variants, *pending)
			pending = nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return pl, nil
}

func parseStreamInf(attrs string) Variant {
	var v Variant
	for _, kv := range strings.Split(attrs, ",") {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "BANDWIDTH":
			v.Bandwidth, _ = strconv.Atoi(value)
		case "RESOLUTION":
			w, h, _ := strings.Cut(value, "x")
			v.Resolution.Width, _ = strconv.Atoi(w)
			v.Resolution.Height, _ = strconv.Atoi(h)
		}
	}
	return v
}
