package playlist

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ValidationResult outcome of validating one output tree
type ValidationResult struct {
	Valid         bool           `json:"valid"`
	Issues        []string       `json:"issues"`
	SegmentCounts map[string]int `json:"segment_counts"`
}

// Validator read-only structural checks of an output tree. Safe to run while a job is still encoding.
type Validator struct {
	// CheckSegmentFiles also stat every segment a media playlist references
	CheckSegmentFiles bool
}

// NewValidator validator that also checks segment files exist
func NewValidator() *Validator {
	return &Validator{CheckSegmentFiles: true}
}

// Validate check outputDir against the expected quality names
func (v *Validator) Validate(outputDir string, qualities []string) ValidationResult {
	res := ValidationResult{
		Issues:        []string{},
		SegmentCounts: make(map[string]int, len(qualities)),
	}

	v.checkMaster(outputDir, qualities, &res)
	for _, q := range qualities {
		v.checkMedia(outputDir, q, &res)
	}

	res.Valid = len(res.Issues) == 0
	return res
}

func (v *Validator) checkMaster(outputDir string, qualities []string, res *ValidationResult) {
	f, err := os.Open(filepath.Join(outputDir, MasterFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			res.Issues = append(res.Issues, fmt.Sprintf("Master playlist (%s) not found", MasterFileName))
		} else {
			res.Issues = append(res.Issues, fmt.Sprintf("Master playlist (%s) unreadable: %v", MasterFileName, err))
		}
		return
	}
	defer f.Close()

	master, err := ParseMaster(f)
	if err != nil {
		res.Issues = append(res.Issues, fmt.Sprintf("Master playlist is malformed: %v", err))
		return
	}
	if !master.HasHeader {
		res.Issues = append(res.Issues, "Master playlist has invalid header (missing #EXTM3U)")
	}
	if len(master.Variants) == 0 {
		res.Issues = append(res.Issues, "Master playlist has no variant streams")
		return
	}

	expected := make(map[string]bool, len(qualities))
	for _, q := range qualities {
		expected[q] = true
	}
	referenced := make(map[string]bool, len(master.Variants))
	for _, variant := range master.Variants {
		referenced[variant.Name] = true
		if !expected[variant.Name] {
			res.Issues = append(res.Issues, fmt.Sprintf("Master playlist references unexpected quality %s", variant.Name))
		}
	}
	for _, q := range qualities {
		if !referenced[q] {
			res.Issues = append(res.Issues, fmt.Sprintf("Master playlist does not reference %s", q))
		}
	}
}

func (v *Validator) checkMedia(outputDir, quality string, res *ValidationResult) {
	res.SegmentCounts[quality] = 0

	dir := filepath.Join(outputDir, quality)
	media, err := ParseMediaFile(filepath.Join(dir, MediaFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			res.Issues = append(res.Issues, fmt.Sprintf("Missing playlist for %s", quality))
		} else {
			res.Issues = append(res.Issues, fmt.Sprintf("Playlist for %s is malformed: %v", quality, err))
		}
		return
	}

	res.SegmentCounts[quality] = len(media.Segments)

	if !media.HasHeader {
		res.Issues = append(res.Issues, fmt.Sprintf("Invalid playlist header for %s (missing #EXTM3U)", quality))
	}
	if len(media.Segments) == 0 {
		res.Issues = append(res.Issues, fmt.Sprintf("No segments found for %s", quality))
	}
	if !media.EndList {
		res.Issues = append(res.Issues, fmt.Sprintf("Playlist for %s is missing #EXT-X-ENDLIST", quality))
	}

	if !v.CheckSegmentFiles {
		return
	}
	for _, s := range media.Segments {
		if strings.Contains(s.Filename, "://") {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(s.Filename))); err != nil {
			res.Issues = append(res.Issues, fmt.Sprintf("Segment %s for %s not found", s.Filename, quality))
		}
	}
}
