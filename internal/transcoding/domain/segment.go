package domain

// SegmentInfo one media segment of a quality
type SegmentInfo struct {
	Filename      string  `json:"filename"`
	Duration      float64 `json:"duration"`
	Size          int64   `json:"size,omitempty"`
	Discontinuity bool    `json:"discontinuity,omitempty"`
}

// MediaInfo probe result of the input file
type MediaInfo struct {
	Resolution Resolution
	// Duration seconds, zero when the container did not report one
	Duration float64
}

// QualityOutput result of one encoded quality
type QualityOutput struct {
	Quality  QualityProfile
	Segments []SegmentInfo
}
