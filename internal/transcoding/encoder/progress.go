package encoder

import (
	"bufio"
	"bytes"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Progress fields extracted from one ffmpeg stats line
type Progress struct {
	Elapsed    time.Duration
	HasElapsed bool
	Frame      int64
	HasFrame   bool
	Speed      float64
}

var (
	timeRe    = regexp.MustCompile(`(?:^|\s)(?:out_)?time=\s*(-?\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)
	outTimeRe = regexp.MustCompile(`(?:^|\s)out_time_(?:ms|us)=\s*(\d+)`)
	frameRe   = regexp.MustCompile(`(?:^|\s)frame=\s*(\d+)`)
	speedRe   = regexp.MustCompile(`(?:^|\s)speed=\s*([\d.]+)x`)
)

// ParseLine extract elapsed time, frame and speed from a stats or -progress line.
// ok is false when the line carries neither elapsed time nor a frame count.
func ParseLine(line string) (Progress, bool) {
	var p Progress

	if m := timeRe.FindStringSubmatch(line); m != nil {
		h, _ := strconv.Atoi(m[1])
		mins, _ := strconv.Atoi(m[2])
		sec, _ := strconv.ParseFloat(m[3], 64)
		if h >= 0 {
			total := float64(h*3600+mins*60) + sec
			p.Elapsed = time.Duration(total * float64(time.Second))
			p.HasElapsed = true
		}
	} else if m := outTimeRe.FindStringSubmatch(line); m != nil {
		// ffmpeg reports out_time_ms in microseconds as well
		us, err := strconv.ParseInt(m[1], 10, 64)
		if err == nil {
			p.Elapsed = time.Duration(us) * time.Microsecond
			p.HasElapsed = true
		}
	}

	if m := frameRe.FindStringSubmatch(line); m != nil {
		if n, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			p.Frame = n
			p.HasFrame = true
		}
	}

	if m := speedRe.FindStringSubmatch(line); m != nil {
		p.Speed, _ = strconv.ParseFloat(m[1], 64)
	}

	return p, p.HasElapsed || p.HasFrame
}

// Percent elapsed / total clamped to [0, 100], total in seconds
func Percent(p Progress, total float64) (float64, bool) {
	if !p.HasElapsed || total <= 0 {
		return 0, false
	}
	pct := p.Elapsed.Seconds() / total * 100
	switch {
	case pct < 0:
		pct = 0
	case pct > 100:
		pct = 100
	}
	return pct, true
}

// ScanProgressLines bufio.SplitFunc splitting on \n, \r\n or a bare \r (ffmpeg redraws stats with \r)
func ScanProgressLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		j := i + 1
		if data[i] == '\r' && j < len(data) && data[j] == '\n' {
			j++
		} else if data[i] == '\r' && j == len(data) && !atEOF {
			// a \n may still follow
			return 0, nil, nil
		}
		return j, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// OutputScanner reads encoder output, reporting progress and keeping the last lines for error messages
type OutputScanner struct {
	tailSize int
	tail     []string
}

// NewOutputScanner tailSize <= 0 keeps 20 lines
func NewOutputScanner(tailSize int) *OutputScanner {
	if tailSize <= 0 {
		tailSize = 20
	}
	return &OutputScanner{tailSize: tailSize}
}

// Scan consume r until EOF, onProgress fires for every line with progress fields
func (s *OutputScanner) Scan(r io.Reader, onProgress func(Progress)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(ScanProgressLines)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if p, ok := ParseLine(line); ok {
			if onProgress != nil {
				onProgress(p)
			}
			continue
		}
		s.remember(line)
	}
	return scanner.Err()
}

func (s *OutputScanner) remember(line string) {
	s.tail = append(s.tail, line)
	if len(s.tail) > s.tailSize {
		s.tail = s.tail[len(s.tail)-s.tailSize:]
	}
}

// Tail non-progress lines seen last, oldest first
func (s *OutputScanner) Tail() string {
	return strings.Join(s.tail, "\n")
}
