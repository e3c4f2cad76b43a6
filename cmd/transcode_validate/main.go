package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"video_transcoding_service/internal/transcoding/playlist"
	"video_transcoding_service/pkg"
	"video_transcoding_service/pkg/logger"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
)

const (
	exitValid   = 0
	exitInvalid = 1
	exitUsage   = 2
)

func main() {
	logger.Log = logger.NewConsole("transcode_validate")
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run validate one output tree and print the result as JSON.
// Without --qualities the expected set is read from the master playlist.
func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("transcode_validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dir := fs.StringP("dir", "d", "", "job output directory containing master.m3u8")
	qualities := fs.StringSliceP("qualities", "q", nil, "expected quality names, comma separated")
	skipSegments := fs.Bool("skip-segments", false, "do not stat segment files")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *dir == "" && fs.NArg() > 0 {
		*dir = fs.Arg(0)
	}
	if *dir == "" {
		fmt.Fprintln(stderr, "usage: transcode_validate --dir <output dir> [--qualities 360p,720p]")
		return exitUsage
	}

	expected := trimAll(*qualities)
	if len(expected) == 0 {
		expected = discover(*dir)
	}

	v := playlist.NewValidator()
	v.CheckSegmentFiles = !*skipSegments
	res := v.Validate(*dir, expected)

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		logger.Log.Error("encode result failed", zap.Error(err))
		return exitUsage
	}
	if !res.Valid {
		logger.Log.Warn("output tree invalid", zap.String("dir", *dir), zap.Strings("issues", res.Issues))
		return exitInvalid
	}
	return exitValid
}

// trimAll drop blanks and repeats
func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" && !pkg.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

// discover quality names referenced by the master playlist, nil when it cannot be read
func discover(dir string) []string {
	master, err := playlist.ParseMasterFile(filepath.Join(dir, playlist.MasterFileName))
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(master.Variants))
	for _, variant := range master.Variants {
		names = append(names, variant.Name)
	}
	return names
}
