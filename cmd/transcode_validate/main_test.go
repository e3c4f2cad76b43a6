package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"video_transcoding_service/internal/transcoding/domain"
	"video_transcoding_service/internal/transcoding/playlist"
	"video_transcoding_service/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func outputTree(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	var variants []playlist.Variant
	for i, name := range names {
		qdir := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(qdir, 0755))
		var segs []domain.SegmentInfo
		for n := 0; n < 2; n++ {
			seg := fmt.Sprintf(playlist.SegmentPattern, n)
			require.NoError(t, os.WriteFile(filepath.Join(qdir, seg), []byte("ts"), 0644))
			segs = append(segs, domain.SegmentInfo{Filename: seg, Duration: 4})
		}
		require.NoError(t, playlist.WriteMedia(qdir, segs, true))
		variants = append(variants, playlist.VariantFor(domain.QualityProfile{
			Name:       name,
			Resolution: domain.Resolution{Width: 640 * (i + 1), Height: 360 * (i + 1)},
			Bitrate:    800 * (i + 1),
		}))
	}
	require.NoError(t, playlist.WriteMaster(dir, variants))
	return dir
}

func decode(t *testing.T, out *bytes.Buffer) playlist.ValidationResult {
	t.Helper()
	var res playlist.ValidationResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	return res
}

func TestRunValid(t *testing.T) {
	logger.SetNewNop()
	dir := outputTree(t, "360p", "720p")

	var out, errOut bytes.Buffer
	code := run([]string{"--dir", dir, "--qualities", "360p,720p"}, &out, &errOut)

	assert.Equal(t, exitValid, code)
	res := decode(t, &out)
	assert.True(t, res.Valid)
	assert.Equal(t, 2, res.SegmentCounts["720p"])
}

func TestRunDiscoversQualities(t *testing.T) {
	logger.SetNewNop()
	dir := outputTree(t, "360p", "720p")

	var out, errOut bytes.Buffer
	code := run([]string{dir}, &out, &errOut)

	assert.Equal(t, exitValid, code)
	res := decode(t, &out)
	assert.Len(t, res.SegmentCounts, 2)
}

func TestRunInvalid(t *testing.T) {
	logger.SetNewNop()
	dir := outputTree(t, "360p", "720p")
	require.NoError(t, os.Remove(filepath.Join(dir, "720p", playlist.MediaFileName)))

	var out, errOut bytes.Buffer
	code := run([]string{"-d", dir, "-q", "360p,720p"}, &out, &errOut)

	assert.Equal(t, exitInvalid, code)
	res := decode(t, &out)
	assert.False(t, res.Valid)
	assert.NotEmpty(t, res.Issues)
}

func TestRunUsage(t *testing.T) {
	logger.SetNewNop()
	var out, errOut bytes.Buffer

	assert.Equal(t, exitUsage, run(nil, &out, &errOut))
	assert.Contains(t, errOut.String(), "usage")
	assert.Equal(t, exitUsage, run([]string{"--bogus"}, &out, &errOut))
}

func TestTrimAll(t *testing.T) {
	assert.Equal(t, []string{"360p", "720p"}, trimAll([]string{" 360p", "", "720p", "360p"}))
}
