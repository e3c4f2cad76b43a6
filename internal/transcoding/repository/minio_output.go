package repository

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"video_transcoding_service/internal/transcoding/playlist"
	"video_transcoding_service/pkg/database"
	"video_transcoding_service/pkg/logger"

	"go.uber.org/zap"
)

// MinIOOutputPublisher definition mirror of a validated job tree into object storage.
// Objects land under <prefix>/<jobId>/ with the same relative layout as on disk.
type MinIOOutputPublisher struct {
	client database.MinIOClientRepo
	prefix string
}

// NewMinIOOutputPublisher create MinIOOutputPublisher
func NewMinIOOutputPublisher(client database.MinIOClientRepo, prefix string) *MinIOOutputPublisher {
	return &MinIOOutputPublisher{client: client, prefix: strings.Trim(prefix, "/")}
}

// ObjectPrefix key prefix of every object of jobID
func (m *MinIOOutputPublisher) ObjectPrefix(jobID string) string {
	if m.prefix == "" {
		return jobID + "/"
	}
	return m.prefix + "/" + jobID + "/"
}

// PublishOutput replace the job's objects with outputDir.
// Media playlists and segments go first and the master playlist last,
// so a reader that finds the master can fetch everything it references.
func (m *MinIOOutputPublisher) PublishOutput(ctx context.Context, jobID, outputDir string) error {
	prefix := m.ObjectPrefix(jobID)
	if err := m.client.RemovePrefix(ctx, prefix); err != nil {
		return fmt.Errorf("clear %s: %w", prefix, err)
	}

	var master string
	uploaded := 0
	err := filepath.WalkDir(outputDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(outputDir, p)
		if err != nil {
			return err
		}
		if rel == playlist.MasterFileName {
			master = p
			return nil
		}
		if err := m.upload(ctx, prefix, rel, p); err != nil {
			return err
		}
		uploaded++
		return nil
	})
	if err != nil {
		return err
	}
	if master == "" {
		return fmt.Errorf("publish %s: %s missing in %s", jobID, playlist.MasterFileName, outputDir)
	}
	if err := m.upload(ctx, prefix, playlist.MasterFileName, master); err != nil {
		return err
	}

	logger.Log.Info("job output published",
		zap.String("job_id", jobID),
		zap.String("prefix", prefix),
		zap.Int("objects", uploaded+1),
	)
	return nil
}

func (m *MinIOOutputPublisher) upload(ctx context.Context, prefix, rel, file string) error {
	object := prefix + path.Clean(filepath.ToSlash(rel))
	if err := m.client.UploadFile(ctx, object, file, ContentType(rel)); err != nil {
		return fmt.Errorf("upload %s: %w", object, err)
	}
	return nil
}

// ContentType HLS content type by extension
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/MP2T"
	case ".json":
		return "application/json"
	}
	return "application/octet-stream"
}
