// Package storage implements the local filesystem image asset store.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ingest_server/core/domain"
	"ingest_server/core/port/out"
	"ingest_server/pkg/logger"
)

const (
	idPrefixLen   = 8
	hashPrefixLen = 8
	fileMode      = 0o644
	dirMode       = 0o755
)

// extByContentType maps the image content types Graph actually emits.
// Anything unrecognized gets .jpg, matching how mail clients fall back.
var extByContentType = map[string]string{
	"image/jpeg":    ".jpg",
	"image/jpg":     ".jpg",
	"image/png":     ".png",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/bmp":     ".bmp",
	"image/svg+xml": ".svg",
	"image/tiff":    ".tiff",
}

// LocalImageStore writes resolved inline images under a single asset
// directory and reports the URL path they are served from. File names
// are derived from {message id, content hash, sequence, creation time},
// so re-running a message produces new files instead of overwriting.
type LocalImageStore struct {
	dir       string
	urlPrefix string
	now       func() time.Time
	log       *logger.Logger
}

// NewLocalImageStore creates the asset directory if it does not exist.
func NewLocalImageStore(dir, urlPrefix string) (*LocalImageStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("image store: directory not configured")
	}
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, fmt.Errorf("image store: create %s: %w", dir, err)
	}
	return &LocalImageStore{
		dir:       dir,
		urlPrefix: strings.TrimRight(urlPrefix, "/"),
		now:       time.Now,
		log:       logger.WithField("component", "image_store"),
	}, nil
}

// Dir returns the asset directory, for wiring the static file route.
func (s *LocalImageStore) Dir() string { return s.dir }

// Save writes one decoded attachment payload to disk.
func (s *LocalImageStore) Save(ctx context.Context, messageID string, seq int, contentType string, data []byte) (*domain.StoredImage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("image store: empty payload for message %s", messageID)
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	name := fmt.Sprintf("%s_%s_%d_%d%s",
		safeIDPrefix(messageID),
		hash[:hashPrefixLen],
		seq,
		s.now().Unix(),
		extensionFor(contentType),
	)

	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, fileMode); err != nil {
		return nil, fmt.Errorf("image store: write %s: %w", name, err)
	}

	s.log.WithFields(map[string]any{
		"message_id": messageID,
		"file":       name,
		"size":       len(data),
	}).Debug("stored inline image")

	return &domain.StoredImage{
		FileName:    name,
		ServePath:   s.urlPrefix + "/" + name,
		MessageID:   messageID,
		ContentHash: hash,
		ContentType: contentType,
		Size:        int64(len(data)),
	}, nil
}

// safeIDPrefix keeps the first alphanumeric characters of the message
// id. Graph ids contain '=', '-' and '_' which are fine in file names
// but the filter keeps the prefix portable regardless of provider.
func safeIDPrefix(messageID string) string {
	var b strings.Builder
	for _, r := range messageID {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			if b.Len() == idPrefixLen {
				break
			}
		}
	}
	if b.Len() == 0 {
		return "msg"
	}
	return b.String()
}

func extensionFor(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if ext, ok := extByContentType[ct]; ok {
		return ext
	}
	return ".jpg"
}

var _ out.ImageStore = (*LocalImageStore)(nil)
