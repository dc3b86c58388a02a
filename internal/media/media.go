package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/teris-io/shortid"
)

var (
	ErrEmpty           = errors.New("attachment is empty")
	ErrUnsupportedType = errors.New("unsupported attachment type")
	ErrTooLarge        = errors.New("attachment too large")
)

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// AllowedTypes lists the MIME types accepted for message attachments.
var AllowedTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

// Store persists attachment bytes and returns a URL the client can fetch
// them from.
type Store interface {
	Save(ctx context.Context, data []byte, mimeType string) (string, error)
}

// Validate checks an attachment against the upload policy: image types only
// and at most maxSize bytes. The declared type must agree with the content.
func Validate(data []byte, mimeType string, maxSize int64) error {
	if len(data) == 0 {
		return ErrEmpty
	}
	if int64(len(data)) > maxSize {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, len(data), maxSize)
	}

	mimeType = normalize(mimeType)
	if !slices.Contains(AllowedTypes, mimeType) {
		return fmt.Errorf("%w: %q", ErrUnsupportedType, mimeType)
	}

	sniffed := http.DetectContentType(data)
	if !strings.HasPrefix(sniffed, "image/") {
		return fmt.Errorf("%w: content looks like %q", ErrUnsupportedType, sniffed)
	}

	return nil
}

func normalize(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

// shortid supports 32 workers
const (
	maxWorkers      = 32
	maxNameAttempts = 3
)

type DiskStore struct {
	dir      string
	baseURL  string
	generate func() (string, error)
}

// NewDiskStore stores attachments below dir. Nodes sharing dir should use
// distinct node ids so that their generated names do not collide.
func NewDiskStore(dir, baseURL string, nodeId int64) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}

	sid, err := shortid.New(uint8(nodeId%maxWorkers), shortid.DefaultABC, 2342)
	if err != nil {
		return nil, fmt.Errorf("shortid: %w", err)
	}

	return &DiskStore{
		dir:      dir,
		baseURL:  strings.TrimRight(baseURL, "/"),
		generate: sid.Generate,
	}, nil
}

// Save writes data under a fresh name. An existing file is never replaced.
func (s *DiskStore) Save(ctx context.Context, data []byte, mimeType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ext, ok := extensions[normalize(mimeType)]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, mimeType)
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write attachment: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close attachment: %w", err)
	}

	for attempt := 1; ; attempt++ {
		id, err := s.generate()
		if err != nil {
			return "", fmt.Errorf("generate name: %w", err)
		}

		name := id + ext
		err = os.Link(tmp.Name(), filepath.Join(s.dir, name))
		if err == nil {
			return s.baseURL + "/" + name, nil
		}
		if !errors.Is(err, fs.ErrExist) || attempt == maxNameAttempts {
			return "", fmt.Errorf("store attachment: %w", err)
		}
	}
}
