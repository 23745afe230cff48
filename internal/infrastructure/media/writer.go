package media

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

var ErrUnsupportedType = errors.New("unsupported media type")

var extensions = map[string]Kind{
	".jpg":  KindImage,
	".jpeg": KindImage,
	".png":  KindImage,
	".webp": KindImage,
	".heic": KindImage,
	".mp4":  KindVideo,
	".mov":  KindVideo,
	".webm": KindVideo,
}

// KindOf classifies an upload by its file extension.
func KindOf(filename string) (Kind, error) {
	k, ok := extensions[strings.ToLower(filepath.Ext(filename))]
	if !ok {
		return "", ErrUnsupportedType
	}
	return k, nil
}

// FSWriter stores refund evidence under MediaDir/<owner>/ and returns the
// reference clients attach to a refund request.
type FSWriter struct {
	MediaDir      string
	PublicBaseURL string
}

func NewFSWriter(mediaDir string, publicBaseURL string) *FSWriter {
	return &FSWriter{MediaDir: mediaDir, PublicBaseURL: strings.TrimRight(publicBaseURL, "/")}
}

type Stored struct {
	Ref  string `json:"ref"`
	URL  string `json:"url"`
	Kind Kind   `json:"kind"`
	Size int    `json:"size"`
}

func (w *FSWriter) Write(ownerID, filename string, data []byte) (Stored, error) {
	kind, err := KindOf(filename)
	if err != nil {
		return Stored{}, err
	}
	owner := filepath.Base(filepath.Clean("/" + ownerID))
	if owner == "/" || owner == "." {
		return Stored{}, errors.New("owner required")
	}
	dir := filepath.Join(w.MediaDir, owner)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Stored{}, err
	}
	name := uuid.NewString() + strings.ToLower(filepath.Ext(filename))
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return Stored{}, err
	}
	ref := "/media/" + owner + "/" + name
	return Stored{Ref: ref, URL: w.buildURL(ref), Kind: kind, Size: len(data)}, nil
}

func (w *FSWriter) buildURL(path string) string {
	if w.PublicBaseURL == "" {
		return path
	}
	return w.PublicBaseURL + path
}
