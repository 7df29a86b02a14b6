package transport

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	llmerrors "github.com/ahrav/go-t2ieval/internal/llm/errors"
)

const fileScheme = "file://"

// ImageLoader reads image files. Relative paths resolve against Root.
type ImageLoader struct {
	Root string
}

// Load reads the image at path and sniffs its MIME type.
func (l ImageLoader) Load(path string) (Image, error) {
	path = strings.TrimPrefix(path, fileScheme)
	if l.Root != "" && !filepath.IsAbs(path) {
		path = filepath.Join(l.Root, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Image{}, fmt.Errorf("load image: %w", err)
	}
	mime := mimetype.Detect(data)
	if !strings.HasPrefix(mime.String(), "image/") {
		return Image{}, fmt.Errorf("load image %s: unsupported content type %s", path, mime.String())
	}
	return Image{MIMEType: mime.String(), Data: data}, nil
}

// Interleave lays out a user turn. A text without markers gets its first
// image in front of it. Otherwise the text is split on marker and images
// fill the gaps in order, so n markers need exactly n images.
func Interleave(text, marker string, images []Image) ([]Part, error) {
	if len(images) == 0 {
		return []Part{TextPart(text)}, nil
	}

	splits := strings.Split(text, marker)
	if len(splits) == 1 {
		return []Part{ImagePart(images[0]), TextPart(text)}, nil
	}
	if len(splits)-1 != len(images) {
		return nil, fmt.Errorf("%w: %d markers, %d images", llmerrors.ErrImageLayout, len(splits)-1, len(images))
	}

	parts := make([]Part, 0, 2*len(splits)-1)
	for i, s := range splits {
		if i > 0 {
			parts = append(parts, ImagePart(images[i-1]))
		}
		parts = append(parts, TextPart(s))
	}
	return parts, nil
}
