package main

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/divyadrishti/detection-engine/models"
)

// FrameSource supplies decoded frames. io.EOF marks the end of the stream.
type FrameSource interface {
	Next(ctx context.Context) (image.Image, error)
}

var frameExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".bmp": true,
	".gif": true, ".tif": true, ".tiff": true,
}

// DirectorySource yields the images of a directory in name order.
type DirectorySource struct {
	files []string
	next  int
}

func NewDirectorySource(dir string) (*DirectorySource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame directory: %w", err)
	}
	src := &DirectorySource{}
	for _, e := range entries {
		if e.IsDir() || !frameExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		src.files = append(src.files, filepath.Join(dir, e.Name()))
	}
	return src, nil
}

func (s *DirectorySource) Len() int {
	return len(s.files)
}

func (s *DirectorySource) Next(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= len(s.files) {
		return nil, io.EOF
	}
	path := s.files[s.next]
	s.next++

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode frame %s: %w", path, err)
	}
	return img, nil
}

// directorySink writes annotated frames as numbered JPEGs into dir.
func directorySink(dir string) (FrameSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	n := 0
	return func(frame image.Image, _ []models.Detection) error {
		n++
		return imaging.Save(frame, filepath.Join(dir, fmt.Sprintf("frame_%06d.jpg", n)), imaging.JPEGQuality(95))
	}, nil
}
