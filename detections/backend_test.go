package detections

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyLoadError(t *testing.T) {
	assert.Nil(t, ClassifyLoadError(nil))

	err := ClassifyLoadError(errors.New("Load model from x.onnx failed:Protobuf parsing failed."))
	assert.ErrorIs(t, err, ErrInvalidArchive)

	err = ClassifyLoadError(errors.New("PytorchStreamReader failed reading zip archive: failed finding central directory"))
	assert.ErrorIs(t, err, ErrInvalidArchive)

	plain := errors.New("cuda out of memory")
	assert.Equal(t, plain, ClassifyLoadError(plain))

	wrapped := ClassifyLoadError(errors.New("unexpected EOF"))
	assert.Equal(t, wrapped, ClassifyLoadError(wrapped))
}

func TestAnchorCount(t *testing.T) {
	assert.Equal(t, 8400, anchorCount(640, 640))
	assert.Equal(t, 1344, anchorCount(256, 256))
}

func TestEnsureLocalFetchesMissingRemoteArtifact(t *testing.T) {
	dir := t.TempDir()
	var gotSrc string
	b := NewONNXBackend("https://example.test/assets/", 1, nil)
	b.Fetch = func(_ context.Context, dst, src string) error {
		gotSrc = src
		return os.WriteFile(dst, []byte("model"), 0o644)
	}

	loc := Locator{Key: "yolo11n", Name: "yolo11n.onnx", Path: filepath.Join(dir, "sub", "yolo11n.onnx"), Remote: true}
	require.NoError(t, b.ensureLocal(context.Background(), loc))
	assert.Equal(t, "https://example.test/assets/yolo11n.onnx", gotSrc)
	assert.FileExists(t, loc.Path)

	gotSrc = ""
	require.NoError(t, b.ensureLocal(context.Background(), loc))
	assert.Empty(t, gotSrc, "existing artifacts are not fetched again")
}

func TestEnsureLocalWithoutBaseURL(t *testing.T) {
	b := NewONNXBackend("", 1, nil)
	loc := Locator{Name: "m.onnx", Path: filepath.Join(t.TempDir(), "m.onnx"), Remote: true}
	assert.ErrorContains(t, b.ensureLocal(context.Background(), loc), "no base url")
}
