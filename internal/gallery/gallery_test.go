package gallery_test

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/museai/lora-api/internal/gallery"
)

func TestSave(t *testing.T) {
	g, err := gallery.New(filepath.Join(t.TempDir(), "generated"))
	require.NoError(t, err)

	id := uuid.NewString()
	path, err := g.Save(context.Background(), id, []byte("png"))
	require.NoError(t, err)
	assert.Equal(t, g.Path(id), path)
	assert.Equal(t, id+".png", filepath.Base(path))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), got)

	_, err = g.Save(context.Background(), "../../etc/passwd", []byte("png"))
	require.ErrorIs(t, err, gallery.ErrInvalidID)
}

func TestDataURI(t *testing.T) {
	uri := gallery.DataURI([]byte{1, 2, 3})
	require.True(t, strings.HasPrefix(uri, "data:image/png;base64,"))

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, "data:image/png;base64,"))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, raw)
}
