package diffusion_test

import (
	"bytes"
	"context"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/museai/lora-api/internal/diffusion"
)

func writeImages(t *testing.T, n int) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, 0, n)
	for i := range n {
		p := filepath.Join(dir, "img"+string(rune('a'+i))+".png")
		require.NoError(t, os.WriteFile(p, []byte{byte(i), 1, 2, 3}, 0o644))
		paths = append(paths, p)
	}
	return paths
}

func trainPlaceholder(t *testing.T, steps int) string {
	t.Helper()
	ctx := context.Background()
	backend := diffusion.NewPlaceholder("base", 0)

	session, err := backend.Setup(ctx, diffusion.TrainConfig{
		ImagePaths:   writeImages(t, 5),
		Steps:        steps,
		LearningRate: 1e-4,
		Resolution:   512,
	})
	require.NoError(t, err)
	defer session.Close()

	require.NoError(t, session.Train(ctx, nil))

	weights := filepath.Join(t.TempDir(), "lora_weights.safetensors")
	require.NoError(t, session.Save(ctx, weights))
	return weights
}

func TestPlaceholderTrain(t *testing.T) {
	ctx := context.Background()
	backend := diffusion.NewPlaceholder("base", 0)

	t.Run("ReportsEveryStep", func(t *testing.T) {
		session, err := backend.Setup(ctx, diffusion.TrainConfig{
			ImagePaths: writeImages(t, 5),
			Steps:      250,
		})
		require.NoError(t, err)

		var seen []int
		require.NoError(t, session.Train(ctx, func(completed, total int) {
			assert.Equal(t, 250, total)
			seen = append(seen, completed)
		}))
		require.Len(t, seen, 250)
		assert.Equal(t, 1, seen[0])
		assert.Equal(t, 250, seen[249])
	})

	t.Run("Cancelled", func(t *testing.T) {
		session, err := backend.Setup(ctx, diffusion.TrainConfig{
			ImagePaths: writeImages(t, 5),
			Steps:      100,
		})
		require.NoError(t, err)

		cctx, cancel := context.WithCancel(ctx)
		err = session.Train(cctx, func(completed, _ int) {
			if completed == 10 {
				cancel()
			}
		})
		require.ErrorIs(t, err, context.Canceled)

		err = session.Save(ctx, filepath.Join(t.TempDir(), "w"))
		require.Error(t, err, "incomplete sessions cannot be saved")
	})

	t.Run("MissingImage", func(t *testing.T) {
		_, err := backend.Setup(ctx, diffusion.TrainConfig{
			ImagePaths: []string{filepath.Join(t.TempDir(), "nope.png")},
			Steps:      100,
		})
		require.Error(t, err)
	})

	t.Run("NoSteps", func(t *testing.T) {
		_, err := backend.Setup(ctx, diffusion.TrainConfig{
			ImagePaths: writeImages(t, 5),
		})
		require.Error(t, err)
	})
}

func TestPlaceholderGenerate(t *testing.T) {
	ctx := context.Background()
	backend := diffusion.NewPlaceholder("base", 0)
	weights := trainPlaceholder(t, 100)

	pipeline, err := backend.Load(ctx, weights)
	require.NoError(t, err)
	defer pipeline.Close()

	seed := int64(42)
	params := diffusion.GenerateParams{
		Prompt:        "a cat",
		GuidanceScale: 7,
		Steps:         30,
		Seed:          &seed,
		Width:         64,
		Height:        32,
	}

	first, err := pipeline.Generate(ctx, params)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(first))
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 32, img.Bounds().Dy())

	again, err := pipeline.Generate(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, first, again, "same seed and prompt render the same image")

	params.Prompt = "a dog"
	other, err := pipeline.Generate(ctx, params)
	require.NoError(t, err)
	assert.NotEqual(t, first, other)

	params.Width = 0
	_, err = pipeline.Generate(ctx, params)
	require.Error(t, err)
}

func TestPlaceholderLoadRejectsGarbage(t *testing.T) {
	backend := diffusion.NewPlaceholder("base", 0)
	dir := t.TempDir()

	short := filepath.Join(dir, "short")
	require.NoError(t, os.WriteFile(short, []byte{1, 2}, 0o644))
	_, err := backend.Load(context.Background(), short)
	require.Error(t, err)

	oversized := filepath.Join(dir, "oversized")
	require.NoError(t, os.WriteFile(oversized, []byte{0xff, 0, 0, 0, 0, 0, 0, 0, '{', '}'}, 0o644))
	_, err = backend.Load(context.Background(), oversized)
	require.Error(t, err)

	_, err = backend.Load(context.Background(), filepath.Join(dir, "missing"))
	require.Error(t, err)
}
