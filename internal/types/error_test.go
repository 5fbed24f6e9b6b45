package types_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/museai/lora-api/internal/types"
	"github.com/museai/lora-api/internal/validator"
)

func TestValidationError(t *testing.T) {
	v := validator.Create()

	t.Run("TrainingRequest", func(t *testing.T) {
		req := types.DefaultTrainingRequest()
		req.Images = []string{"a", "b", "c", "d"}
		req.TrainingSteps = 99
		req.LearningRate = 0.01

		out := types.ValidationError(v.Validate(&req))
		assert.Equal(t, "validation error", out.Message)
		require.NotNil(t, out.Fields)

		fields := *out.Fields
		assert.Equal(t, "is required", fields["model_name"])
		assert.Equal(t, "must have at least 5 items", fields["images"])
		assert.Equal(t, "must be at least 100", fields["training_steps"])
		assert.Equal(t, "must be at most 0.001", fields["learning_rate"])
	})

	t.Run("ModelID", func(t *testing.T) {
		req := types.DefaultGenerationRequest()
		req.ModelID = "../etc"
		req.Prompt = "a cat"

		out := types.ValidationError(v.Validate(&req))
		require.NotNil(t, out.Fields)
		assert.Equal(t, "is not a valid model id", (*out.Fields)["model_id"])
	})

	t.Run("OtherError", func(t *testing.T) {
		out := types.ValidationError(errors.New("boom"))
		assert.Equal(t, "validation error", out.Message)
		assert.Nil(t, out.Fields)
	})
}
