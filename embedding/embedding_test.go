package embedding

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigApply(t *testing.T) {
	config := &Config{}
	opts := []Option{
		WithModel("the-model-name"),
		WithDimensions(1536),
		WithUser("test-user"),
	}
	config.Apply(opts)

	require.Equal(t, "the-model-name", config.Model)
	require.Equal(t, 1536, config.Dimensions)
	require.Equal(t, "test-user", config.User)
}

func TestConfigValidateValid(t *testing.T) {
	config := &Config{Model: "text-embedding-3-small", Dimensions: 1536}
	require.NoError(t, config.Validate())
}

func TestConfigValidateNegativeDimensions(t *testing.T) {
	config := &Config{Dimensions: -1}
	err := config.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "dimensions must not be negative")
}

func TestValidateInputsRejectsEmpty(t *testing.T) {
	require.Error(t, ValidateInputs(nil))
}

func TestValidateInputsRejectsOverLimit(t *testing.T) {
	texts := make([]string, 2049)
	require.Error(t, ValidateInputs(texts))
}

func TestIsZeroVector(t *testing.T) {
	require.True(t, IsZeroVector(nil))
	require.True(t, IsZeroVector([]float64{0, 0, 0}))
	require.False(t, IsZeroVector([]float64{0, 0.1, 0}))
}

func TestCosine(t *testing.T) {
	require.InDelta(t, 1.0, Cosine([]float64{1, 0}, []float64{1, 0}), 1e-9)
	require.InDelta(t, 0.0, Cosine([]float64{1, 0}, []float64{0, 1}), 1e-9)
	require.Equal(t, 0.0, Cosine([]float64{0, 0}, []float64{1, 1}))
	require.Equal(t, 0.0, Cosine([]float64{1, 2}, []float64{1}))
}
