package sinks

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-mesh/agent-mesh/pkg/models"
)

func TestGzipCompressor_RoundTrip(t *testing.T) {
	compressor := NewGzipCompressor()

	original := []byte(`{"plan":{"steps":["analyze","implement","review"]}}`)

	packed, err := compressor.Compress(original)
	require.NoError(t, err)
	require.NotEqual(t, original, packed)

	restored, err := compressor.Decompress(packed)
	require.NoError(t, err)
	assert.Equal(t, original, restored)
}

func TestWrapContent_ProducesCompressedWrapper(t *testing.T) {
	compressor := NewGzipCompressor()

	content := models.JSONMap{
		"plan": map[string]interface{}{
			"steps": []interface{}{"analyze", "implement"},
		},
		"progress": float64(40),
	}

	wrapped, err := WrapContent(compressor, content)
	require.NoError(t, err)

	assert.Equal(t, true, wrapped["_compressed"])
	assert.Equal(t, "gzip", wrapped["algorithm"])
	assert.True(t, IsWrapped(wrapped))
	assert.False(t, IsWrapped(content))

	encoded, ok := wrapped["data"].(string)
	require.True(t, ok)
	_, err = base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)

	restored, err := UnwrapContent(compressor, wrapped)
	require.NoError(t, err)
	assert.Equal(t, content, restored)
}

func TestUnwrapContent_PassesThroughPlainContent(t *testing.T) {
	compressor := NewGzipCompressor()

	content := models.JSONMap{"status": "active"}

	restored, err := UnwrapContent(compressor, content)
	require.NoError(t, err)
	assert.Equal(t, content, restored)
}

func TestUnwrapContent_RejectsUnknownAlgorithm(t *testing.T) {
	compressor := NewGzipCompressor()

	wrapped := models.JSONMap{
		"_compressed": true,
		"algorithm":   "zstd",
		"data":        "AAAA",
	}

	_, err := UnwrapContent(compressor, wrapped)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported compression algorithm")
}

func TestUnwrapContent_RejectsMissingData(t *testing.T) {
	compressor := NewGzipCompressor()

	wrapped := models.JSONMap{
		"_compressed": true,
		"algorithm":   "gzip",
	}

	_, err := UnwrapContent(compressor, wrapped)
	require.Error(t, err)
}
