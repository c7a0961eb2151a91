package sinks

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"io"

	"github.com/pkg/errors"

	"github.com/agent-mesh/agent-mesh/pkg/models"
)

// Keys of the wrapper object that replaces content once it is compressed.
const (
	compressedFlagKey = "_compressed"
	algorithmKey      = "algorithm"
	compressedDataKey = "data"
)

// GzipCompressor is the default CompressionSink backed by compress/gzip.
type GzipCompressor struct {
	level int
}

// NewGzipCompressor creates a compressor at the default compression level.
func NewGzipCompressor() *GzipCompressor {
	return &GzipCompressor{level: gzip.DefaultCompression}
}

// Algorithm returns the identifier stored alongside compressed payloads.
func (g *GzipCompressor) Algorithm() string {
	return "gzip"
}

// Compress gzips the payload.
func (g *GzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	writer, err := gzip.NewWriterLevel(&buf, g.level)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create gzip writer")
	}

	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return nil, errors.Wrap(err, "failed to compress data")
	}

	if err := writer.Close(); err != nil {
		return nil, errors.Wrap(err, "failed to finalize compressed data")
	}

	return buf.Bytes(), nil
}

// Decompress gunzips the payload.
func (g *GzipCompressor) Decompress(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create gzip reader")
	}
	defer func() { _ = reader.Close() }()

	out, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decompress data")
	}

	return out, nil
}

// WrapContent compresses a content tree into the compact wrapper object
// stored in its place. The original tree is recoverable via UnwrapContent.
func WrapContent(sink CompressionSink, content models.JSONMap) (models.JSONMap, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal content for compression")
	}

	packed, err := sink.Compress(raw)
	if err != nil {
		return nil, err
	}

	return models.JSONMap{
		compressedFlagKey: true,
		algorithmKey:      sink.Algorithm(),
		compressedDataKey: base64.StdEncoding.EncodeToString(packed),
	}, nil
}

// IsWrapped reports whether the content tree is a compressed wrapper.
func IsWrapped(content models.JSONMap) bool {
	flag, ok := content[compressedFlagKey].(bool)
	return ok && flag
}

// UnwrapContent restores the original content tree from a compressed
// wrapper. Content that is not wrapped is returned unchanged.
func UnwrapContent(sink CompressionSink, content models.JSONMap) (models.JSONMap, error) {
	if !IsWrapped(content) {
		return content, nil
	}

	algorithm, _ := content[algorithmKey].(string)
	if algorithm != sink.Algorithm() {
		return nil, errors.Errorf("unsupported compression algorithm %q", algorithm)
	}

	encoded, ok := content[compressedDataKey].(string)
	if !ok {
		return nil, errors.New("compressed content is missing its data field")
	}

	packed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode compressed data")
	}

	raw, err := sink.Decompress(packed)
	if err != nil {
		return nil, err
	}

	var out models.JSONMap
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal decompressed content")
	}

	return out, nil
}
