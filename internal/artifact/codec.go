// Package artifact stores compiled templates as binary blobs owned by their
// page and materializes them lazily.
//
// Blobs are msgpack-encoded liquid.Template values. Decoding is memoized per
// owner instance through Memo and, optionally, across instances through a
// SharedCache keyed by the blob's SHA-256 digest. A missing, corrupt or
// version-mismatched blob is a cache miss, never an error.
package artifact

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/conneroisu/pagegraph/internal/liquid"
)

// Encode serializes a compiled template.
func Encode(tmpl *liquid.Template) ([]byte, error) {
	if tmpl == nil {
		return nil, fmt.Errorf("artifact: cannot encode nil template")
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)
	if err := enc.Encode(tmpl); err != nil {
		return nil, fmt.Errorf("artifact: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode deserializes a blob produced by Encode.
func Decode(blob []byte) (*liquid.Template, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("artifact: empty blob")
	}

	var tmpl liquid.Template
	dec := msgpack.NewDecoder(bytes.NewReader(blob))
	dec.DisallowUnknownFields(true)
	if err := dec.Decode(&tmpl); err != nil {
		return nil, fmt.Errorf("artifact: decode: %w", err)
	}
	if tmpl.Version != liquid.FormatVersion {
		return nil, fmt.Errorf("artifact: format version %d, want %d", tmpl.Version, liquid.FormatVersion)
	}
	return &tmpl, nil
}

// Checksum returns the hex SHA-256 digest of a blob.
func Checksum(blob []byte) string {
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:])
}
