package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// ProcessingVersion tags processed-audio keys. Bump it whenever the effect
// implementations change so stale renders stop matching.
const ProcessingVersion = "dsp-v3"

// DeriveKey returns a deterministic, file-safe key for contentRef transformed
// by params. params is serialised to canonical JSON (sorted object keys,
// normalised numbers), so re-serialising an equivalent configuration never
// changes the key.
func DeriveKey(contentRef string, params any) (string, error) {
	canonical, err := CanonicalJSON(params)
	if err != nil {
		return "", fmt.Errorf("cache: canonicalize params: %w", err)
	}

	h := sha256.New()
	_, _ = io.WriteString(h, contentRef)
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SynthesisKey derives the cache key for synthesizing text with the given voice
// parameters. voice must include every parameter that changes the rendered audio.
func SynthesisKey(text string, voice any) (string, error) {
	k, err := DeriveKey(text, voice)
	if err != nil {
		return "", err
	}
	return "tts_" + k, nil
}

// ProcessingKey derives the cache key for applying chain to audio whose content
// hash is sourceHash.
func ProcessingKey(sourceHash string, chain any) (string, error) {
	k, err := DeriveKey(ProcessingVersion+":"+sourceHash, chain)
	if err != nil {
		return "", err
	}
	return ProcessingVersion + "_" + k, nil
}

// ContentHash returns the hex SHA-256 of everything read from r.
func ContentHash(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FileHash returns the hex SHA-256 of the file at path.
func FileHash(path string) (string, error) {
	f, err := os.Open(path) // #nosec G304 - paths come from the pipeline
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	return ContentHash(f)
}

// CanonicalJSON encodes v with object keys sorted at every level.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return json.Marshal(normalize(generic))
}

// normalize rewrites json.Number values to their shortest float form so
// 1, 1.0 and 1e0 hash identically.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = normalize(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = normalize(val)
		}
		return t
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	default:
		return v
	}
}
