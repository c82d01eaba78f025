package cache

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKey_Deterministic(t *testing.T) {
	a, err := DeriveKey("hello", map[string]any{"rate": 1.0, "voice": "x"})
	require.NoError(t, err)
	b, err := DeriveKey("hello", map[string]any{"voice": "x", "rate": 1})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestDeriveKey_ReserializedConfig(t *testing.T) {
	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"b":{"y":2,"x":1.50},"a":[1,2]}`), &first))
	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"a":[1.0,2],"b":{"x":1.5,"y":2e0}}`), &second))

	k1, err := DeriveKey("src", first)
	require.NoError(t, err)
	k2, err := DeriveKey("src", second)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	raw := json.RawMessage(`{"y":2,"x":1.5}`)
	k3, err := DeriveKey("src", map[string]any{"a": []int{1, 2}, "b": raw})
	require.NoError(t, err)
	assert.Equal(t, k1, k3)
}

func TestDeriveKey_SensitiveToInputs(t *testing.T) {
	base, err := DeriveKey("text", map[string]any{"rate": 1.0})
	require.NoError(t, err)

	other, err := DeriveKey("text!", map[string]any{"rate": 1.0})
	require.NoError(t, err)
	assert.NotEqual(t, base, other)

	other, err = DeriveKey("text", map[string]any{"rate": 1.1})
	require.NoError(t, err)
	assert.NotEqual(t, base, other)
}

func TestDeriveKey_Unmarshalable(t *testing.T) {
	_, err := DeriveKey("x", map[string]any{"ch": make(chan int)})
	assert.Error(t, err)
}

func TestSynthesisAndProcessingKeys(t *testing.T) {
	type voice struct {
		ID   string  `json:"id"`
		Rate float64 `json:"rate"`
	}
	sk, err := SynthesisKey("Hola", voice{ID: "es-PE-CamilaNeural", Rate: 1})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sk, "tts_"))
	assert.True(t, safeName.MatchString(sk))

	pk, err := ProcessingKey("abc", map[string]any{"noise": map[string]any{"enabled": true}})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(pk, ProcessingVersion+"_"))
	assert.True(t, safeName.MatchString(pk))

	pk2, err := ProcessingKey("abd", map[string]any{"noise": map[string]any{"enabled": true}})
	require.NoError(t, err)
	assert.NotEqual(t, pk, pk2)
}

func TestContentHash(t *testing.T) {
	h, err := ContentHash(strings.NewReader("abc"))
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", h)
}
