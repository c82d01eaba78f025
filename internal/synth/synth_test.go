package synth

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/audiobook-forge/internal/failure"
)

func TestVoice_Locale(t *testing.T) {
	tests := map[string]string{
		"es-PE-CamilaNeural": "es-PE",
		"en-US-JennyNeural":  "en-US",
		"zh-CN":              "zh-CN",
		"custom":             "en-US",
		"":                   "en-US",
	}
	for id, want := range tests {
		assert.Equal(t, want, Voice{ID: id}.Locale(), id)
	}
}

func TestBuildSSML(t *testing.T) {
	t.Run("plain voice", func(t *testing.T) {
		got := BuildSSML("Hola", Voice{ID: "es-PE-CamilaNeural"})
		assert.Equal(t,
			`<speak version="1.0" xmlns="http://www.w3.org/2001/10/synthesis" xmlns:mstts="https://www.w3.org/2001/mstts" xml:lang="es-PE">`+
				`<voice name="es-PE-CamilaNeural">Hola</voice></speak>`,
			got)
	})

	t.Run("style and prosody", func(t *testing.T) {
		got := BuildSSML("Run!", Voice{ID: "en-US-GuyNeural", Style: "shouting", StyleDegree: 1.5, Role: "OlderAdultMale", Rate: "+10%", Pitch: "-2st"})
		assert.Contains(t, got, `<mstts:express-as style="shouting" styledegree="1.5" role="OlderAdultMale">`)
		assert.Contains(t, got, `<prosody rate="+10%" pitch="-2st">Run!</prosody></mstts:express-as>`)
	})

	t.Run("escapes text and attributes", func(t *testing.T) {
		got := BuildSSML(`Tom & "Jerry" <3`, Voice{ID: `x"y`})
		assert.Contains(t, got, `Tom &amp; &#34;Jerry&#34; &lt;3`)
		assert.Contains(t, got, `name="x&#34;y"`)
		assert.NotContains(t, got, "<3")
	})
}

func TestCacheKey(t *testing.T) {
	v := Voice{ID: "es-PE-CamilaNeural", Style: "cheerful"}
	k1, err := CacheKey("Hola", v)
	require.NoError(t, err)
	k2, err := CacheKey("Hola", v)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	v.StyleDegree = 1.2
	k3, err := CacheKey("Hola", v)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)

	k4, err := CacheKey("Hola.", Voice{ID: "es-PE-CamilaNeural", Style: "cheerful"})
	require.NoError(t, err)
	assert.NotEqual(t, k1, k4)
}

func TestCasting_Resolve(t *testing.T) {
	casting := Casting{
		"narrator": {ID: "es-PE-CamilaNeural"},
		"villain":  {ID: "es-MX-JorgeNeural", Style: "angry"},
		"ghost":    {},
	}

	v, err := casting.Resolve("villain")
	require.NoError(t, err)
	assert.Equal(t, "angry", v.Style)

	for _, name := range []string{"hero", "ghost", ""} {
		_, err = casting.Resolve(name)
		assert.True(t, failure.Is(err, failure.KindConfiguration), name)
		assert.ErrorIs(t, err, ErrNoVoiceForCharacter)
	}

	assert.Equal(t, []string{"ghost", "narrator", "villain"}, casting.Characters())
}

func TestParseCasting(t *testing.T) {
	t.Run("valid file", func(t *testing.T) {
		casting, err := ParseCasting([]byte(`
characters:
  narrator: {id: es-PE-CamilaNeural}
  villain:
    id: es-MX-JorgeNeural
    style: angry
    styleDegree: 1.4
    rate: "-5%"
`))
		require.NoError(t, err)
		assert.Equal(t, []string{"narrator", "villain"}, casting.Characters())

		v, err := casting.Resolve("villain")
		require.NoError(t, err)
		assert.Equal(t, Voice{ID: "es-MX-JorgeNeural", Style: "angry", StyleDegree: 1.4, Rate: "-5%"}, v)
	})

	t.Run("rejects bad input", func(t *testing.T) {
		tests := map[string]string{
			"empty":            "characters: {}\n",
			"missing voice id": "characters:\n  narrator: {style: calm}\n",
			"degree too large": "characters:\n  narrator: {id: en-US-JennyNeural, styleDegree: 3}\n",
			"malformed yaml":   "characters: [\n",
		}
		for name, doc := range tests {
			_, err := ParseCasting([]byte(doc))
			assert.True(t, failure.Is(err, failure.KindConfiguration), name)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadCasting(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.True(t, failure.Is(err, failure.KindConfiguration))
	})
}
