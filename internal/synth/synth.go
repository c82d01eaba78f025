// Package synth turns text into speech through an external TTS network service.
//
// A Synthesizer performs exactly one attempt per call; retries belong to the
// orchestration layer.
package synth

import (
	"context"
	"errors"
	"strings"

	"github.com/maauso/audiobook-forge/internal/cache"
)

// Output format shared by every downstream stage.
const (
	OutputFormat     = "riff-24khz-16bit-mono-pcm"
	OutputSampleRate = 24000
	OutputChannels   = 1
)

// Static errors for synthesis.
var (
	// ErrNoAuth is returned when no token endpoint produced a usable token.
	ErrNoAuth = errors.New("synth: no-auth: no token endpoint returned a usable token")
	// ErrBadOutput is returned when the provider answered 2xx with an empty or non-WAV body.
	ErrBadOutput = errors.New("synth: bad-output: malformed synthesized payload")
	// ErrVoiceRequired is returned when the voice has no id.
	ErrVoiceRequired = errors.New("synth: voice id is required")
	// ErrNoVoiceForCharacter is returned when a character has no voice assignment.
	ErrNoVoiceForCharacter = errors.New("synth: no voice assigned to character")
	// ErrEmptyText is returned when there is nothing to synthesize.
	ErrEmptyText = errors.New("synth: text is empty")
	// ErrRegionRequired is returned when the client has no region.
	ErrRegionRequired = errors.New("synth: region is required")
	// ErrKeyRequired is returned when the client has no subscription key.
	ErrKeyRequired = errors.New("synth: subscription key is required")
	// ErrRequestFailed is returned for non-2xx provider responses.
	ErrRequestFailed = errors.New("synth: request failed")
)

// Synthesizer renders text with a voice into a WAV payload in OutputFormat.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice Voice) ([]byte, error)
}

// Voice carries the per-character voice selection and prosody parameters.
type Voice struct {
	ID          string  `json:"id" yaml:"id" validate:"required"`
	Style       string  `json:"style,omitempty" yaml:"style,omitempty"`
	StyleDegree float64 `json:"styleDegree,omitempty" yaml:"styleDegree,omitempty" validate:"omitempty,gte=0.01,lte=2"`
	Role        string  `json:"role,omitempty" yaml:"role,omitempty"`
	// Rate is a prosody rate such as "+10%", "-5%" or "1.2".
	Rate string `json:"rate,omitempty" yaml:"rate,omitempty"`
	// Pitch is a prosody pitch such as "+2st", "-50Hz" or "+0%".
	Pitch string `json:"pitch,omitempty" yaml:"pitch,omitempty"`
}

// Locale returns the language tag embedded in the voice id,
// e.g. "es-PE" for "es-PE-CamilaNeural". It defaults to "en-US".
func (v Voice) Locale() string {
	parts := strings.SplitN(v.ID, "-", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "en-US"
	}
	return parts[0] + "-" + parts[1]
}

// keyParams is everything that changes the rendered audio for a given text.
type keyParams struct {
	VoiceID     string  `json:"voiceId"`
	Style       string  `json:"style"`
	StyleDegree float64 `json:"styleDegree"`
	Role        string  `json:"role"`
	Rate        string  `json:"rate"`
	Pitch       string  `json:"pitch"`
	Format      string  `json:"format"`
}

// CacheKey derives the synthesis cache key for text rendered with v.
func CacheKey(text string, v Voice) (string, error) {
	return cache.SynthesisKey(text, keyParams{
		VoiceID:     v.ID,
		Style:       v.Style,
		StyleDegree: v.StyleDegree,
		Role:        v.Role,
		Rate:        v.Rate,
		Pitch:       v.Pitch,
		Format:      OutputFormat,
	})
}
