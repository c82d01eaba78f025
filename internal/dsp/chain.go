// Package dsp applies the five-stage voice processing chain (noise, dynamics,
// EQ, spatial, mastering) to a waveform through ffmpeg's audio filters.
package dsp

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidChain is returned when chain parameters are out of range.
var ErrInvalidChain = errors.New("dsp: invalid chain")

// Chain is the ordered processing configuration. Stage order is fixed; a
// disabled stage contributes nothing regardless of its sub-stages.
type Chain struct {
	Noise     Noise     `json:"noise" yaml:"noise"`
	Dynamics  Dynamics  `json:"dynamics" yaml:"dynamics"`
	EQ        EQ        `json:"eq" yaml:"eq"`
	Spatial   Spatial   `json:"spatial" yaml:"spatial"`
	Mastering Mastering `json:"mastering" yaml:"mastering"`
}

// Noise cleans up the recording.
type Noise struct {
	Enabled  bool     `json:"enabled" yaml:"enabled"`
	HighPass HighPass `json:"highPass" yaml:"highPass"`
	Declick  Toggle   `json:"declick" yaml:"declick"`
	DeEsser  DeEsser  `json:"deEsser" yaml:"deEsser"`
}

// HighPass removes rumble below FreqHz.
type HighPass struct {
	Enabled bool    `json:"enabled" yaml:"enabled"`
	FreqHz  float64 `json:"freqHz" yaml:"freqHz" validate:"gte=0,lte=2000"`
}

// Toggle is a sub-stage without parameters.
type Toggle struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// DeEsser tames sibilance. Intensity is 0..1.
type DeEsser struct {
	Enabled   bool    `json:"enabled" yaml:"enabled"`
	Intensity float64 `json:"intensity" yaml:"intensity" validate:"gte=0,lte=1"`
}

// Dynamics controls level variation.
type Dynamics struct {
	Enabled    bool       `json:"enabled" yaml:"enabled"`
	Compressor Compressor `json:"compressor" yaml:"compressor"`
	Limiter    Limiter    `json:"limiter" yaml:"limiter"`
}

// Compressor parameters, e.g. ratio 2.5:1 above -12 dB.
type Compressor struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	ThresholdDB float64 `json:"thresholdDb" yaml:"thresholdDb" validate:"gte=-60,lte=0"`
	Ratio       float64 `json:"ratio" yaml:"ratio" validate:"omitempty,gte=1,lte=20"`
	AttackMs    float64 `json:"attackMs" yaml:"attackMs" validate:"omitempty,gte=0.01,lte=2000"`
	ReleaseMs   float64 `json:"releaseMs" yaml:"releaseMs" validate:"omitempty,gte=0.01,lte=9000"`
	MakeupDB    float64 `json:"makeupDb" yaml:"makeupDb" validate:"gte=0,lte=36"`
}

// Limiter caps peaks at CeilingDB.
type Limiter struct {
	Enabled   bool    `json:"enabled" yaml:"enabled"`
	CeilingDB float64 `json:"ceilingDb" yaml:"ceilingDb" validate:"gte=-24,lte=0"`
}

// EQ shapes the tone.
type EQ struct {
	Enabled   bool  `json:"enabled" yaml:"enabled"`
	LowMidCut Band  `json:"lowMidCut" yaml:"lowMidCut"`
	Presence  Band  `json:"presence" yaml:"presence"`
	Air       Shelf `json:"air" yaml:"air"`
}

// Band is a peaking equalizer band.
type Band struct {
	Enabled bool    `json:"enabled" yaml:"enabled"`
	FreqHz  float64 `json:"freqHz" yaml:"freqHz" validate:"gte=0,lte=20000"`
	GainDB  float64 `json:"gainDb" yaml:"gainDb" validate:"gte=-24,lte=24"`
	Q       float64 `json:"q" yaml:"q" validate:"omitempty,gte=0.1,lte=10"`
}

// Shelf is a high shelf.
type Shelf struct {
	Enabled bool    `json:"enabled" yaml:"enabled"`
	FreqHz  float64 `json:"freqHz" yaml:"freqHz" validate:"gte=0,lte=20000"`
	GainDB  float64 `json:"gainDb" yaml:"gainDb" validate:"gte=-24,lte=24"`
}

// Spatial adds room and width.
type Spatial struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Reverb  Reverb `json:"reverb" yaml:"reverb"`
	Width   Width  `json:"width" yaml:"width"`
}

// Reverb is a single-tap echo used as a short room.
type Reverb struct {
	Enabled bool    `json:"enabled" yaml:"enabled"`
	InGain  float64 `json:"inGain" yaml:"inGain" validate:"gte=0,lte=1"`
	OutGain float64 `json:"outGain" yaml:"outGain" validate:"gte=0,lte=1"`
	DelayMs float64 `json:"delayMs" yaml:"delayMs" validate:"gte=0,lte=90000"`
	Decay   float64 `json:"decay" yaml:"decay" validate:"gte=0,lte=1"`
}

// Width widens the stereo image. The output becomes stereo.
type Width struct {
	Enabled bool    `json:"enabled" yaml:"enabled"`
	Amount  float64 `json:"amount" yaml:"amount" validate:"gte=-10,lte=10"`
}

// Mastering brings the result to delivery loudness.
type Mastering struct {
	Enabled       bool          `json:"enabled" yaml:"enabled"`
	Normalization Normalization `json:"normalization" yaml:"normalization"`
	PeakLimit     Limiter       `json:"peakLimit" yaml:"peakLimit"`
	Dither        Dither        `json:"dither" yaml:"dither"`
}

// Normalization targets integrated loudness in LUFS.
type Normalization struct {
	Enabled    bool    `json:"enabled" yaml:"enabled"`
	TargetLUFS float64 `json:"targetLufs" yaml:"targetLufs" validate:"omitempty,gte=-70,lte=-5"`
	TruePeakDB float64 `json:"truePeakDb" yaml:"truePeakDb" validate:"gte=-9,lte=0"`
	LRA        float64 `json:"lra" yaml:"lra" validate:"omitempty,gte=1,lte=50"`
}

// Dither applies noise shaping when reducing to 16-bit.
type Dither struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Method  string `json:"method" yaml:"method" validate:"omitempty,oneof=rectangular triangular triangular_hp lipshitz shibata low_shibata high_shibata f_weighted e_weighted modified_e_weighted"`
}

var validate = validator.New()

// Validate checks parameter ranges and the parameters each enabled sub-stage requires.
func (c Chain) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidChain, err)
	}

	var missing []string
	need := func(enabled, ok bool, field string) {
		if enabled && !ok {
			missing = append(missing, field)
		}
	}
	need(c.Noise.HighPass.Enabled, c.Noise.HighPass.FreqHz > 0, "noise.highPass.freqHz")
	need(c.Dynamics.Compressor.Enabled, c.Dynamics.Compressor.Ratio > 0, "dynamics.compressor.ratio")
	need(c.EQ.LowMidCut.Enabled, c.EQ.LowMidCut.FreqHz > 0 && c.EQ.LowMidCut.Q > 0, "eq.lowMidCut.freqHz/q")
	need(c.EQ.Presence.Enabled, c.EQ.Presence.FreqHz > 0 && c.EQ.Presence.Q > 0, "eq.presence.freqHz/q")
	need(c.EQ.Air.Enabled, c.EQ.Air.FreqHz > 0, "eq.air.freqHz")
	need(c.Spatial.Reverb.Enabled, c.Spatial.Reverb.DelayMs > 0, "spatial.reverb.delayMs")
	need(c.Mastering.Normalization.Enabled, c.Mastering.Normalization.TargetLUFS != 0, "mastering.normalization.targetLufs")
	need(c.Mastering.Dither.Enabled, c.Mastering.Dither.Method != "", "mastering.dither.method")
	if len(missing) > 0 {
		return fmt.Errorf("%w: enabled stages missing parameters: %v", ErrInvalidChain, missing)
	}
	return nil
}

// Effective returns the chain as the tool sees it: parameters of disabled
// stages and sub-stages are zeroed, and a stage with no enabled sub-stage is
// disabled.
func (c Chain) Effective() Chain {
	var out Chain

	if c.Noise.Enabled {
		if c.Noise.HighPass.Enabled {
			out.Noise.HighPass = c.Noise.HighPass
		}
		out.Noise.Declick = c.Noise.Declick
		if c.Noise.DeEsser.Enabled {
			out.Noise.DeEsser = c.Noise.DeEsser
		}
		out.Noise.Enabled = out.Noise.HighPass.Enabled || out.Noise.Declick.Enabled || out.Noise.DeEsser.Enabled
	}

	if c.Dynamics.Enabled {
		if c.Dynamics.Compressor.Enabled {
			out.Dynamics.Compressor = c.Dynamics.Compressor
		}
		if c.Dynamics.Limiter.Enabled {
			out.Dynamics.Limiter = c.Dynamics.Limiter
		}
		out.Dynamics.Enabled = out.Dynamics.Compressor.Enabled || out.Dynamics.Limiter.Enabled
	}

	if c.EQ.Enabled {
		if c.EQ.LowMidCut.Enabled {
			out.EQ.LowMidCut = c.EQ.LowMidCut
		}
		if c.EQ.Presence.Enabled {
			out.EQ.Presence = c.EQ.Presence
		}
		if c.EQ.Air.Enabled {
			out.EQ.Air = c.EQ.Air
		}
		out.EQ.Enabled = out.EQ.LowMidCut.Enabled || out.EQ.Presence.Enabled || out.EQ.Air.Enabled
	}

	if c.Spatial.Enabled {
		if c.Spatial.Reverb.Enabled {
			out.Spatial.Reverb = c.Spatial.Reverb
		}
		if c.Spatial.Width.Enabled {
			out.Spatial.Width = c.Spatial.Width
		}
		out.Spatial.Enabled = out.Spatial.Reverb.Enabled || out.Spatial.Width.Enabled
	}

	if c.Mastering.Enabled {
		if c.Mastering.Normalization.Enabled {
			out.Mastering.Normalization = c.Mastering.Normalization
		}
		if c.Mastering.PeakLimit.Enabled {
			out.Mastering.PeakLimit = c.Mastering.PeakLimit
		}
		if c.Mastering.Dither.Enabled {
			out.Mastering.Dither = c.Mastering.Dither
		}
		out.Mastering.Enabled = out.Mastering.Normalization.Enabled || out.Mastering.PeakLimit.Enabled || out.Mastering.Dither.Enabled
	}

	return out
}

// IsPassthrough reports whether no stage would alter the audio.
func (c Chain) IsPassthrough() bool {
	return c.Effective() == Chain{}
}
