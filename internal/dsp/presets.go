package dsp

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrUnknownPreset is returned for preset names that are not registered.
var ErrUnknownPreset = errors.New("dsp: unknown preset")

// Presets is a registry of named chains. It starts with the built-in presets
// and can be extended or overridden from a YAML file.
type Presets struct {
	mu     sync.RWMutex
	chains map[string]Chain
}

// DefaultPresets returns a registry holding the built-in presets.
func DefaultPresets() *Presets {
	p := &Presets{chains: make(map[string]Chain)}
	for name, c := range builtinPresets() {
		p.chains[name] = c
	}
	return p
}

// Get returns the chain registered under name.
func (p *Presets) Get(name string) (Chain, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.chains[name]
	if !ok {
		return Chain{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	return c, nil
}

// Names returns the registered preset names, sorted.
func (p *Presets) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.chains))
	for name := range p.chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns a copy of every registered preset.
func (p *Presets) All() map[string]Chain {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]Chain, len(p.chains))
	for name, c := range p.chains {
		out[name] = c
	}
	return out
}

// LoadFile merges presets from a YAML file of the form
//
//	presets:
//	  narration:
//	    noise: {enabled: true, highPass: {enabled: true, freqHz: 90}}
//
// Every chain is validated before any is registered.
func (p *Presets) LoadFile(path string) error {
	data, err := os.ReadFile(path) // #nosec G304 - operator-supplied config path
	if err != nil {
		return fmt.Errorf("dsp: read presets file: %w", err)
	}
	return p.Load(data)
}

// Load merges presets from YAML bytes.
func (p *Presets) Load(data []byte) error {
	var doc struct {
		Presets map[string]Chain `yaml:"presets"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("dsp: parse presets: %w", err)
	}
	for name, c := range doc.Presets {
		if name == "" {
			return fmt.Errorf("dsp: preset with empty name")
		}
		if err := c.Validate(); err != nil {
			return fmt.Errorf("dsp: preset %q: %w", name, err)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for name, c := range doc.Presets {
		p.chains[name] = c
	}
	return nil
}

func builtinPresets() map[string]Chain {
	return map[string]Chain{
		"raw": {},
		"clean": {
			Noise: Noise{
				Enabled:  true,
				HighPass: HighPass{Enabled: true, FreqHz: 80},
				Declick:  Toggle{Enabled: true},
				DeEsser:  DeEsser{Enabled: true, Intensity: 0.3},
			},
			Mastering: Mastering{
				Enabled:       true,
				Normalization: Normalization{Enabled: true, TargetLUFS: -19, TruePeakDB: -1.5, LRA: 11},
				PeakLimit:     Limiter{Enabled: true, CeilingDB: -1},
			},
		},
		"podcast": {
			Noise: Noise{
				Enabled:  true,
				HighPass: HighPass{Enabled: true, FreqHz: 80},
				DeEsser:  DeEsser{Enabled: true, Intensity: 0.4},
			},
			Dynamics: Dynamics{
				Enabled:    true,
				Compressor: Compressor{Enabled: true, ThresholdDB: -18, Ratio: 3, AttackMs: 10, ReleaseMs: 120, MakeupDB: 3},
				Limiter:    Limiter{Enabled: true, CeilingDB: -1},
			},
			EQ: EQ{
				Enabled:   true,
				LowMidCut: Band{Enabled: true, FreqHz: 250, GainDB: -2, Q: 1},
				Presence:  Band{Enabled: true, FreqHz: 3000, GainDB: 2.5, Q: 1},
				Air:       Shelf{Enabled: true, FreqHz: 10000, GainDB: 1.5},
			},
			Mastering: Mastering{
				Enabled:       true,
				Normalization: Normalization{Enabled: true, TargetLUFS: -16, TruePeakDB: -1.5, LRA: 11},
				PeakLimit:     Limiter{Enabled: true, CeilingDB: -1},
			},
		},
		"audiobook": {
			Noise: Noise{
				Enabled:  true,
				HighPass: HighPass{Enabled: true, FreqHz: 70},
				Declick:  Toggle{Enabled: true},
				DeEsser:  DeEsser{Enabled: true, Intensity: 0.3},
			},
			Dynamics: Dynamics{
				Enabled:    true,
				Compressor: Compressor{Enabled: true, ThresholdDB: -20, Ratio: 2.5, AttackMs: 15, ReleaseMs: 200, MakeupDB: 2},
				Limiter:    Limiter{Enabled: true, CeilingDB: -3},
			},
			EQ: EQ{
				Enabled:   true,
				LowMidCut: Band{Enabled: true, FreqHz: 300, GainDB: -2, Q: 1.2},
				Presence:  Band{Enabled: true, FreqHz: 3500, GainDB: 1.5, Q: 1},
			},
			Mastering: Mastering{
				Enabled:       true,
				Normalization: Normalization{Enabled: true, TargetLUFS: -20, TruePeakDB: -3, LRA: 11},
				PeakLimit:     Limiter{Enabled: true, CeilingDB: -3},
				Dither:        Dither{Enabled: true, Method: "triangular_hp"},
			},
		},
		"broadcast": {
			Noise: Noise{
				Enabled:  true,
				HighPass: HighPass{Enabled: true, FreqHz: 60},
			},
			Dynamics: Dynamics{
				Enabled:    true,
				Compressor: Compressor{Enabled: true, ThresholdDB: -24, Ratio: 2, AttackMs: 20, ReleaseMs: 250, MakeupDB: 1},
			},
			Spatial: Spatial{
				Enabled: true,
				Reverb:  Reverb{Enabled: true, InGain: 0.9, OutGain: 0.85, DelayMs: 35, Decay: 0.15},
			},
			Mastering: Mastering{
				Enabled:       true,
				Normalization: Normalization{Enabled: true, TargetLUFS: -23, TruePeakDB: -1, LRA: 7},
				PeakLimit:     Limiter{Enabled: true, CeilingDB: -1},
			},
		},
	}
}
