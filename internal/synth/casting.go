package synth

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/maauso/audiobook-forge/internal/failure"
)

// ErrEmptyCasting is returned when a casting file assigns no characters.
var ErrEmptyCasting = errors.New("synth: casting file assigns no characters")

// Casting maps character names to voices.
type Casting map[string]Voice

// Resolve returns the voice assigned to character. A missing assignment is a
// configuration failure; there is no fallback voice.
func (c Casting) Resolve(character string) (Voice, error) {
	v, ok := c[character]
	if !ok || v.ID == "" {
		return Voice{}, failure.Configuration("synth.cast", fmt.Errorf("%w: %q", ErrNoVoiceForCharacter, character))
	}
	return v, nil
}

// Characters returns the assigned character names in sorted order.
func (c Casting) Characters() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadCasting reads a casting file of the form
//
//	characters:
//	  narrator: {id: es-PE-CamilaNeural}
//	  villain:  {id: es-MX-JorgeNeural, style: angry, styleDegree: 1.4}
func LoadCasting(path string) (Casting, error) {
	data, err := os.ReadFile(path) // #nosec G304 - operator-supplied config path
	if err != nil {
		return nil, failure.Configuration("synth.casting", fmt.Errorf("read casting file: %w", err))
	}
	return ParseCasting(data)
}

// ParseCasting decodes and validates casting YAML.
func ParseCasting(data []byte) (Casting, error) {
	var doc struct {
		Characters Casting `yaml:"characters"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, failure.Configuration("synth.casting", fmt.Errorf("parse casting: %w", err))
	}
	if len(doc.Characters) == 0 {
		return nil, failure.Configuration("synth.casting", ErrEmptyCasting)
	}

	validate := validator.New()
	for _, name := range doc.Characters.Characters() {
		if err := validate.Struct(doc.Characters[name]); err != nil {
			return nil, failure.Configuration("synth.casting", fmt.Errorf("character %q: %w", name, err))
		}
	}
	return doc.Characters, nil
}
