// Package audio assembles chapter files from ordered segment audio.
package audio

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// SegmentKind distinguishes synthesized speech from imported sound effects.
type SegmentKind string

const (
	KindSpeech      SegmentKind = "speech"
	KindSoundEffect SegmentKind = "sound-effect"
)

var (
	// ErrDuplicateOrder is returned when two segments share a display order.
	ErrDuplicateOrder = errors.New("audio: duplicate display order")
	// ErrUnknownKind is returned for a segment type other than speech or sound-effect.
	ErrUnknownKind = errors.New("audio: unknown segment type")
	// ErrNoSegments is returned when a chapter has nothing to assemble.
	ErrNoSegments = errors.New("audio: chapter has no segments")
	// ErrInvalidChapterID is returned for ids that cannot name a file.
	ErrInvalidChapterID = errors.New("audio: invalid chapter id")
)

// Segment is one unit of chapter content.
type Segment struct {
	ID           string      `json:"segmentId" yaml:"segmentId" validate:"required"`
	DisplayOrder int         `json:"displayOrder" yaml:"displayOrder" validate:"gte=0"`
	Kind         SegmentKind `json:"segmentType" yaml:"segmentType" validate:"required,oneof=speech sound-effect"`
	Text         string      `json:"text,omitempty" yaml:"text,omitempty"`
	VoiceID      string      `json:"voiceId,omitempty" yaml:"voiceId,omitempty"`
	// Character selects a voice from the project casting when VoiceID is empty.
	Character string `json:"character,omitempty" yaml:"character,omitempty"`
	SFXFile   string `json:"sfxFile,omitempty" yaml:"sfxFile,omitempty"`
	HasAudio  bool   `json:"hasAudio" yaml:"hasAudio"`
	AudioPath string `json:"audioPath,omitempty" yaml:"audioPath,omitempty"`
}

// MissingSegment names a segment whose audio file could not be found.
type MissingSegment struct {
	SegmentID string `json:"segmentId"`
	Path      string `json:"path"`
}

// MissingSegmentsError lists every segment of a chapter without audio.
type MissingSegmentsError struct {
	ChapterID string
	Missing   []MissingSegment
}

func (e *MissingSegmentsError) Error() string {
	parts := make([]string, 0, len(e.Missing))
	for _, m := range e.Missing {
		path := m.Path
		if path == "" {
			path = "<no audio>"
		}
		parts = append(parts, fmt.Sprintf("%s (%s)", m.SegmentID, path))
	}
	return fmt.Sprintf("chapter %s: %d segment(s) missing audio: %s",
		e.ChapterID, len(e.Missing), strings.Join(parts, ", "))
}

// SortSegments returns a copy of segments ordered by DisplayOrder.
func SortSegments(segments []Segment) ([]Segment, error) {
	ordered := make([]Segment, len(segments))
	copy(ordered, segments)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].DisplayOrder < ordered[j].DisplayOrder
	})

	for i := 1; i < len(ordered); i++ {
		if ordered[i].DisplayOrder == ordered[i-1].DisplayOrder {
			return nil, fmt.Errorf("%w: %d used by %s and %s",
				ErrDuplicateOrder, ordered[i].DisplayOrder, ordered[i-1].ID, ordered[i].ID)
		}
	}
	return ordered, nil
}
