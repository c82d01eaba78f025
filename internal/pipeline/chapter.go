package pipeline

import (
	"context"

	"github.com/maauso/audiobook-forge/internal/audio"
)

// ChapterRequest asks for a chapter to be rebuilt from its segments.
type ChapterRequest struct {
	ChapterID string
	Segments  []audio.Segment
	// JobID lets Cancel stop this call. Optional.
	JobID string
}

// AssembleChapter rebuilds the chapter file. It is never cached.
func (s *Service) AssembleChapter(ctx context.Context, req ChapterRequest, progress ProgressFunc) (audio.Artifact, error) {
	report := reporter(progress)

	ctx, done := s.track(ctx, req.JobID)
	defer done()

	return s.assembler.Assemble(ctx, req.ChapterID, req.Segments, report)
}
