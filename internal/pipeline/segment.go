package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/maauso/audiobook-forge/internal/audio"
	"github.com/maauso/audiobook-forge/internal/cache"
	"github.com/maauso/audiobook-forge/internal/dsp"
	"github.com/maauso/audiobook-forge/internal/failure"
	"github.com/maauso/audiobook-forge/internal/synth"
)

const opSegment = "pipeline.segment"

// SegmentRequest asks for the processed audio of one speech segment.
type SegmentRequest struct {
	Segment audio.Segment
	// Voice overrides the segment's voice id and character casting.
	Voice *synth.Voice
	// Chain overrides Preset. When both are empty the default preset is used.
	Chain  *dsp.Chain
	Preset string
	// JobID lets Cancel stop this call. Optional.
	JobID string
}

// SegmentResult is the outcome of ProduceSegmentAudio.
type SegmentResult struct {
	// Segment is the input segment with AudioPath and HasAudio set.
	Segment          audio.Segment `json:"segment"`
	VoiceID          string        `json:"voiceId"`
	SynthesisKey     string        `json:"synthesisKey"`
	RawPath          string        `json:"rawPath"`
	SynthesisCached  bool          `json:"synthesisCached"`
	ProcessingKey    string        `json:"processingKey"`
	ProcessingCached bool          `json:"processingCached"`
}

// ProduceSegmentAudio synthesizes (or reuses) the speech for a segment and
// runs it through the processing chain.
func (s *Service) ProduceSegmentAudio(ctx context.Context, req SegmentRequest, progress ProgressFunc) (SegmentResult, error) {
	report := reporter(progress)
	seg := req.Segment

	if seg.Kind != audio.KindSpeech {
		return SegmentResult{}, failure.Validation(opSegment, fmt.Errorf("%w: %s is %q", ErrNotSpeech, seg.ID, seg.Kind))
	}
	if strings.TrimSpace(seg.Text) == "" {
		return SegmentResult{}, failure.Validation(opSegment, fmt.Errorf("%w: segment %s", synth.ErrEmptyText, seg.ID))
	}
	voice, err := s.resolveVoice(req)
	if err != nil {
		return SegmentResult{}, err
	}
	chain, err := s.resolveChain(req.Chain, req.Preset)
	if err != nil {
		return SegmentResult{}, err
	}

	ctx, done := s.track(ctx, req.JobID)
	defer done()

	report(5, "synthesizing")
	raw, err := s.synthesize(ctx, seg.Text, voice)
	if err != nil {
		return SegmentResult{}, err
	}
	report(50, "synthesized")

	processed, err := s.process(ctx, raw.Path, chain, req.JobID, map[string]string{
		"segmentId": seg.ID,
		"voiceId":   voice.ID,
	})
	if err != nil {
		return SegmentResult{}, err
	}
	report(100, "done")

	seg.AudioPath = processed.OutputPath
	seg.HasAudio = true
	if seg.VoiceID == "" {
		seg.VoiceID = voice.ID
	}
	return SegmentResult{
		Segment:          seg,
		VoiceID:          voice.ID,
		SynthesisKey:     raw.Key,
		RawPath:          raw.Path,
		SynthesisCached:  raw.Cached,
		ProcessingKey:    processed.Key,
		ProcessingCached: processed.Cached,
	}, nil
}

func (s *Service) resolveVoice(req SegmentRequest) (synth.Voice, error) {
	if req.Voice != nil && req.Voice.ID != "" {
		return *req.Voice, nil
	}
	seg := req.Segment
	if seg.VoiceID != "" {
		v := synth.Voice{ID: seg.VoiceID}
		// Keep the casting's prosody when the segment names the character's own voice.
		if cast, ok := s.casting[seg.Character]; ok && cast.ID == seg.VoiceID {
			v = cast
		}
		return v, nil
	}
	if seg.Character != "" {
		return s.casting.Resolve(seg.Character)
	}
	return synth.Voice{}, failure.Configuration(opSegment, fmt.Errorf("%w: %s", ErrNoVoice, seg.ID))
}

// synthResult is the shared outcome of a deduplicated synthesis.
type synthResult struct {
	Key    string
	Path   string
	Cached bool
}

// synthesize returns the cached waveform for text and voice, calling the
// provider on a miss. Concurrent calls for the same key share one producer.
func (s *Service) synthesize(ctx context.Context, text string, voice synth.Voice) (synthResult, error) {
	key, err := synth.CacheKey(text, voice)
	if err != nil {
		return synthResult{}, failure.Validation(opSegment, err)
	}

	v, err := s.shared(ctx, key, func(ctx context.Context) (any, error) {
		entry, err := s.ttsCache.Get(ctx, key)
		if err == nil {
			s.logger.Debug("synthesis cache hit", slog.String("key", key))
			return synthResult{Key: key, Path: entry.Path, Cached: true}, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			return nil, err
		}

		data, err := s.synthesizeWithRetry(ctx, text, voice)
		if err != nil {
			return nil, err
		}
		entry, err = s.ttsCache.Put(ctx, key, bytes.NewReader(data), map[string]string{
			"voiceId": voice.ID,
			"chars":   strconv.Itoa(utf8.RuneCountInString(text)),
		})
		if err != nil {
			if failure.Is(err, failure.KindValidation) {
				return nil, failure.Integrity(opSegment, fmt.Errorf("%w: %w", synth.ErrBadOutput, err))
			}
			return nil, err
		}
		return synthResult{Key: key, Path: entry.Path}, nil
	})
	if err != nil {
		return synthResult{}, err
	}
	return v.(synthResult), nil
}

// synthesizeWithRetry calls the provider, retrying transient provider
// failures with exponential backoff.
func (s *Service) synthesizeWithRetry(ctx context.Context, text string, voice synth.Voice) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		data, err := s.synthesizer.Synthesize(ctx, text, voice)
		if err == nil {
			return data, nil
		}
		if !retryable(err) || attempt >= s.maxRetries {
			return nil, err
		}

		delay := s.backoff * time.Duration(1<<attempt)
		s.logger.Warn("synthesis failed, retrying",
			slog.String("voice_id", voice.ID),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()),
		)
		if err := s.sleep(ctx, delay); err != nil {
			return nil, failure.Cancelled(opSegment, err)
		}
	}
}

// retryable reports whether a provider failure may succeed on retry.
// Client errors other than auth, timeout and throttling are final.
func retryable(err error) bool {
	if !failure.IsRetryable(err) {
		return false
	}
	var fe *failure.Error
	if errors.As(err, &fe) && fe.Status >= 400 && fe.Status < 500 {
		switch fe.Status {
		case http.StatusUnauthorized, http.StatusRequestTimeout, http.StatusTooManyRequests:
			return true
		default:
			return false
		}
	}
	return true
}

// shared runs fn once per key across concurrent callers. A caller whose own
// context is still live retries when the shared run was cancelled by another
// caller's context.
func (s *Service) shared(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	const maxJoins = 3
	for joins := 0; ; joins++ {
		ch := s.group.DoChan(key, func() (any, error) { return fn(ctx) })
		select {
		case <-ctx.Done():
			return nil, failure.Cancelled(opSegment, ctx.Err())
		case res := <-ch:
			if res.Err != nil && res.Shared && ctx.Err() == nil &&
				failure.Is(res.Err, failure.KindCancelled) && joins < maxJoins {
				continue
			}
			return res.Val, res.Err
		}
	}
}
