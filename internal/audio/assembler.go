package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/maauso/audiobook-forge/internal/failure"
	"github.com/maauso/audiobook-forge/internal/media"
	"github.com/maauso/audiobook-forge/internal/notify"
	"github.com/maauso/audiobook-forge/internal/storage"
)

const opAssemble = "audio.assemble"

// Default chapter output format.
const (
	DefaultSampleRate = 44100
	DefaultChannels   = 1
)

var chapterIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Artifact is a finished chapter file.
type Artifact struct {
	ChapterID string `json:"chapterId"`
	Path      string `json:"path"`
	// Duration is nil when the file could not be probed.
	Duration  *float64 `json:"durationSec"`
	SizeBytes int64    `json:"sizeBytes"`
	URL       string   `json:"url,omitempty"`
}

// ProgressFunc receives coarse assembly progress.
type ProgressFunc func(percent int, stage string)

// Option configures an Assembler.
type Option func(*Assembler)

// WithSFXDir sets the directory relative sound-effect references resolve against.
func WithSFXDir(dir string) Option {
	return func(a *Assembler) {
		a.sfxDir = dir
	}
}

// WithFormat sets the chapter sample rate and channel count.
func WithFormat(sampleRate, channels int) Option {
	return func(a *Assembler) {
		if sampleRate > 0 {
			a.sampleRate = sampleRate
		}
		if channels > 0 {
			a.channels = channels
		}
	}
}

// WithNotifier sets who is told about rebuilt chapters.
func WithNotifier(n notify.Notifier) Option {
	return func(a *Assembler) {
		if n != nil {
			a.notifier = n
		}
	}
}

// WithPublisher uploads every assembled chapter.
func WithPublisher(p storage.Publisher) Option {
	return func(a *Assembler) {
		a.publisher = p
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) {
		if now != nil {
			a.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Assembler) {
		if l != nil {
			a.logger = l
		}
	}
}

// Assembler concatenates a chapter's segment audio into one normalized WAV file.
// Chapter files are rebuilt on every call and never cached.
type Assembler struct {
	ffmpeg      *media.Runner
	prober      *media.Prober
	scratch     storage.Scratch
	chaptersDir string
	sfxDir      string
	sampleRate  int
	channels    int
	notifier    notify.Notifier
	publisher   storage.Publisher
	now         func() time.Time
	logger      *slog.Logger
}

// NewAssembler creates an Assembler writing chapters into chaptersDir.
// prober may be nil, in which case durations are not reported.
func NewAssembler(ffmpeg *media.Runner, prober *media.Prober, scratch storage.Scratch, chaptersDir string, opts ...Option) *Assembler {
	a := &Assembler{
		ffmpeg:      ffmpeg,
		prober:      prober,
		scratch:     scratch,
		chaptersDir: chaptersDir,
		sampleRate:  DefaultSampleRate,
		channels:    DefaultChannels,
		notifier:    notify.Nop{},
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(slog.String("component", "assembler"))
	return a
}

// ChapterPath returns where the chapter file for chapterID is written.
func (a *Assembler) ChapterPath(chapterID string) string {
	return filepath.Join(a.chaptersDir, chapterID+".wav")
}

// Assemble concatenates segments in display order into the chapter file.
// Every referenced file is checked before any tool runs; if some are missing
// the call fails with a validation error wrapping *MissingSegmentsError and
// nothing is written.
func (a *Assembler) Assemble(ctx context.Context, chapterID string, segments []Segment, progress ProgressFunc) (Artifact, error) {
	if progress == nil {
		progress = func(int, string) {}
	}
	if !chapterIDPattern.MatchString(chapterID) {
		return Artifact{}, failure.Validation(opAssemble, fmt.Errorf("%w: %q", ErrInvalidChapterID, chapterID))
	}
	if len(segments) == 0 {
		return Artifact{}, failure.Validation(opAssemble, fmt.Errorf("%w: %s", ErrNoSegments, chapterID))
	}

	ordered, err := SortSegments(segments)
	if err != nil {
		return Artifact{}, failure.Validation(opAssemble, err)
	}

	inputs, err := a.resolveInputs(chapterID, ordered)
	if err != nil {
		return Artifact{}, err
	}
	progress(10, "validated")

	logger := a.logger.With(slog.String("chapter_id", chapterID), slog.Int("segments", len(ordered)))
	logger.Info("assembling chapter")
	start := time.Now()

	workDir, err := a.scratch.WorkDir(ctx, "assemble-"+chapterID)
	if err != nil {
		return Artifact{}, failure.Environment(opAssemble, fmt.Errorf("create work dir: %w", err))
	}
	defer func() { _ = a.scratch.CleanupTemp(context.WithoutCancel(ctx), []string{workDir}) }()

	normalized, err := a.normalizeInputs(ctx, workDir, inputs, progress)
	if err != nil {
		return Artifact{}, err
	}

	if err := a.concat(ctx, workDir, chapterID, normalized); err != nil {
		return Artifact{}, err
	}
	progress(90, "concatenated")

	out := a.ChapterPath(chapterID)
	info, err := os.Stat(out)
	if err != nil {
		return Artifact{}, failure.Integrity(opAssemble, fmt.Errorf("stat chapter: %w", err))
	}
	artifact := Artifact{ChapterID: chapterID, Path: out, SizeBytes: info.Size()}
	artifact.Duration = a.probe(ctx, logger, out)
	artifact.URL = a.publish(ctx, logger, chapterID, out)

	ev := notify.ChapterEvent{
		ChapterID:   chapterID,
		Path:        out,
		DurationSec: artifact.Duration,
		SizeBytes:   artifact.SizeBytes,
		URL:         artifact.URL,
		Segments:    len(ordered),
		At:          a.now().UTC(),
	}
	if err := a.notifier.ChapterChanged(ctx, ev); err != nil {
		logger.Warn("chapter notification failed", slog.String("error", err.Error()))
	}

	logger.Info("chapter assembled",
		slog.String("path", out),
		slog.Int64("size_bytes", artifact.SizeBytes),
		slog.Duration("elapsed", time.Since(start)),
	)
	progress(100, "done")
	return artifact, nil
}

// resolveInputs maps every segment to its file and reports all missing ones at once.
func (a *Assembler) resolveInputs(chapterID string, ordered []Segment) ([]string, error) {
	inputs := make([]string, 0, len(ordered))
	var missing []MissingSegment

	for _, seg := range ordered {
		path, err := a.segmentPath(seg)
		if err != nil {
			return nil, failure.Validation(opAssemble, err)
		}
		if path == "" || !isRegularFile(path) {
			missing = append(missing, MissingSegment{SegmentID: seg.ID, Path: path})
			continue
		}
		inputs = append(inputs, path)
	}

	if len(missing) > 0 {
		return nil, failure.Validation(opAssemble, &MissingSegmentsError{ChapterID: chapterID, Missing: missing})
	}
	return inputs, nil
}

func (a *Assembler) segmentPath(seg Segment) (string, error) {
	switch seg.Kind {
	case KindSpeech:
		return seg.AudioPath, nil
	case KindSoundEffect:
		ref := seg.SFXFile
		if ref == "" {
			ref = seg.AudioPath
		}
		if ref != "" && !filepath.IsAbs(ref) && a.sfxDir != "" {
			ref = filepath.Join(a.sfxDir, ref)
		}
		return ref, nil
	default:
		return "", fmt.Errorf("%w: %q (segment %s)", ErrUnknownKind, seg.Kind, seg.ID)
	}
}

// normalizeInputs transcodes every input that is not already in the chapter format.
func (a *Assembler) normalizeInputs(ctx context.Context, workDir string, inputs []string, progress ProgressFunc) ([]string, error) {
	out := make([]string, len(inputs))
	for i, in := range inputs {
		if f, err := media.InspectWAV(in); err == nil && f.Matches(a.sampleRate, a.channels) {
			out[i] = in
		} else {
			dst := filepath.Join(workDir, fmt.Sprintf("norm-%04d.wav", i))
			if err := a.ffmpeg.Run(ctx, opAssemble, a.transcodeArgs(in, dst)); err != nil {
				return nil, err
			}
			out[i] = dst
		}
		progress(10+60*(i+1)/len(inputs), "normalizing")
	}
	return out, nil
}

// concat writes the playlist and renders it into a temp file that replaces the chapter file.
func (a *Assembler) concat(ctx context.Context, workDir, chapterID string, inputs []string) error {
	list, err := media.WriteConcatList(workDir, inputs)
	if err != nil {
		return failure.Environment(opAssemble, err)
	}

	if err := os.MkdirAll(a.chaptersDir, 0o755); err != nil { // #nosec G301
		return failure.Environment(opAssemble, fmt.Errorf("create chapters dir: %w", err))
	}
	tmp, err := os.CreateTemp(a.chaptersDir, ".tmp-"+chapterID+"-*.wav")
	if err != nil {
		return failure.Environment(opAssemble, fmt.Errorf("create temp chapter: %w", err))
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := a.ffmpeg.Run(ctx, opAssemble, a.concatArgs(list, tmpPath)); err != nil {
		return err
	}
	if err := media.ValidateWAVFile(tmpPath); err != nil {
		return failure.Integrity(opAssemble, fmt.Errorf("concatenated output: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return failure.Cancelled(opAssemble, err)
	}
	if err := os.Rename(tmpPath, a.ChapterPath(chapterID)); err != nil {
		return failure.Environment(opAssemble, fmt.Errorf("commit chapter: %w", err))
	}
	committed = true
	return nil
}

func (a *Assembler) transcodeArgs(in, out string) []string {
	return []string{
		"-hide_banner", "-nostdin", "-y",
		"-i", in,
		"-vn",
		"-ar", strconv.Itoa(a.sampleRate),
		"-ac", strconv.Itoa(a.channels),
		"-c:a", "pcm_s16le",
		"-f", "wav",
		out,
	}
}

func (a *Assembler) concatArgs(list, out string) []string {
	return []string{
		"-hide_banner", "-nostdin", "-y",
		"-f", "concat",
		"-safe", "0",
		"-i", list,
		"-vn",
		"-ar", strconv.Itoa(a.sampleRate),
		"-ac", strconv.Itoa(a.channels),
		"-c:a", "pcm_s16le",
		"-f", "wav",
		out,
	}
}

func (a *Assembler) probe(ctx context.Context, logger *slog.Logger, path string) *float64 {
	if a.prober == nil {
		return nil
	}
	d, err := a.prober.Duration(ctx, path)
	if err != nil {
		logger.Warn("chapter duration probe failed", slog.String("error", err.Error()))
		return nil
	}
	return &d
}

func (a *Assembler) publish(ctx context.Context, logger *slog.Logger, chapterID, path string) string {
	if a.publisher == nil {
		return ""
	}
	url, err := a.publisher.PublishFile(ctx, chapterID+".wav", path)
	if err != nil {
		logger.Warn("chapter publishing failed", slog.String("error", err.Error()))
		return ""
	}
	return url
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// AsMissingSegments extracts the missing-segment list from an assembly error.
func AsMissingSegments(err error) (*MissingSegmentsError, bool) {
	var m *MissingSegmentsError
	ok := errors.As(err, &m)
	return m, ok
}
