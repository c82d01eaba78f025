// Package notify tells observers that a chapter artifact was rebuilt.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ChapterEvent describes a freshly assembled chapter file.
type ChapterEvent struct {
	ChapterID   string    `json:"chapterId"`
	Path        string    `json:"path"`
	DurationSec *float64  `json:"durationSec,omitempty"`
	SizeBytes   int64     `json:"sizeBytes"`
	URL         string    `json:"url,omitempty"`
	Segments    int       `json:"segments"`
	At          time.Time `json:"at"`
}

// Notifier receives chapter-changed events.
type Notifier interface {
	ChapterChanged(ctx context.Context, ev ChapterEvent) error
}

// Nop discards every event.
type Nop struct{}

// ChapterChanged implements Notifier.
func (Nop) ChapterChanged(context.Context, ChapterEvent) error { return nil }

// Broadcaster fans events out to in-process subscribers and to any
// downstream notifiers. Slow subscribers miss events rather than block
// the assembler.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan ChapterEvent
	next   int
	chain  []Notifier
	logger *slog.Logger
}

// NewBroadcaster creates a Broadcaster forwarding to the given notifiers.
func NewBroadcaster(logger *slog.Logger, downstream ...Notifier) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subs:   make(map[int]chan ChapterEvent),
		chain:  downstream,
		logger: logger.With(slog.String("component", "notify")),
	}
}

// Subscribe registers a buffered subscriber. The returned func unsubscribes
// and closes the channel.
func (b *Broadcaster) Subscribe(buffer int) (<-chan ChapterEvent, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan ChapterEvent, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// ChapterChanged implements Notifier.
func (b *Broadcaster) ChapterChanged(ctx context.Context, ev ChapterEvent) error {
	b.mu.Lock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("subscriber buffer full, event dropped",
				slog.Int("subscriber", id),
				slog.String("chapter_id", ev.ChapterID),
			)
		}
	}
	b.mu.Unlock()

	var errs []error
	for _, n := range b.chain {
		if err := n.ChapterChanged(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
