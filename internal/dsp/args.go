package dsp

import (
	"errors"
	"strconv"
)

// ErrNoFilterGraph is returned when an argument list carries no -af option.
var ErrNoFilterGraph = errors.New("dsp: no filter graph in arguments")

// Format is the output stream shape. Zero fields keep the tool's default.
type Format struct {
	SampleRate int `json:"sampleRate"`
	Channels   int `json:"channels"`
}

// BuildArgs returns the ffmpeg argument list that renders in through chain
// into a 16-bit PCM WAV at out. -af is omitted when no stage is enabled.
func BuildArgs(in, out string, chain Chain, f Format) []string {
	args := []string{"-hide_banner", "-nostdin", "-y", "-i", in, "-vn"}
	if graph := FilterGraph(chain); graph != "" {
		args = append(args, "-af", graph)
	}
	if f.Channels > 0 {
		args = append(args, "-ac", strconv.Itoa(f.Channels))
	}
	if f.SampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(f.SampleRate))
	}
	return append(args, "-c:a", "pcm_s16le", "-f", "wav", out)
}

// ChainFromArgs recovers the chain encoded in an argument list built by BuildArgs.
// An argument list without -af decodes to the empty chain.
func ChainFromArgs(args []string) (Chain, error) {
	for i := 0; i < len(args); i++ {
		if args[i] != "-af" {
			continue
		}
		if i+1 >= len(args) {
			return Chain{}, ErrNoFilterGraph
		}
		return ParseFilterGraph(args[i+1])
	}
	return Chain{}, nil
}
