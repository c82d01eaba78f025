package dsp

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Filter graph parse errors.
var (
	ErrUnknownFilter = errors.New("dsp: unknown filter fragment")
	ErrBadFragment   = errors.New("dsp: malformed filter fragment")
)

// fragment maps one sub-stage to one labelled ffmpeg filter instance.
// Labels (filter@label) make every fragment identifiable when parsing back.
type fragment struct {
	label  string
	filter string
	build  func(c Chain) (opts string, ok bool)
	parse  func(c *Chain, p *optionParser)
}

// fragments lists every sub-stage in the fixed chain order.
var fragments = []fragment{
	{
		label: "noise_hpf", filter: "highpass",
		build: func(c Chain) (string, bool) {
			return "f=" + num(c.Noise.HighPass.FreqHz), c.Noise.Enabled && c.Noise.HighPass.Enabled
		},
		parse: func(c *Chain, p *optionParser) {
			c.Noise.Enabled = true
			c.Noise.HighPass = HighPass{Enabled: true, FreqHz: p.float("f")}
		},
	},
	{
		label: "noise_declick", filter: "adeclick",
		build: func(c Chain) (string, bool) {
			return "", c.Noise.Enabled && c.Noise.Declick.Enabled
		},
		parse: func(c *Chain, _ *optionParser) {
			c.Noise.Enabled = true
			c.Noise.Declick.Enabled = true
		},
	},
	{
		label: "noise_deess", filter: "deesser",
		build: func(c Chain) (string, bool) {
			return "i=" + num(c.Noise.DeEsser.Intensity), c.Noise.Enabled && c.Noise.DeEsser.Enabled
		},
		parse: func(c *Chain, p *optionParser) {
			c.Noise.Enabled = true
			c.Noise.DeEsser = DeEsser{Enabled: true, Intensity: p.float("i")}
		},
	},
	{
		label: "dynamics_comp", filter: "acompressor",
		build: func(c Chain) (string, bool) {
			comp := c.Dynamics.Compressor
			parts := []string{"threshold=" + db(comp.ThresholdDB), "ratio=" + num(comp.Ratio)}
			if comp.AttackMs != 0 {
				parts = append(parts, "attack="+num(comp.AttackMs))
			}
			if comp.ReleaseMs != 0 {
				parts = append(parts, "release="+num(comp.ReleaseMs))
			}
			parts = append(parts, "makeup="+db(comp.MakeupDB))
			return strings.Join(parts, ":"), c.Dynamics.Enabled && comp.Enabled
		},
		parse: func(c *Chain, p *optionParser) {
			c.Dynamics.Enabled = true
			c.Dynamics.Compressor = Compressor{
				Enabled:     true,
				ThresholdDB: p.decibels("threshold"),
				Ratio:       p.float("ratio"),
				AttackMs:    p.optionalFloat("attack"),
				ReleaseMs:   p.optionalFloat("release"),
				MakeupDB:    p.decibels("makeup"),
			}
		},
	},
	{
		label: "dynamics_limit", filter: "alimiter",
		build: func(c Chain) (string, bool) {
			return limiterOpts(c.Dynamics.Limiter), c.Dynamics.Enabled && c.Dynamics.Limiter.Enabled
		},
		parse: func(c *Chain, p *optionParser) {
			c.Dynamics.Enabled = true
			c.Dynamics.Limiter = Limiter{Enabled: true, CeilingDB: p.decibels("limit")}
		},
	},
	{
		label: "eq_lowmid", filter: "equalizer",
		build: func(c Chain) (string, bool) {
			return bandOpts(c.EQ.LowMidCut), c.EQ.Enabled && c.EQ.LowMidCut.Enabled
		},
		parse: func(c *Chain, p *optionParser) {
			c.EQ.Enabled = true
			c.EQ.LowMidCut = p.band()
		},
	},
	{
		label: "eq_presence", filter: "equalizer",
		build: func(c Chain) (string, bool) {
			return bandOpts(c.EQ.Presence), c.EQ.Enabled && c.EQ.Presence.Enabled
		},
		parse: func(c *Chain, p *optionParser) {
			c.EQ.Enabled = true
			c.EQ.Presence = p.band()
		},
	},
	{
		label: "eq_air", filter: "highshelf",
		build: func(c Chain) (string, bool) {
			return "f=" + num(c.EQ.Air.FreqHz) + ":g=" + num(c.EQ.Air.GainDB), c.EQ.Enabled && c.EQ.Air.Enabled
		},
		parse: func(c *Chain, p *optionParser) {
			c.EQ.Enabled = true
			c.EQ.Air = Shelf{Enabled: true, FreqHz: p.float("f"), GainDB: p.float("g")}
		},
	},
	{
		label: "spatial_reverb", filter: "aecho",
		build: func(c Chain) (string, bool) {
			r := c.Spatial.Reverb
			return fmt.Sprintf("in_gain=%s:out_gain=%s:delays=%s:decays=%s",
				num(r.InGain), num(r.OutGain), num(r.DelayMs), num(r.Decay)), c.Spatial.Enabled && r.Enabled
		},
		parse: func(c *Chain, p *optionParser) {
			c.Spatial.Enabled = true
			c.Spatial.Reverb = Reverb{
				Enabled: true,
				InGain:  p.float("in_gain"),
				OutGain: p.float("out_gain"),
				DelayMs: p.float("delays"),
				Decay:   p.float("decays"),
			}
		},
	},
	{
		// extrastereo needs two channels; mono input is upmixed first.
		label: "spatial_stereo", filter: "aformat",
		build: func(c Chain) (string, bool) {
			return "channel_layouts=stereo", c.Spatial.Enabled && c.Spatial.Width.Enabled
		},
		parse: func(*Chain, *optionParser) {},
	},
	{
		label: "spatial_width", filter: "extrastereo",
		build: func(c Chain) (string, bool) {
			return "m=" + num(c.Spatial.Width.Amount), c.Spatial.Enabled && c.Spatial.Width.Enabled
		},
		parse: func(c *Chain, p *optionParser) {
			c.Spatial.Enabled = true
			c.Spatial.Width = Width{Enabled: true, Amount: p.float("m")}
		},
	},
	{
		label: "mastering_norm", filter: "loudnorm",
		build: func(c Chain) (string, bool) {
			n := c.Mastering.Normalization
			opts := "I=" + num(n.TargetLUFS) + ":TP=" + num(n.TruePeakDB)
			if n.LRA != 0 {
				opts += ":LRA=" + num(n.LRA)
			}
			return opts, c.Mastering.Enabled && n.Enabled
		},
		parse: func(c *Chain, p *optionParser) {
			c.Mastering.Enabled = true
			c.Mastering.Normalization = Normalization{
				Enabled:    true,
				TargetLUFS: p.float("I"),
				TruePeakDB: p.float("TP"),
				LRA:        p.optionalFloat("LRA"),
			}
		},
	},
	{
		label: "mastering_limit", filter: "alimiter",
		build: func(c Chain) (string, bool) {
			return limiterOpts(c.Mastering.PeakLimit), c.Mastering.Enabled && c.Mastering.PeakLimit.Enabled
		},
		parse: func(c *Chain, p *optionParser) {
			c.Mastering.Enabled = true
			c.Mastering.PeakLimit = Limiter{Enabled: true, CeilingDB: p.decibels("limit")}
		},
	},
	{
		label: "mastering_dither", filter: "aresample",
		build: func(c Chain) (string, bool) {
			return "dither_method=" + c.Mastering.Dither.Method, c.Mastering.Enabled && c.Mastering.Dither.Enabled
		},
		parse: func(c *Chain, p *optionParser) {
			c.Mastering.Enabled = true
			c.Mastering.Dither = Dither{Enabled: true, Method: p.str("dither_method")}
		},
	},
	{
		// The dithering resampler only acts on a sample format reduction.
		label: "mastering_s16", filter: "aformat",
		build: func(c Chain) (string, bool) {
			return "sample_fmts=s16", c.Mastering.Enabled && c.Mastering.Dither.Enabled
		},
		parse: func(*Chain, *optionParser) {},
	},
}

var fragmentsByLabel = func() map[string]fragment {
	m := make(map[string]fragment, len(fragments))
	for _, f := range fragments {
		m[f.label] = f
	}
	return m
}()

// BuildFilters maps the chain to one labelled filter per enabled sub-stage,
// in fixed stage order. Disabled stages contribute nothing.
func BuildFilters(c Chain) []string {
	var out []string
	for _, f := range fragments {
		opts, ok := f.build(c)
		if !ok {
			continue
		}
		s := f.filter + "@" + f.label
		if opts != "" {
			s += "=" + opts
		}
		out = append(out, s)
	}
	return out
}

// FilterGraph joins BuildFilters into an ffmpeg -af graph. It is empty when
// nothing is enabled.
func FilterGraph(c Chain) string {
	return strings.Join(BuildFilters(c), ",")
}

// ParseFilterGraph inverts FilterGraph. For any valid chain c,
// ParseFilterGraph(FilterGraph(c)) equals c.Effective().
func ParseFilterGraph(graph string) (Chain, error) {
	var c Chain
	graph = strings.TrimSpace(graph)
	if graph == "" {
		return c, nil
	}

	for _, raw := range strings.Split(graph, ",") {
		filter, label, p, err := splitFragment(raw)
		if err != nil {
			return Chain{}, err
		}
		f, ok := fragmentsByLabel[label]
		if !ok {
			return Chain{}, fmt.Errorf("%w: %q", ErrUnknownFilter, raw)
		}
		if f.filter != filter {
			return Chain{}, fmt.Errorf("%w: %q: label %s belongs to %s", ErrBadFragment, raw, label, f.filter)
		}
		f.parse(&c, p)
		if err := p.err(); err != nil {
			return Chain{}, fmt.Errorf("%w: %q: %w", ErrBadFragment, raw, err)
		}
	}
	return c, nil
}

func splitFragment(raw string) (filter, label string, p *optionParser, err error) {
	head, args, _ := strings.Cut(strings.TrimSpace(raw), "=")
	filter, label, ok := strings.Cut(head, "@")
	if !ok || filter == "" || label == "" {
		return "", "", nil, fmt.Errorf("%w: %q: missing instance label", ErrBadFragment, raw)
	}

	p = &optionParser{opts: map[string]string{}}
	if args == "" {
		return filter, label, p, nil
	}
	for _, kv := range strings.Split(args, ":") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return "", "", nil, fmt.Errorf("%w: %q: option %q", ErrBadFragment, raw, kv)
		}
		p.opts[k] = v
	}
	return filter, label, p, nil
}

// optionParser reads typed values from one fragment's key=value options and
// collects every problem it meets.
type optionParser struct {
	opts map[string]string
	errs []error
}

func (p *optionParser) err() error {
	return errors.Join(p.errs...)
}

func (p *optionParser) str(key string) string {
	v, ok := p.opts[key]
	if !ok || v == "" {
		p.errs = append(p.errs, fmt.Errorf("missing option %s", key))
	}
	return v
}

func (p *optionParser) float(key string) float64 {
	v := p.str(key)
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("option %s: %w", key, err))
	}
	return f
}

func (p *optionParser) optionalFloat(key string) float64 {
	if _, ok := p.opts[key]; !ok {
		return 0
	}
	return p.float(key)
}

func (p *optionParser) decibels(key string) float64 {
	v := p.str(key)
	if v == "" {
		return 0
	}
	trimmed, found := strings.CutSuffix(v, "dB")
	if !found {
		p.errs = append(p.errs, fmt.Errorf("option %s: %q is not in dB", key, v))
		return 0
	}
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("option %s: %w", key, err))
	}
	return f
}

func (p *optionParser) band() Band {
	if t := p.opts["t"]; t != "q" {
		p.errs = append(p.errs, fmt.Errorf("width type %q, want q", t))
	}
	return Band{Enabled: true, FreqHz: p.float("f"), Q: p.float("w"), GainDB: p.float("g")}
}

func limiterOpts(l Limiter) string {
	// level=0 disables alimiter's automatic output leveling.
	return "limit=" + db(l.CeilingDB) + ":level=0"
}

func bandOpts(b Band) string {
	return fmt.Sprintf("f=%s:t=q:w=%s:g=%s", num(b.FreqHz), num(b.Q), num(b.GainDB))
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func db(v float64) string {
	return num(v) + "dB"
}
