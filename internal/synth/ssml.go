package synth

import (
	"bytes"
	"encoding/xml"
	"strconv"
	"strings"
)

// BuildSSML renders the markup sent to the provider for text spoken by v.
func BuildSSML(text string, v Voice) string {
	var b strings.Builder
	b.WriteString(`<speak version="1.0" xmlns="http://www.w3.org/2001/10/synthesis" xmlns:mstts="https://www.w3.org/2001/mstts" xml:lang="`)
	b.WriteString(escape(v.Locale()))
	b.WriteString(`"><voice name="`)
	b.WriteString(escape(v.ID))
	b.WriteString(`">`)

	if v.Style != "" {
		b.WriteString(`<mstts:express-as style="`)
		b.WriteString(escape(v.Style))
		b.WriteString(`"`)
		if v.StyleDegree > 0 {
			b.WriteString(` styledegree="`)
			b.WriteString(strconv.FormatFloat(v.StyleDegree, 'f', -1, 64))
			b.WriteString(`"`)
		}
		if v.Role != "" {
			b.WriteString(` role="`)
			b.WriteString(escape(v.Role))
			b.WriteString(`"`)
		}
		b.WriteString(`>`)
	}

	prosody := v.Rate != "" || v.Pitch != ""
	if prosody {
		b.WriteString(`<prosody`)
		if v.Rate != "" {
			b.WriteString(` rate="`)
			b.WriteString(escape(v.Rate))
			b.WriteString(`"`)
		}
		if v.Pitch != "" {
			b.WriteString(` pitch="`)
			b.WriteString(escape(v.Pitch))
			b.WriteString(`"`)
		}
		b.WriteString(`>`)
	}

	b.WriteString(escape(text))

	if prosody {
		b.WriteString(`</prosody>`)
	}
	if v.Style != "" {
		b.WriteString(`</mstts:express-as>`)
	}
	b.WriteString(`</voice></speak>`)
	return b.String()
}

func escape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
