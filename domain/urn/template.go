package urn

import (
	"fmt"
	"strings"
)

// A Template is a compiled URN template: literal text interleaved with
// {param} placeholders. Substitution is literal with URN-safe escaping, so
// equal inputs always produce byte-identical URNs.
type Template struct {
	raw      string
	segments []segment
	params   []string
	canParse bool
}

type segment struct {
	literal string
	param   string // non-empty for placeholder segments
}

// ParseTemplate compiles a URN template string.
func ParseTemplate(raw string) (*Template, error) {
	if raw == "" {
		return nil, fmt.Errorf("urn template is empty")
	}

	t := &Template{raw: raw}
	rest := raw
	for len(rest) > 0 {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			t.segments = append(t.segments, segment{literal: rest})
			break
		}
		if open > 0 {
			t.segments = append(t.segments, segment{literal: rest[:open]})
		}
		closing := strings.IndexByte(rest[open:], '}')
		if closing < 0 {
			return nil, fmt.Errorf("urn template %q has an unterminated placeholder", raw)
		}
		name := rest[open+1 : open+closing]
		if name == "" {
			return nil, fmt.Errorf("urn template %q has an empty placeholder", raw)
		}
		if strings.ContainsAny(name, "{} ") {
			return nil, fmt.Errorf("urn template %q has a malformed placeholder %q", raw, name)
		}
		t.segments = append(t.segments, segment{param: name})
		t.params = append(t.params, name)
		rest = rest[open+closing+1:]
	}

	t.canParse = t.computeParseable()
	return t, nil
}

// computeParseable decides whether the template supports unambiguous reverse
// parsing: every placeholder must be separated from the next by a non-empty
// literal. The final placeholder may run to the end of the URN.
func (t *Template) computeParseable() bool {
	for i := 0; i < len(t.segments)-1; i++ {
		if t.segments[i].param != "" && t.segments[i+1].param != "" {
			return false
		}
	}
	return len(t.params) > 0
}

// Raw returns the template source string.
func (t *Template) Raw() string { return t.raw }

// Params returns the placeholder names in order of appearance.
func (t *Template) Params() []string { return t.params }

// CanParse reports whether the template supports reverse parsing.
func (t *Template) CanParse() bool { return t.canParse }

// reserved characters of the template grammar, escaped in substituted values
// so they never collide with template punctuation.
const reserved = "(),:"

// escapeValue percent-encodes reserved characters and the escape byte.
func escapeValue(v string) string {
	if !strings.ContainsAny(v, reserved+"%") {
		return v
	}
	var b strings.Builder
	b.Grow(len(v) + 8)
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c == '%' || strings.IndexByte(reserved, c) >= 0 {
			fmt.Fprintf(&b, "%%%02X", c)
		} else {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// unescapeValue reverses escapeValue; malformed escapes pass through.
func unescapeValue(v string) string {
	if !strings.ContainsRune(v, '%') {
		return v
	}
	var b strings.Builder
	b.Grow(len(v))
	for i := 0; i < len(v); i++ {
		if v[i] == '%' && i+3 <= len(v) {
			var c byte
			if _, err := fmt.Sscanf(v[i+1:i+3], "%02X", &c); err == nil {
				b.WriteByte(c)
				i += 2
				continue
			}
		}
		b.WriteByte(v[i])
	}
	return b.String()
}

// expand substitutes values into the template. Every placeholder must be
// present in values.
func (t *Template) expand(values map[string]string) (string, error) {
	var b strings.Builder
	b.Grow(len(t.raw) + 16)
	for _, seg := range t.segments {
		if seg.param == "" {
			b.WriteString(seg.literal)
			continue
		}
		v, ok := values[seg.param]
		if !ok {
			return "", fmt.Errorf("missing template parameter %q", seg.param)
		}
		b.WriteString(escapeValue(v))
	}
	return b.String(), nil
}

// match reverse-parses a URN against the template. Only valid when
// CanParse() is true.
func (t *Template) match(urn string) (map[string]string, error) {
	values := make(map[string]string, len(t.params))
	rest := urn
	for i := 0; i < len(t.segments); i++ {
		seg := t.segments[i]
		if seg.param == "" {
			if !strings.HasPrefix(rest, seg.literal) {
				return nil, fmt.Errorf("urn %q does not match template %q", urn, t.raw)
			}
			rest = rest[len(seg.literal):]
			continue
		}
		// Placeholder: consume up to the next literal, or the remainder
		// when this is the final segment.
		if i == len(t.segments)-1 {
			values[seg.param] = unescapeValue(rest)
			rest = ""
			continue
		}
		next := t.segments[i+1].literal
		idx := strings.Index(rest, next)
		if idx < 0 {
			return nil, fmt.Errorf("urn %q does not match template %q", urn, t.raw)
		}
		values[seg.param] = unescapeValue(rest[:idx])
		rest = rest[idx:]
	}
	if rest != "" {
		return nil, fmt.Errorf("urn %q has trailing content for template %q", urn, t.raw)
	}
	return values, nil
}
