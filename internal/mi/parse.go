package mi

import (
	"fmt"
	"strings"
)

// Prompt is the literal ready-marker line emitted by the debugger after each
// batch of output.
const Prompt = "(gdb)"

// IsPrompt reports whether a raw output line is the ready-marker prompt.
func IsPrompt(line string) bool {
	return strings.TrimSpace(line) == Prompt
}

// ParseLine parses one output line into a Record.
//
// ok is false for lines that carry no record: blank lines, the prompt, and
// lines with an unrecognized sigil. err is non-nil when a field list stopped
// making progress; the returned record still carries everything parsed up to
// that point, and callers are expected to log the error and keep the record.
func ParseLine(line string) (rec Record, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" || line == Prompt {
		return Record{}, false, nil
	}

	token := NoToken
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i > 0 && i < len(line) {
		n := 0
		for _, c := range line[:i] {
			n = n*10 + int(c-'0')
		}
		token = n
	} else {
		i = 0
	}
	if i >= len(line) {
		return Record{}, false, nil
	}

	sigil := line[i]
	rest := line[i+1:]

	switch sigil {
	case '^', '*', '+', '=':
		rec, err = parseClassRecord(sigil, token, rest)
		return rec, true, err
	case '~', '@', '&':
		kind := KindConsole
		switch sigil {
		case '@':
			kind = KindTarget
		case '&':
			kind = KindLog
		}
		return Record{Kind: kind, Token: NoToken, Text: parseStreamText(rest)}, true, nil
	default:
		return Record{}, false, nil
	}
}

// parseClassRecord parses result and async records: a class name followed by
// an optional comma-separated field list.
func parseClassRecord(sigil byte, token int, rest string) (Record, error) {
	kind := KindResult
	switch sigil {
	case '*':
		kind = KindExec
	case '+':
		kind = KindStatus
	case '=':
		kind = KindNotify
	}

	// The class is the run of lowercase letters and hyphens.
	end := 0
	for end < len(rest) && (rest[end] == '-' || (rest[end] >= 'a' && rest[end] <= 'z')) {
		end++
	}
	rec := Record{Kind: kind, Token: token, Class: rest[:end]}

	rest = rest[end:]
	if strings.HasPrefix(rest, ",") {
		fields, err := parseFieldList(rest[1:])
		rec.Fields = fields
		return rec, err
	}
	return rec, nil
}

// parseStreamText unquotes and unescapes the payload of a stream record.
func parseStreamText(rest string) string {
	rest = strings.TrimSpace(rest)
	if len(rest) >= 2 && rest[0] == '"' && rest[len(rest)-1] == '"' {
		rest = rest[1 : len(rest)-1]
	}
	return Unescape(rest)
}

// parser walks a field list with an explicit cursor. Every production must
// advance the cursor; a position that advances nothing aborts the parse.
type parser struct {
	s   string
	pos int
}

func parseFieldList(s string) ([]Field, error) {
	p := &parser{s: s}
	fields, err := p.fields(0)
	return fields, err
}

// fields parses name=value pairs separated by commas until the closing
// delimiter (0 for end of input).
func (p *parser) fields(close byte) ([]Field, error) {
	var out []Field
	for p.pos < len(p.s) {
		if close != 0 && p.s[p.pos] == close {
			return out, nil
		}
		start := p.pos

		name, ok := p.fieldName()
		if !ok {
			return out, p.stuck(start)
		}
		val, err := p.value()
		if err != nil {
			return out, err
		}
		out = append(out, Field{Name: name, Value: val})

		if p.pos == start {
			return out, p.stuck(start)
		}
		if p.pos < len(p.s) && p.s[p.pos] == ',' {
			p.pos++
		}
	}
	return out, nil
}

// fieldName consumes "name=" and returns the name.
func (p *parser) fieldName() (string, bool) {
	start := p.pos
	i := p.pos
	if i >= len(p.s) || !isNameStart(p.s[i]) {
		return "", false
	}
	i++
	for i < len(p.s) && isNameChar(p.s[i]) {
		i++
	}
	if i >= len(p.s) || p.s[i] != '=' {
		p.pos = start
		return "", false
	}
	name := p.s[start:i]
	p.pos = i + 1
	return name, true
}

// value parses one value: quoted string, tuple, list, or bare scalar.
func (p *parser) value() (Value, error) {
	if p.pos >= len(p.s) {
		return String(""), nil
	}
	switch p.s[p.pos] {
	case '"':
		return p.quoted()
	case '{':
		return p.tuple()
	case '[':
		return p.list()
	default:
		return p.bare(), nil
	}
}

// quoted parses a double-quoted string with the escape set \n \r \t \" \\.
func (p *parser) quoted() (Value, error) {
	i := p.pos + 1
	var b strings.Builder
	for i < len(p.s) {
		c := p.s[i]
		if c == '\\' && i+1 < len(p.s) {
			b.WriteByte(unescapeByte(p.s[i+1]))
			i += 2
			continue
		}
		if c == '"' {
			p.pos = i + 1
			return String(b.String()), nil
		}
		b.WriteByte(c)
		i++
	}
	// Unterminated string: consume the remainder rather than looping.
	p.pos = len(p.s)
	return String(b.String()), nil
}

// tuple parses {field,field,...}.
func (p *parser) tuple() (Value, error) {
	p.pos++ // '{'
	fields, err := p.fields('}')
	if p.pos < len(p.s) && p.s[p.pos] == '}' {
		p.pos++
	}
	return Tuple{Fields: fields}, err
}

// list parses [...] whose elements are bare values or name=value pairs.
// Named pairs are wrapped into single-field tuples so consumers only ever
// see the three value tags.
func (p *parser) list() (Value, error) {
	p.pos++ // '['
	var items []Value
	for p.pos < len(p.s) {
		if p.s[p.pos] == ']' {
			p.pos++
			return List{Items: items}, nil
		}
		start := p.pos

		if name, ok := p.fieldName(); ok {
			val, err := p.value()
			if err != nil {
				return List{Items: items}, err
			}
			items = append(items, Tuple{Fields: []Field{{Name: name, Value: val}}})
		} else {
			val, err := p.value()
			if err != nil {
				return List{Items: items}, err
			}
			items = append(items, val)
		}

		if p.pos == start {
			return List{Items: items}, p.stuck(start)
		}
		if p.pos < len(p.s) && p.s[p.pos] == ',' {
			p.pos++
		}
	}
	return List{Items: items}, nil
}

// bare consumes an unquoted scalar up to the next delimiter.
func (p *parser) bare() Value {
	i := p.pos
	for i < len(p.s) {
		c := p.s[i]
		if c == ',' || c == '}' || c == ']' {
			break
		}
		i++
	}
	v := strings.TrimSpace(p.s[p.pos:i])
	p.pos = i
	return String(v)
}

func (p *parser) stuck(at int) error {
	return fmt.Errorf("field list stuck at position %d: %q", at, truncate(p.s[at:], 24))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNameChar(c byte) bool {
	return isNameStart(c) || c == '-' || (c >= '0' && c <= '9')
}

// Unescape replaces the escape sequences \n \r \t \" \\ with their literal
// characters.
func Unescape(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			b.WriteByte(unescapeByte(s[i+1]))
			i++
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// Escape is the inverse of Unescape.
func Escape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func unescapeByte(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	default:
		// \" and \\ resolve to the character itself; unknown escapes pass
		// the character through.
		return c
	}
}
