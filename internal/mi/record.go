package mi

// Kind classifies an output record by its sigil.
type Kind int

const (
	// KindResult is a '^' record completing exactly one outstanding command.
	KindResult Kind = iota
	// KindExec is a '*' asynchronous execution-state record.
	KindExec
	// KindStatus is a '+' asynchronous progress record.
	KindStatus
	// KindNotify is a '=' asynchronous notification record.
	KindNotify
	// KindConsole is a '~' stream record carrying console output text.
	KindConsole
	// KindTarget is a '@' stream record carrying target output text.
	KindTarget
	// KindLog is a '&' stream record carrying debugger log text.
	KindLog
)

// String returns the record kind name.
func (k Kind) String() string {
	switch k {
	case KindResult:
		return "result"
	case KindExec:
		return "exec"
	case KindStatus:
		return "status"
	case KindNotify:
		return "notify"
	case KindConsole:
		return "console"
	case KindTarget:
		return "target"
	case KindLog:
		return "log"
	default:
		return "unknown"
	}
}

// NoToken marks a record that carried no leading token.
const NoToken = -1

// Record is one parsed output line. Records are immutable once built.
type Record struct {
	Kind Kind

	// Token is the command token echoed back on result records, or NoToken.
	Token int

	// Class is the result or async class name (done, error, stopped, ...).
	// Empty for stream records.
	Class string

	// Fields is the ordered field list of result and async records.
	Fields []Field

	// Text is the unescaped payload of stream records.
	Text string
}

// IsStream reports whether the record is a console, target, or log stream
// record.
func (r Record) IsStream() bool {
	return r.Kind == KindConsole || r.Kind == KindTarget || r.Kind == KindLog
}

// Get returns the named top-level field value.
func (r Record) Get(name string) (Value, bool) {
	return Tuple{Fields: r.Fields}.Get(name)
}

// Str returns the named top-level field as a string, or "".
func (r Record) Str(name string) string {
	return Tuple{Fields: r.Fields}.Str(name)
}

// Int returns the named top-level field parsed as a decimal integer.
func (r Record) Int(name string) (int, bool) {
	return Tuple{Fields: r.Fields}.Int(name)
}

// Tuple returns the named top-level field as a Tuple.
func (r Record) Tuple(name string) (Tuple, bool) {
	v, ok := r.Get(name)
	if !ok {
		return Tuple{}, false
	}
	return AsTuple(v)
}

// List returns the named top-level field as a List.
func (r Record) List(name string) (List, bool) {
	v, ok := r.Get(name)
	if !ok {
		return List{}, false
	}
	return AsList(v)
}
