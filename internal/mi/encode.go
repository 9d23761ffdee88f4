package mi

import "strconv"

// EncodeCommand builds the outgoing wire form of a command:
// "<token>-<name>" with a space-separated argument tail when args is
// non-empty. The caller appends the newline when writing.
func EncodeCommand(token int, name, args string) string {
	s := strconv.Itoa(token) + "-" + name
	if args != "" {
		s += " " + args
	}
	return s
}

// QuoteArg wraps an argument in double quotes with the MI escape set applied,
// for arguments that may contain spaces or quotes (paths, expressions).
func QuoteArg(arg string) string {
	return `"` + Escape(arg) + `"`
}
