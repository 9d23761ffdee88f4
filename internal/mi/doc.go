// Package mi implements the codec for GDB's Machine Interface line grammar.
//
// The codec is pure: it turns one trimmed output line into a Record, and a
// command name plus arguments into an outgoing line. It performs no I/O and
// holds no session state. Token allocation and command correlation live in
// package gdb; this package only carries tokens through the wire format.
//
// The grammar is tolerant by design. A malformed field list never fails a
// line: parsing stops at the position where no rule can advance and the
// record keeps the fields recovered so far. One bad line must never abort a
// debug session.
package mi
