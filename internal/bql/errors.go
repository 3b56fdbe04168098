package bql

import (
	"errors"
	"fmt"
	"strings"
)

// Lexer errors.
var (
	ErrUnterminatedString = errors.New("unterminated string")
	ErrUnterminatedRegex  = errors.New("unterminated regex")
)

// Parser errors.
var (
	ErrEmptyQuery      = errors.New("empty query")
	ErrUnmatchedParen  = errors.New("unmatched parenthesis")
	ErrUnexpectedToken = errors.New("unexpected token")
	ErrUnexpectedEOF   = errors.New("unexpected end of query")
	ErrTooDeep         = errors.New("query nested too deeply")
)

// Compile errors.
var (
	ErrEmptyGroup = errors.New("group has no conditions")
)

// LexError reports an unterminated quoted string or regex literal.
type LexError struct {
	Pos int   // byte offset of the opening delimiter
	Err error // ErrUnterminatedString or ErrUnterminatedRegex
}

func (e *LexError) Error() string {
	return fmt.Sprintf("lex error at position %d: %v", e.Pos, e.Err)
}

func (e *LexError) Unwrap() error { return e.Err }

// SyntaxError reports malformed grammar. Pos is the byte offset of the
// offending token, or len(input) at end of input.
type SyntaxError struct {
	Pos      int
	Expected string
	Found    string
	Err      error
}

func (e *SyntaxError) Error() string {
	if e.Found == "" {
		return fmt.Sprintf("syntax error at position %d: expected %s", e.Pos, e.Expected)
	}
	return fmt.Sprintf("syntax error at position %d: expected %s, found %q", e.Pos, e.Expected, e.Found)
}

func (e *SyntaxError) Unwrap() error { return e.Err }

// UnresolvedNameError describes a reference to a named query that is not in
// the current library. Normalize reports these as values, not failures.
type UnresolvedNameError struct {
	Name string
}

func (e *UnresolvedNameError) Error() string {
	return fmt.Sprintf("unresolved named query %q", e.Name)
}

// CyclicReferenceError is returned when expanding Name would require
// expanding Name again. Chain is the expansion stack ending in Name.
type CyclicReferenceError struct {
	Name  string
	Chain []string
}

func (e *CyclicReferenceError) Error() string {
	if len(e.Chain) == 0 {
		return fmt.Sprintf("named query %q references itself", e.Name)
	}
	return fmt.Sprintf("named query %q references itself: %s", e.Name, strings.Join(e.Chain, " -> "))
}

// UnknownFieldError is returned by Compile for a field missing from the type map.
type UnknownFieldError struct {
	Field string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown field %q", e.Field)
}

// UnsupportedOperatorError is returned by Compile when an operator does not
// apply to the declared type of its field.
type UnsupportedOperatorError struct {
	Field    string
	Operator Operator
	Type     FieldType
}

func (e *UnsupportedOperatorError) Error() string {
	return fmt.Sprintf("operator %q is not supported on %s field %q", e.Operator, e.Type, e.Field)
}

// InvalidValueError is returned by Compile when a value cannot be used with
// the declared type of its field.
type InvalidValueError struct {
	Field  string
	Type   FieldType
	Value  string
	Reason string
}

func (e *InvalidValueError) Error() string {
	msg := fmt.Sprintf("invalid value %s for %s field %q", e.Value, e.Type, e.Field)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// TooDeepError is returned when a tree or input exceeds the nesting limit.
type TooDeepError struct {
	Limit int
}

func (e *TooDeepError) Error() string {
	return fmt.Sprintf("query nested deeper than %d levels", e.Limit)
}

func (e *TooDeepError) Unwrap() error { return ErrTooDeep }
