package qml

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies errors raised while compiling or creating a document.
type ErrorKind int

const (
	// TypeResolutionError is an unknown or ambiguous type or interface.
	TypeResolutionError ErrorKind = iota + 1
	// DuplicateIdError is an id declared twice within one component.
	DuplicateIdError
	// DuplicateMemberError is a signal, method or property name collision.
	DuplicateMemberError
	// PropertyConversionError is a literal that cannot convert to its target type.
	PropertyConversionError
	// AssignmentError is an object value incompatible with its target property.
	AssignmentError
	// StructuralError is a malformed component boundary or object tree.
	StructuralError
	// ExpressionEvaluationError is raised by a binding or signal handler.
	ExpressionEvaluationError
)

func (k ErrorKind) String() string {
	switch k {
	case TypeResolutionError:
		return "type resolution"
	case DuplicateIdError:
		return "duplicate id"
	case DuplicateMemberError:
		return "duplicate member"
	case PropertyConversionError:
		return "property conversion"
	case AssignmentError:
		return "assignment"
	case StructuralError:
		return "structure"
	case ExpressionEvaluationError:
		return "expression evaluation"
	default:
		return "unknown"
	}
}

// Error is a single diagnostic with the source location it is attributed to.
type Error struct {
	Kind        ErrorKind
	URL         string
	Line        int
	Column      int
	Description string

	// Err is the underlying cause, if any. Evaluation errors carry the error
	// returned by the expression.
	Err error
}

func (e *Error) Error() string {
	if e == nil {
		return "qml: <nil>"
	}

	var b strings.Builder
	if e.URL != "" {
		b.WriteString(e.URL)
	} else {
		b.WriteString("<unknown file>")
	}
	if e.Line > 0 {
		fmt.Fprintf(&b, ":%d", e.Line)
		if e.Column > 0 {
			fmt.Fprintf(&b, ":%d", e.Column)
		}
	}
	b.WriteString(": ")
	b.WriteString(e.Description)
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so errors.Is can be used with
// a zero-valued sentinel like &Error{Kind: DuplicateIdError}.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Description == "" || t.Description == e.Description)
}

// ErrorList is an ordered list of errors reported together. Compilation
// reports every error it finds rather than only the first.
type ErrorList []*Error

func (l ErrorList) Error() string {
	switch len(l) {
	case 0:
		return "no errors"
	case 1:
		return l[0].Error()
	default:
		return fmt.Sprintf("%s (and %d more)", l[0].Error(), len(l)-1)
	}
}

// Err returns the list as an error, or nil if it is empty.
func (l ErrorList) Err() error {
	if len(l) == 0 {
		return nil
	}
	return l
}

// HasKind reports whether any error in the list is of kind k.
func (l ErrorList) HasKind(k ErrorKind) bool {
	for _, e := range l {
		if e.Kind == k {
			return true
		}
	}
	return false
}

// AsErrors extracts the errors carried by err, if err is an ErrorList or an
// *Error.
func AsErrors(err error) (ErrorList, bool) {
	if err == nil {
		return nil, false
	}
	var list ErrorList
	if errors.As(err, &list) {
		return list, true
	}
	var single *Error
	if errors.As(err, &single) {
		return ErrorList{single}, true
	}
	return nil, false
}

func newError(kind ErrorKind, url string, loc Location, format string, args ...interface{}) *Error {
	return &Error{
		Kind:        kind,
		URL:         url,
		Line:        loc.Line,
		Column:      loc.Column,
		Description: fmt.Sprintf(format, args...),
	}
}

// conversionError builds the fixed "<kind> expected" template shared by every
// literal conversion failure.
func conversionError(url string, loc Location, expected string) *Error {
	return newError(PropertyConversionError, url, loc, "Invalid property assignment: %s expected", expected)
}

func evaluationError(url string, loc Location, err error) *Error {
	e := newError(ExpressionEvaluationError, url, loc, "%s", err)
	e.Err = err
	return e
}
