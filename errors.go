package pdfunlock

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	errVersion = errors.New("unsupported PDF version")

	errCorrupted       = &MalformedFileError{Err: errors.New("corrupted encrypted data")}
	errInvalidPassword = errors.New("password cannot be encoded")

	// errUnresolvedLength signals that a stream /Length entry refers to an
	// indirect object which the current getInt function cannot resolve.
	errUnresolvedLength = errors.New("unresolved stream length")

	// ErrNoPDF is returned when no PDF header could be found in the input.
	ErrNoPDF = errors.New("PDF header not found")
)

// MalformedFileError indicates that the PDF file could not be parsed.
type MalformedFileError struct {
	Pos int64
	Err error
}

func (err *MalformedFileError) Error() string {
	middle := ""
	if err.Err != nil {
		middle = ": " + err.Err.Error()
	}
	tail := ""
	if err.Pos > 0 {
		tail = " (at byte " + strconv.FormatInt(err.Pos, 10) + ")"
	}
	return "not a valid PDF file" + middle + tail
}

func (err *MalformedFileError) Unwrap() error {
	return err.Err
}

// AuthenticationError indicates that authentication against an encrypted
// document failed, either because no password was supplied or because all
// supplied passwords were wrong.
type AuthenticationError struct {
	ID []byte
}

func (err *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed (ID %x)", err.ID)
}

// UnsupportedHandlerError is returned when a file uses an encryption scheme
// outside the standard security handler's supported range.
type UnsupportedHandlerError struct {
	Filter Name
	V, R   int
}

func (err *UnsupportedHandlerError) Error() string {
	if err.Filter != "" && err.Filter != "Standard" {
		return fmt.Sprintf("unsupported security handler /%s", string(err.Filter))
	}
	return fmt.Sprintf("unsupported encryption scheme (V=%d, R=%d)", err.V, err.R)
}

// LimitError indicates that one of the reader's safety limits was exceeded.
// The limits guard against malformed or hostile files which would otherwise
// consume unbounded amounts of memory or processing time.
type LimitError struct {
	Limit string
}

func (err *LimitError) Error() string {
	return "safety limit exceeded: " + err.Limit
}
