package pdfunlock

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
)

const scannerBufSize = 1024

// maxObjectDepth limits the nesting of arrays and dictionaries.
const maxObjectDepth = 256

type scanner struct {
	r            io.Reader
	buf          []byte
	used, bufPos int

	// filePos is the position of buf[0] within the file.
	filePos int64

	// origin is the position of the first byte of r within the file.
	// It is needed to translate file positions back into offsets for r.
	origin int64

	atEOF bool

	getInt func(Object) (Integer, error)

	// dec is used to decrypt strings and streams as they are read.
	// A nil value indicates an unencrypted file.
	dec *encryptInfo

	// ref is the reference of the indirect object currently being read.
	ref Reference

	// special lists objects which are exempt from decryption.
	special map[Reference]bool

	depth int
}

func newScanner(r io.Reader, getInt func(Object) (Integer, error),
	dec *encryptInfo) *scanner {
	return &scanner{
		r:      r,
		buf:    make([]byte, scannerBufSize),
		getInt: getInt,
		dec:    dec,
	}
}

// currentPos returns the current reading position within the file.
func (s *scanner) currentPos() int64 {
	return s.filePos + int64(s.bufPos)
}

func (s *scanner) ReadIndirectObject() (Object, Reference, error) {
	// Some files point the xref entries at the end of the previous line.
	// Try to fix this up by skipping any leading white space.
	err := s.SkipWhiteSpace()
	if err != nil {
		return nil, 0, err
	}

	number, err := s.ReadInteger()
	if err != nil {
		return nil, 0, err
	}
	err = s.SkipWhiteSpace()
	if err != nil {
		return nil, 0, err
	}

	generation, err := s.ReadInteger()
	if err != nil {
		return nil, 0, err
	}
	err = s.SkipWhiteSpace()
	if err != nil {
		return nil, 0, err
	}

	if number < 0 || number > 0xFFFF_FFFF || generation < 0 || generation > 0xFFFF {
		return nil, 0, &MalformedFileError{
			Pos: s.currentPos(),
			Err: errors.New("invalid object identifier"),
		}
	}
	ref := NewReference(uint32(number), uint16(generation))
	s.ref = ref

	err = s.SkipString("obj")
	if err != nil {
		return nil, 0, err
	}
	err = s.SkipWhiteSpace()
	if err != nil {
		return nil, 0, err
	}

	obj, err := s.ReadObject()
	if err != nil {
		return nil, 0, err
	}
	err = s.SkipWhiteSpace()
	if err != nil {
		return nil, 0, err
	}

	if a, ok := obj.(Integer); ok {
		// Check whether this is the start of a reference to an indirect
		// object.
		buf, err := s.Peek(6)
		if err != nil {
			return nil, 0, err
		}
		if !bytes.Equal(buf, []byte("endobj")) {
			b, err := s.ReadInteger()
			if err != nil {
				return nil, 0, err
			}
			err = s.SkipString("R")
			if err != nil {
				return nil, 0, err
			}
			err = s.SkipWhiteSpace()
			if err != nil {
				return nil, 0, err
			}

			obj = NewReference(uint32(a), uint16(b))
		}
	}

	err = s.SkipString("endobj")
	if err != nil {
		return nil, 0, err
	}

	return obj, ref, nil
}

func (s *scanner) ReadObject() (Object, error) {
	buf, err := s.Peek(5) // len("false") == 5
	if err == nil {
		// Below, we return `err` if we cannot detect an object.  Use
		// &MalformedFileError{} when there was no problem reading the input.
		if len(buf) < 5 {
			err = &MalformedFileError{Err: io.EOF}
		} else {
			err = &MalformedFileError{}
		}
	}

	switch {
	case len(buf) == 0:
		// Test this first, so that we can use buf[0] in the following cases.
		return nil, err
	case bytes.HasPrefix(buf, []byte("null")):
		s.bufPos += 4
		return nil, nil
	case bytes.HasPrefix(buf, []byte("true")):
		s.bufPos += 4
		return Bool(true), nil
	case bytes.HasPrefix(buf, []byte("false")):
		s.bufPos += 5
		return Bool(false), nil
	case buf[0] == '/':
		return s.ReadName()
	case buf[0] >= '0' && buf[0] <= '9', buf[0] == '+', buf[0] == '-', buf[0] == '.':
		return s.ReadNumber()
		// It is the caller's responsibility to check whether this is the start
		// of a reference.

	case bytes.HasPrefix(buf, []byte("<<")):
		dict, err := s.ReadDict()
		if err != nil {
			return nil, err
		}

		// check whether this is the start of a stream
		err = s.SkipWhiteSpace()
		if err != nil {
			return nil, err
		}
		buf, _ = s.Peek(6) // len("stream") == 6
		if !bytes.HasPrefix(buf, []byte("stream")) {
			return dict, nil
		}
		return s.ReadStreamData(dict)
	case buf[0] == '(':
		s.bufPos++
		return s.ReadQuotedString()
	case buf[0] == '<':
		s.bufPos++
		return s.ReadHexString()
	case buf[0] == '[':
		s.bufPos++
		return s.ReadArray()
	}
	return nil, err
}

// ReadInteger reads an integer.
func (s *scanner) ReadInteger() (Integer, error) {
	first := true
	var res []byte
	err := s.ScanBytes(func(c byte) bool {
		if first && (c == '+' || c == '-') {
			res = append(res, c)
		} else if c >= '0' && c <= '9' {
			res = append(res, c)
		} else {
			return false
		}
		first = false
		return true
	})
	if err != nil {
		return 0, err
	}

	x, err := strconv.ParseInt(string(res), 10, 64)
	if err != nil {
		return 0, &MalformedFileError{
			Pos: s.currentPos(),
			Err: err,
		}
	}
	return Integer(x), nil
}

// ReadNumber reads an integer or real number.
func (s *scanner) ReadNumber() (Object, error) {
	hasDot := false
	first := true
	var res []byte
	err := s.ScanBytes(func(c byte) bool {
		if !hasDot && c == '.' {
			hasDot = true
			res = append(res, c)
		} else if first && (c == '+' || c == '-') {
			res = append(res, c)
		} else if c >= '0' && c <= '9' {
			res = append(res, c)
		} else {
			return false
		}
		first = false
		return true
	})
	if err != nil {
		return nil, err
	}

	if hasDot {
		x, err := strconv.ParseFloat(string(res), 64)
		if err != nil {
			return nil, &MalformedFileError{Err: err}
		}
		return Real(x), nil
	}

	x, err := strconv.ParseInt(string(res), 10, 64)
	if err != nil {
		return nil, &MalformedFileError{Err: err}
	}
	return Integer(x), nil
}

// ReadQuotedString reads a ()-delimited string, starting after the opening
// bracket.
func (s *scanner) ReadQuotedString() (String, error) {
	var res []byte
	parentCount := 0
	escape := false
	ignoreLF := false
	isOctal := 0
	octalVal := byte(0)
	closed := false
	err := s.ScanBytes(func(c byte) bool {
		if ignoreLF {
			ignoreLF = false
			if c == '\n' {
				return true
			}
		}
		if isOctal > 0 {
			if c >= '0' && c <= '7' {
				octalVal = octalVal*8 + (c - '0')
				isOctal--
				if isOctal == 0 {
					res = append(res, octalVal)
				}
				return true
			}
			// fewer than three octal digits
			res = append(res, octalVal)
			isOctal = 0
		}
		if escape {
			escape = false
			switch c {
			case '\n':
				return true
			case '\r':
				ignoreLF = true
				return true
			case 'n':
				c = '\n'
			case 'r':
				c = '\r'
			case 't':
				c = '\t'
			case 'b':
				c = '\b'
			case 'f':
				c = '\f'
			}
			if c >= '0' && c <= '7' {
				isOctal = 2
				octalVal = c - '0'
				return true
			}
		} else if c == '\\' {
			escape = true
			return true
		} else if c == '(' {
			parentCount++
		} else if c == ')' {
			if parentCount > 0 {
				parentCount--
			} else {
				closed = true
				return false
			}
		} else if c == '\r' {
			c = '\n'
			ignoreLF = true
		}
		res = append(res, c)
		return true
	})
	if err != nil {
		return nil, err
	}
	if isOctal > 0 {
		res = append(res, octalVal)
	}

	if !closed {
		return nil, &MalformedFileError{
			Pos: s.currentPos(),
			Err: errors.New("unterminated string"),
		}
	}
	s.bufPos++

	return s.maybeDecrypt(res)
}

// ReadHexString reads a <>-delimited string, starting after the opening
// angled bracket.  White space between the digits is ignored, any other
// non-hex character is an error.
func (s *scanner) ReadHexString() (String, error) {
	var res []byte
	var hexVal byte
	first := true
	closed := false
	invalid := false
	err := s.ScanBytes(func(c byte) bool {
		var d byte
		switch {
		case c >= '0' && c <= '9':
			d = c - '0'
		case c >= 'A' && c <= 'F':
			d = c - 'A' + 10
		case c >= 'a' && c <= 'f':
			d = c - 'a' + 10
		case c == '>':
			closed = true
			return false
		case isSpace[c]:
			return true
		default:
			invalid = true
			return false
		}
		if first {
			hexVal = d
		} else {
			res = append(res, 16*hexVal+d)
		}
		first = !first
		return true
	})
	if err != nil {
		return nil, err
	}
	if invalid {
		return nil, &MalformedFileError{
			Pos: s.currentPos(),
			Err: errors.New("invalid hex digit"),
		}
	}
	if !closed {
		return nil, &MalformedFileError{
			Pos: s.currentPos(),
			Err: errors.New("unterminated hex string"),
		}
	}
	if !first {
		res = append(res, 16*hexVal)
	}
	s.bufPos++

	return s.maybeDecrypt(res)
}

// maybeDecrypt decrypts a string which was read from the file, if the file
// is encrypted and the current object is not exempt from encryption.
func (s *scanner) maybeDecrypt(buf []byte) (String, error) {
	if s.dec == nil || s.ref == 0 || s.special[s.ref] {
		return String(buf), nil
	}
	plain, err := s.dec.DecryptBytes(s.ref, buf)
	if err != nil {
		return nil, err
	}
	return String(plain), nil
}

// ReadName reads a PDF name object.
func (s *scanner) ReadName() (Name, error) {
	err := s.SkipString("/")
	if err != nil {
		return "", err
	}

	hex := 0
	var hexByte byte
	var res []byte
	err = s.ScanBytes(func(c byte) bool {
		if hex > 0 {
			var val byte
			if c >= '0' && c <= '9' {
				val = c - '0'
			} else if c >= 'A' && c <= 'F' {
				val = c - 'A' + 10
			} else if c >= 'a' && c <= 'f' {
				val = c - 'a' + 10
			}
			hexByte = 16*hexByte + val
			hex--
			if hex == 0 {
				res = append(res, hexByte)
			}
		} else if c == '#' {
			hexByte = 0
			hex = 2
		} else if isSpace[c] || isDelimiter[c] {
			return false
		} else {
			res = append(res, c)
		}
		return true
	})
	if err != nil {
		return "", err
	}

	return Name(res), nil
}

// ReadArray reads an array, starting after the opening "[".
func (s *scanner) ReadArray() (Array, error) {
	if s.depth >= maxObjectDepth {
		return nil, &LimitError{Limit: "object nesting too deep"}
	}
	s.depth++
	defer func() { s.depth-- }()

	var array Array
	integersSeen := 0
	for {
		err := s.SkipWhiteSpace()
		if err != nil {
			return nil, err
		}

		buf, err := s.Peek(1)
		if err != nil {
			return nil, err
		}
		if len(buf) == 0 {
			return nil, &MalformedFileError{
				Pos: s.currentPos(),
				Err: io.ErrUnexpectedEOF,
			}
		}
		if buf[0] == ']' {
			break
		}
		if integersSeen >= 2 && buf[0] == 'R' {
			s.bufPos++
			k := len(array)
			a := int64(array[k-2].(Integer))
			b := int64(array[k-1].(Integer))
			array = append(array[:k-2], NewReference(uint32(a), uint16(b)))
			integersSeen = 0
			continue
		}

		obj, err := s.ReadObject()
		if err != nil {
			return nil, err
		}

		if _, isInt := obj.(Integer); isInt {
			integersSeen++
		} else {
			integersSeen = 0
		}

		array = append(array, obj)
	}
	s.bufPos++ // we have already seen the closing "]"

	return array, nil
}

// ReadDict reads a PDF dictionary.
func (s *scanner) ReadDict() (Dict, error) {
	if s.depth >= maxObjectDepth {
		return nil, &LimitError{Limit: "object nesting too deep"}
	}
	s.depth++
	defer func() { s.depth-- }()

	err := s.SkipString("<<")
	if err != nil {
		return nil, err
	}
	err = s.SkipWhiteSpace()
	if err != nil {
		return nil, err
	}

	dict := make(map[Name]Object)
	for {
		var key Name
		key, err = s.ReadName()
		if _, ok := err.(*MalformedFileError); ok {
			break
		} else if err != nil {
			return nil, err
		}

		err = s.SkipWhiteSpace()
		if err != nil {
			return nil, err
		}

		var val Object
		val, err = s.ReadObject()
		if err != nil {
			return nil, err
		}
		err = s.SkipWhiteSpace()
		if err != nil {
			return nil, err
		}

		// If we found an integer, check whether this is a reference to an
		// indirect object.
		if a, isInt := val.(Integer); isInt {
			buf, err := s.Peek(1)
			if err != nil {
				return nil, err
			}
			if len(buf) == 0 {
				return nil, &MalformedFileError{
					Pos: s.currentPos(),
					Err: io.ErrUnexpectedEOF,
				}
			}
			if buf[0] != '/' && buf[0] != '>' {
				b, err := s.ReadInteger()
				if err != nil {
					return nil, err
				}

				err = s.SkipWhiteSpace()
				if err != nil {
					return nil, err
				}

				buf, err = s.Peek(1)
				if err != nil {
					return nil, err
				}
				if len(buf) == 0 || buf[0] != 'R' {
					return nil, &MalformedFileError{
						Pos: s.currentPos(),
						Err: errors.New("expected indirect reference"),
					}
				}
				s.bufPos++
				err = s.SkipWhiteSpace()
				if err != nil {
					return nil, err
				}

				val = NewReference(uint32(a), uint16(b))
			}
		}

		dict[key] = val
	}
	err = s.SkipString(">>")
	if err != nil {
		return nil, err
	}

	return dict, nil
}

// ReadStreamData reads the data of a PDF Stream, starting after the Dict.
func (s *scanner) ReadStreamData(dict Dict) (*Stream, error) {
	length, lengthErr := s.getInt(dict["Length"])
	if lengthErr != nil && lengthErr != errUnresolvedLength {
		return nil, lengthErr
	}
	if lengthErr == nil && length < 0 {
		return nil, &MalformedFileError{
			Pos: s.currentPos(),
			Err: errors.New("stream with negative length"),
		}
	}

	err := s.SkipWhiteSpace()
	if err != nil {
		return nil, err
	}

	err = s.SkipString("stream")
	if err != nil {
		return nil, err
	}

	buf, err := s.Peek(2)
	if err != nil {
		return nil, err
	}
	if len(buf) >= 1 && buf[0] == '\n' {
		s.bufPos++
	} else if len(buf) >= 2 && buf[0] == '\r' && buf[1] == '\n' {
		s.bufPos += 2
	} else {
		return nil, &MalformedFileError{}
	}

	start := s.currentPos()
	l := int64(length)

	var streamData io.Reader
	if origReader, ok := s.r.(io.ReaderAt); ok {
		if lengthErr != nil {
			// The /Length entry is an indirect reference we cannot
			// resolve here.  Find the end of the stream data by
			// searching for the endstream keyword instead.
			l, err = findStreamEnd(origReader, start-s.origin)
			if err != nil {
				return nil, err
			}
		}
		streamData = io.NewSectionReader(origReader, start-s.origin, l)
		err = s.Discard(l)
		if err != nil {
			return nil, err
		}
	} else {
		// the spec does not allow streams inside streams
		return nil, &MalformedFileError{}
	}

	isEncrypted := false
	if s.dec != nil && s.ref != 0 && !s.special[s.ref] &&
		s.dec.stmF != nil && !s.dec.exemptStream(dict) {
		streamData, err = s.dec.DecryptStream(s.ref, streamData)
		if err != nil {
			return nil, err
		}
		isEncrypted = true
	}

	err = s.SkipWhiteSpace()
	if err != nil {
		return nil, err
	}

	err = s.SkipString("endstream")
	if err != nil {
		return nil, err
	}

	return &Stream{
		Dict:        dict,
		R:           streamData,
		isEncrypted: isEncrypted,
	}, nil
}

// findStreamEnd locates the endstream keyword following the stream data
// which starts at the given offset.  It returns the length of the stream
// data, excluding the end-of-line marker before the keyword.
func findStreamEnd(r io.ReaderAt, start int64) (int64, error) {
	pat := []byte("endstream")
	buf := make([]byte, scannerBufSize+len(pat)-1)

	pos := start
	for {
		n, readErr := r.ReadAt(buf, pos)
		idx := bytes.Index(buf[:n], pat)
		if idx >= 0 {
			end := pos + int64(idx)

			// Remove the end-of-line marker, if present.
			tailStart := end - 2
			if tailStart < start {
				tailStart = start
			}
			tail := make([]byte, end-tailStart)
			if _, err := r.ReadAt(tail, tailStart); err != nil {
				return 0, err
			}
			if k := len(tail); k > 0 && tail[k-1] == '\n' {
				end--
				if k > 1 && tail[k-2] == '\r' {
					end--
				}
			} else if k > 0 && tail[k-1] == '\r' {
				end--
			}

			return end - start, nil
		}
		if readErr == io.EOF {
			return 0, &MalformedFileError{
				Pos: start,
				Err: errors.New("missing endstream keyword"),
			}
		} else if readErr != nil {
			return 0, readErr
		}
		pos += int64(n - (len(pat) - 1))
	}
}

func (s *scanner) readHeaderVersion() (Version, error) {
	buf, err := s.Peek(16)
	if err != nil {
		return 0, err
	}

	if !bytes.HasPrefix(buf, []byte("%PDF-")) || len(buf) < 8 {
		return 0, ErrNoPDF
	}

	version, err := ParseVersion(string(buf[5:8]))
	if err != nil {
		return 0, &MalformedFileError{Pos: 5, Err: errVersion}
	}
	if len(buf) > 8 && buf[8] >= '0' && buf[8] <= '9' {
		return 0, &MalformedFileError{Pos: 5, Err: errVersion}
	}

	err = s.SkipWhiteSpace()
	if err != nil {
		return 0, err
	}

	return version, nil
}

// Refill discards the read part of the buffer and reads as much new data as
// possible.  Once the end of file is reached, s.used will be smaller than the
// buffer size, but no error will be returned.
func (s *scanner) refill() error {
	s.filePos += int64(s.bufPos)
	copy(s.buf, s.buf[s.bufPos:s.used])
	s.used -= s.bufPos
	s.bufPos = 0

	n, err := io.ReadFull(s.r, s.buf[s.used:])
	s.used += n

	if err == io.EOF || err == io.ErrUnexpectedEOF {
		s.atEOF = true
	}
	if s.used > 0 || err == io.ErrUnexpectedEOF || err == io.EOF {
		err = nil
	}

	return err
}

// Peek returns a view of the next n bytes of input.  The function panics, if n
// is larger than scannerBufSize.  On EOF, short buffers without an error code
// will be returned.
func (s *scanner) Peek(n int) ([]byte, error) {
	if n > scannerBufSize {
		panic("peek window too large")
	}

	var err error
	if s.bufPos+n > s.used {
		err = s.refill()
	}

	if s.bufPos+n > s.used {
		return s.buf[s.bufPos:s.used], err
	}

	return s.buf[s.bufPos : s.bufPos+n], nil
}

func (s *scanner) Discard(n int64) error {
	if n < 0 {
		panic("negative offset for Discard()")
	}
	unread := int64(s.used - s.bufPos)
	if n <= unread {
		s.bufPos += int(n)
		return nil
	}

	n -= unread
	s.filePos += int64(s.used)
	s.bufPos = 0
	s.used = 0

	n, err := io.CopyN(io.Discard, s.r, n)
	s.filePos += n
	return err
}

// find reads forward until a match for the given regular expression is found.
// The function returns the file position of the match, together with the text
// of the match and all submatches.
func (s *scanner) find(needle *regexp.Regexp) (int64, []string, error) {
	const overlap = 64

	for {
		window := s.buf[s.bufPos:s.used]
		m := needle.FindSubmatchIndex(window)
		if m != nil && (s.atEOF || s.bufPos+m[1] < s.used) {
			// If the match extends to the end of the buffer, more input
			// could change the match.  In this case we read more data first
			// and try again.
			res := make([]string, 0, len(m)/2)
			for i := 0; i < len(m); i += 2 {
				if m[i] < 0 {
					res = append(res, "")
				} else {
					res = append(res, string(window[m[i]:m[i+1]]))
				}
			}
			pos := s.currentPos() + int64(m[0])
			s.bufPos += m[1]
			return pos, res, nil
		}

		if s.atEOF {
			return 0, nil, io.EOF
		}
		if n := s.used - s.bufPos - overlap; n > 0 {
			s.bufPos += n
		}
		err := s.refill()
		if err != nil {
			return 0, nil, err
		}
		if s.used == 0 {
			return 0, nil, io.EOF
		}
	}
}

func (s *scanner) ScanBytes(accept func(c byte) bool) error {
	empty := true
	for {
		for s.bufPos < s.used {
			if !accept(s.buf[s.bufPos]) {
				return nil
			}
			s.bufPos++
			empty = false
		}
		err := s.refill()
		if err == io.EOF && !empty {
			return nil
		}
		if s.used == 0 {
			return err // io.ErrUnexpectedEOF
		}
	}
}

func (s *scanner) SkipWhiteSpace() error {
	isComment := false
	return s.ScanBytes(func(c byte) bool {
		if isComment {
			if c == '\r' || c == '\n' {
				isComment = false
			}
		} else if c == '%' {
			isComment = true
		} else {
			return isSpace[c]
		}
		return true
	})
}

func (s *scanner) SkipString(pat string) error {
	patBytes := []byte(pat)
	n := len(patBytes)
	buf, err := s.Peek(n)
	if err != nil {
		return err
	}
	if !bytes.Equal(buf, patBytes) {
		return &MalformedFileError{
			Pos: s.currentPos(),
			Err: fmt.Errorf("expected %q but found %q", pat, string(buf)),
		}
	}
	s.bufPos += n
	return nil
}

func (s *scanner) SkipAfter(pat string) error {
	patBytes := []byte(pat)
	n := len(patBytes)
	if n > scannerBufSize {
		panic("SkipAfter target too large")
	}

	for {
		idx := bytes.Index(s.buf[s.bufPos:s.used], patBytes)
		if idx >= 0 {
			s.bufPos += idx + n
			return nil
		}
		s.bufPos = s.used
		err := s.refill()
		if err != nil {
			return err
		}
		if s.used == 0 {
			return io.EOF
		}
	}
}

var (
	isSpace = map[byte]bool{
		0:  true,
		9:  true,
		10: true,
		12: true,
		13: true,
		32: true,
	}
	isDelimiter = map[byte]bool{
		'(': true,
		')': true,
		'<': true,
		'>': true,
		'[': true,
		']': true,
		'{': true,
		'}': true,
		'/': true,
		'%': true,
	}
)
