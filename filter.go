// Copyright 2020 Jochen Voss <voss@seehuhn.de>
//
// Some code here, e.g. the pngReader, is derived from
// https://pkg.go.dev/rsc.io/pdf .  Use of this source code is governed by a
// BSD-style license, which is reproduced here:
//
//     Copyright (c) 2009 The Go Authors. All rights reserved.
//
//     Redistribution and use in source and binary forms, with or without
//     modification, are permitted provided that the following conditions are
//     met:
//
//        * Redistributions of source code must retain the above copyright
//     notice, this list of conditions and the following disclaimer.
//        * Redistributions in binary form must reproduce the above
//     copyright notice, this list of conditions and the following disclaimer
//     in the documentation and/or other materials provided with the
//     distribution.
//        * Neither the name of Google Inc. nor the names of its
//     contributors may be used to endorse or promote products derived from
//     this software without specific prior written permission.
//
//     THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS
//     "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT
//     LIMITED TO, THE IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR
//     A PARTICULAR PURPOSE ARE DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT
//     OWNER OR CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
//     SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT
//     LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR SERVICES; LOSS OF USE,
//     DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER CAUSED AND ON ANY
//     THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT
//     (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
//     OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

package pdfunlock

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"io"

	"golang.org/x/image/tiff/lzw"
)

// Filter represents a PDF stream filter.
type Filter interface {
	// Encode returns a writer which encodes data written to it into w.
	// The returned writer must be closed to flush the filter; this also
	// closes w.
	Encode(w io.WriteCloser) (io.WriteCloser, error)

	// Decode returns a reader which decodes data read from r.
	Decode(r io.Reader) (io.Reader, error)

	// Info returns the filter name and the decode parameters for use in
	// a stream dictionary.
	Info() (Name, Dict, error)
}

// DecodeStream returns a reader for the decoded content of a PDF stream.
// All filters given in the stream dictionary are undone in turn.
func DecodeStream(r Getter, x *Stream) (io.Reader, error) {
	data := x.R

	filters, parms, err := streamFilters(r, x.Dict)
	if err != nil {
		return nil, err
	}
	for i, name := range filters {
		data, err = applyFilter(data, name, parms[i])
		if err != nil {
			return nil, err
		}
	}
	return data, nil
}

// streamFilters extracts the filter chain from a stream dictionary.
// The Filter and DecodeParms entries can be either single objects or
// arrays, and any part may be an indirect reference.
func streamFilters(r Getter, dict Dict) ([]Name, []Dict, error) {
	fObj, err := Resolve(r, dict["Filter"])
	if err != nil {
		return nil, nil, err
	}
	pObj, err := Resolve(r, dict["DecodeParms"])
	if err != nil {
		return nil, nil, err
	}

	var filters []Name
	var parms []Dict

	add := func(f Object, p Object) error {
		f, err := Resolve(r, f)
		if err != nil {
			return err
		}
		if f == nil {
			return nil
		}
		name, ok := f.(Name)
		if !ok {
			return &MalformedFileError{
				Err: fmt.Errorf("invalid filter description %s", Format(f)),
			}
		}
		pDict, err := GetDict(r, p)
		if err != nil {
			return err
		}
		filters = append(filters, name)
		parms = append(parms, pDict)
		return nil
	}

	switch f := fObj.(type) {
	case nil:
		// no filters
	case Array:
		pArray, _ := pObj.(Array)
		for i, fi := range f {
			var pi Object
			if i < len(pArray) {
				pi = pArray[i]
			}
			err := add(fi, pi)
			if err != nil {
				return nil, nil, err
			}
		}
	default:
		err := add(fObj, pObj)
		if err != nil {
			return nil, nil, err
		}
	}

	return filters, parms, nil
}

func applyFilter(r io.Reader, name Name, parms Dict) (io.Reader, error) {
	switch name {
	case "FlateDecode":
		return FilterFlate(parms).Decode(r)
	case "LZWDecode":
		return FilterLZW(parms).Decode(r)
	case "ASCIIHexDecode":
		return FilterASCIIHex{}.Decode(r)
	case "ASCII85Decode":
		return FilterASCII85{}.Decode(r)
	case "RunLengthDecode":
		return &runLengthReader{r: bufio.NewReader(r)}, nil
	case "Crypt":
		// Decryption is handled separately when the stream is read,
		// so only the identity crypt filter can occur here.
		if cf, _ := parms["Name"].(Name); cf == "" || cf == "Identity" {
			return r, nil
		}
		return nil, errors.New("unsupported Crypt filter")
	default:
		return nil, fmt.Errorf("unsupported filter %q", name)
	}
}

// FilterFlate is the FlateDecode filter.  The dictionary entries are the
// filter parameters, e.g. "Predictor".
type FilterFlate Dict

// Encode implements the [Filter] interface.
func (f FilterFlate) Encode(w io.WriteCloser) (io.WriteCloser, error) {
	if p := dictInt(Dict(f), "Predictor", 1); p != 1 {
		return nil, fmt.Errorf("unsupported predictor %d for writing", p)
	}
	zw := zlib.NewWriter(w)
	return &chainedCloser{zw, w}, nil
}

// Decode implements the [Filter] interface.
func (f FilterFlate) Decode(r io.Reader) (io.Reader, error) {
	zr, err := zlib.NewReader(r)
	if err != nil {
		return nil, err
	}
	return withPredictor(Dict(f), zr)
}

// Info implements the [Filter] interface.
func (f FilterFlate) Info() (Name, Dict, error) {
	return "FlateDecode", filterParms(Dict(f)), nil
}

// FilterLZW is the LZWDecode filter.  The dictionary entries are the
// filter parameters.  Only decoding is implemented.
type FilterLZW Dict

// Encode implements the [Filter] interface.  LZW encoding is not
// supported, so this always returns an error.
func (f FilterLZW) Encode(w io.WriteCloser) (io.WriteCloser, error) {
	return nil, errors.New("LZW encoding is not supported")
}

// Decode implements the [Filter] interface.
func (f FilterLZW) Decode(r io.Reader) (io.Reader, error) {
	if dictInt(Dict(f), "EarlyChange", 1) != 1 {
		return nil, errors.New("unsupported EarlyChange value")
	}
	zr := lzw.NewReader(r, lzw.MSB, 8)
	return withPredictor(Dict(f), zr)
}

// Info implements the [Filter] interface.
func (f FilterLZW) Info() (Name, Dict, error) {
	return "LZWDecode", filterParms(Dict(f)), nil
}

func filterParms(d Dict) Dict {
	if len(d) == 0 {
		return nil
	}
	parms := make(Dict, len(d))
	for key, val := range d {
		parms[key] = val
	}
	return parms
}

func dictInt(d Dict, key Name, def int) int {
	x, ok := d[key].(Integer)
	if !ok {
		return def
	}
	return int(x)
}

// withPredictor undoes the predictor transformation described by the
// given filter parameters.
func withPredictor(parms Dict, r io.Reader) (io.Reader, error) {
	predictor := dictInt(parms, "Predictor", 1)
	if predictor == 1 {
		return r, nil
	}
	if predictor < 10 || predictor > 15 {
		return nil, fmt.Errorf("unsupported predictor %d", predictor)
	}

	columns := dictInt(parms, "Columns", 1)
	colors := dictInt(parms, "Colors", 1)
	bpc := dictInt(parms, "BitsPerComponent", 8)
	if columns < 1 || colors < 1 || bpc < 1 || bpc > 16 {
		return nil, errors.New("invalid predictor parameters")
	}
	rowBytes := (columns*colors*bpc + 7) / 8
	if rowBytes > 1<<20 {
		return nil, &LimitError{Limit: "predictor row too large"}
	}
	bpp := (colors*bpc + 7) / 8

	return &pngReader{
		r:    r,
		bpp:  bpp,
		hist: make([]byte, rowBytes),
		tmp:  make([]byte, 1+rowBytes),
	}, nil
}

// pngReader undoes the PNG row filters used by predictors 10 to 15.
// Each row of input starts with a filter type byte, followed by the
// filtered row data.
type pngReader struct {
	r    io.Reader
	bpp  int
	hist []byte
	tmp  []byte
	pend []byte
}

func (r *pngReader) Read(b []byte) (int, error) {
	n := 0
	for len(b) > 0 {
		if len(r.pend) > 0 {
			m := copy(b, r.pend)
			n += m
			b = b[m:]
			r.pend = r.pend[m:]
			continue
		}
		_, err := io.ReadFull(r.r, r.tmp)
		if err != nil {
			return n, err
		}
		cur := r.tmp[1:]
		prev := r.hist
		bpp := r.bpp
		switch r.tmp[0] {
		case 0: // None
			// pass
		case 1: // Sub
			for i := bpp; i < len(cur); i++ {
				cur[i] += cur[i-bpp]
			}
		case 2: // Up
			for i := range cur {
				cur[i] += prev[i]
			}
		case 3: // Average
			for i := range cur {
				var left byte
				if i >= bpp {
					left = cur[i-bpp]
				}
				cur[i] += byte((int(left) + int(prev[i])) / 2)
			}
		case 4: // Paeth
			for i := range cur {
				var left, diag byte
				if i >= bpp {
					left = cur[i-bpp]
					diag = prev[i-bpp]
				}
				cur[i] += paeth(left, prev[i], diag)
			}
		default:
			return n, errors.New("malformed PNG predictor data")
		}
		copy(r.hist, cur)
		r.pend = r.hist
	}
	return n, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa := abs(p - int(a))
	pb := abs(p - int(b))
	pc := abs(p - int(c))
	if pa <= pb && pa <= pc {
		return a
	} else if pb <= pc {
		return b
	}
	return c
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// FilterASCIIHex is the ASCIIHexDecode filter.
type FilterASCIIHex struct{}

// Encode implements the [Filter] interface.
func (f FilterASCIIHex) Encode(w io.WriteCloser) (io.WriteCloser, error) {
	return &ahxWriter{w: w}, nil
}

// Decode implements the [Filter] interface.
func (f FilterASCIIHex) Decode(r io.Reader) (io.Reader, error) {
	return &ahxReader{r: bufio.NewReader(r)}, nil
}

// Info implements the [Filter] interface.
func (f FilterASCIIHex) Info() (Name, Dict, error) {
	return "ASCIIHexDecode", nil, nil
}

type ahxWriter struct {
	w   io.WriteCloser
	buf []byte
	col int
}

func (w *ahxWriter) Write(p []byte) (int, error) {
	const digits = "0123456789abcdef"
	w.buf = w.buf[:0]
	for _, c := range p {
		w.buf = append(w.buf, digits[c>>4], digits[c&0x0f])
		w.col += 2
		if w.col >= 72 {
			w.buf = append(w.buf, '\n')
			w.col = 0
		}
	}
	_, err := w.w.Write(w.buf)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *ahxWriter) Close() error {
	_, err := w.w.Write([]byte(">"))
	if err != nil {
		return err
	}
	return w.w.Close()
}

type ahxReader struct {
	r    *bufio.Reader
	done bool
}

func (r *ahxReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) && !r.done {
		var vals [2]byte
		k := 0
		for k < 2 {
			c, err := r.r.ReadByte()
			if err == io.EOF || err == nil && c == '>' {
				r.done = true
				break
			} else if err != nil {
				return n, err
			}
			switch {
			case isSpace[c]:
				// pass
			case c >= '0' && c <= '9':
				vals[k] = c - '0'
				k++
			case c >= 'A' && c <= 'F':
				vals[k] = c - 'A' + 10
				k++
			case c >= 'a' && c <= 'f':
				vals[k] = c - 'a' + 10
				k++
			default:
				return n, errors.New("invalid character in ASCIIHex stream")
			}
		}
		if k == 0 {
			break
		}
		// a missing final digit is treated as 0
		p[n] = vals[0]<<4 | vals[1]
		n++
	}
	if n == 0 && r.done {
		return 0, io.EOF
	}
	return n, nil
}

// FilterASCII85 is the ASCII85Decode filter.
type FilterASCII85 struct{}

// Encode implements the [Filter] interface.
func (f FilterASCII85) Encode(w io.WriteCloser) (io.WriteCloser, error) {
	return &ascii85Writer{
		w:   w,
		buf: make([]byte, 0, 80),
	}, nil
}

// Decode implements the [Filter] interface.
func (f FilterASCII85) Decode(r io.Reader) (io.Reader, error) {
	return &ascii85Reader{r: r}, nil
}

// Info implements the [Filter] interface.
func (f FilterASCII85) Info() (Name, Dict, error) {
	return "ASCII85Decode", nil, nil
}

type ascii85Reader struct {
	r              io.Reader
	immediateError error
	delayedError   error
	buf            [512]byte
	outbuf         [4]byte
	leftover       []byte
	pos, nbuf      int
	v              uint32
	k              int
	isEnd          bool
}

func (r *ascii85Reader) Read(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}
	if r.immediateError != nil {
		return 0, r.immediateError
	}

	if len(r.leftover) > 0 {
		n = copy(p, r.leftover)
		r.leftover = r.leftover[n:]
	}

	for n < len(p) {
		// get the next input byte
		for r.pos == r.nbuf && r.delayedError == nil {
			r.nbuf, r.delayedError = r.r.Read(r.buf[:])
			r.pos = 0

			if r.delayedError == io.EOF {
				r.delayedError = io.ErrUnexpectedEOF
			}
		}
		if r.pos == r.nbuf {
			r.immediateError = r.delayedError
			return n, r.immediateError
		}
		c := r.buf[r.pos]
		r.pos++

		// "~" can only be the first part of the end marker "~>"
		if r.isEnd {
			if c == '>' {
				r.immediateError = io.EOF
			} else {
				r.immediateError = errors.New("invalid end marker in ASCII85 stream")
			}
			return n, r.immediateError
		}

		// all whitespace characters are ignored
		if isSpace[c] {
			continue
		}

		// check for invalid characters
		if c >= '!' && c < '!'+85 {
			r.v = r.v*85 + uint32(c-'!')
			r.k++
		} else if r.k == 0 && c == 'z' {
			r.v = 0
			r.k = 5
		} else if c == '~' {
			switch r.k {
			case 0:
				// pass
			case 1:
				r.immediateError = errors.New("unexpected end marker in ASCII85 stream")
				return n, r.immediateError
			default:
				for i := r.k; i < 5; i++ {
					r.v = r.v*85 + 84
				}
				r.outbuf[0] = byte(r.v >> 24)
				r.outbuf[1] = byte(r.v >> 16)
				r.outbuf[2] = byte(r.v >> 8)
				r.outbuf[3] = byte(r.v)
				l := copy(p[n:], r.outbuf[:r.k-1])
				n += l
				if l < r.k-1 {
					r.leftover = r.outbuf[l : r.k-1]
				}
			}
			r.isEnd = true
			continue
		} else {
			r.immediateError = errors.New("invalid character in ASCII85 stream")
			return n, r.immediateError
		}

		if r.k == 5 {
			r.outbuf[0] = byte(r.v >> 24)
			r.outbuf[1] = byte(r.v >> 16)
			r.outbuf[2] = byte(r.v >> 8)
			r.outbuf[3] = byte(r.v)
			r.k = 0
			r.v = 0

			l := copy(p[n:], r.outbuf[:])
			n += l
			if l < 4 {
				r.leftover = r.outbuf[l:]
			}
		}
	}
	return n, r.immediateError
}

type ascii85Writer struct {
	w   io.WriteCloser
	buf []byte
	v   uint32
	k   int
}

func (w *ascii85Writer) Write(p []byte) (n int, err error) {
	for n, b := range p {
		w.v = w.v<<8 | uint32(b)
		w.k++
		if w.k == 4 {
			if cap(w.buf) < len(w.buf)+8 { // space for "xxxxx~>\n"
				err = w.flush()
				if err != nil {
					return n, err
				}
			}

			v := w.v
			if v == 0 {
				w.buf = append(w.buf, 'z')
			} else {
				c4 := byte(v%85) + '!'
				v /= 85
				c3 := byte(v%85) + '!'
				v /= 85
				c2 := byte(v%85) + '!'
				v /= 85
				c1 := byte(v%85) + '!'
				v /= 85
				c0 := byte(v%85) + '!'
				w.buf = append(w.buf, c0, c1, c2, c3, c4)
			}

			w.v = 0
			w.k = 0
		}
	}
	return len(p), nil
}

func (w *ascii85Writer) Close() error {
	if w.k != 0 {
		v := w.v << ((4 - w.k) * 8)
		var c [5]byte
		for i := 4; i >= 0; i-- {
			c[i] = byte(v%85) + '!'
			v /= 85
		}
		w.buf = append(w.buf, c[:w.k+1]...)
		w.v = 0
		w.k = 0
	}
	w.buf = append(w.buf, '~', '>')
	err := w.flush()
	if err != nil {
		return err
	}
	return w.w.Close()
}

func (w *ascii85Writer) flush() error {
	w.buf = append(w.buf, '\n')
	_, err := w.w.Write(w.buf)
	if err != nil {
		return err
	}
	w.buf = w.buf[:0]
	return nil
}

type runLengthReader struct {
	r    *bufio.Reader
	pend []byte
	done bool
}

func (r *runLengthReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) && !r.done {
		if len(r.pend) == 0 {
			err := r.fill()
			if err != nil {
				return n, err
			}
			continue
		}
		m := copy(p[n:], r.pend)
		n += m
		r.pend = r.pend[m:]
	}
	if n == 0 && r.done {
		return 0, io.EOF
	}
	return n, nil
}

func (r *runLengthReader) fill() error {
	l, err := r.r.ReadByte()
	if err == io.EOF {
		// tolerate a missing end-of-data marker
		r.done = true
		return nil
	} else if err != nil {
		return err
	}

	switch {
	case l == 128:
		r.done = true
	case l < 128:
		buf := make([]byte, int(l)+1)
		_, err := io.ReadFull(r.r, buf)
		if err != nil {
			return err
		}
		r.pend = buf
	default:
		c, err := r.r.ReadByte()
		if err != nil {
			return err
		}
		r.pend = bytes.Repeat([]byte{c}, 257-int(l))
	}
	return nil
}

// chainedCloser closes two writers in turn.
type chainedCloser struct {
	io.WriteCloser
	next io.Closer
}

func (c *chainedCloser) Close() error {
	err := c.WriteCloser.Close()
	if err != nil {
		return err
	}
	return c.next.Close()
}

type errorReader struct {
	err error
}

func (e *errorReader) Read([]byte) (int, error) {
	return 0, e.err
}
