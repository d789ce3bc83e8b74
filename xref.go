package pdfunlock

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"math/bits"
	"strconv"
)

// xrefMaxEntries limits the total number of cross reference entries read
// from a file.  ISO 32000-1, Annex C gives 8388607 as the maximum number
// of indirect objects in a PDF file.
const xrefMaxEntries = 8388607

func (r *Reader) findXRef() (int64, error) {
	pos, err := r.lastOccurence("startxref")
	if err != nil {
		return 0, err
	}
	s := r.scannerAt(pos + 9)

	err = s.SkipWhiteSpace()
	if err != nil {
		return 0, err
	}
	xRefPos, err := s.ReadInteger()
	if err != nil {
		return 0, err
	}

	if xRefPos <= 0 || int64(xRefPos) >= r.size {
		return 0, &MalformedFileError{
			Pos: s.currentPos(),
			Err: errors.New("invalid xref position"),
		}
	}

	return int64(xRefPos), nil
}

func (r *Reader) lastOccurence(pat string) (int64, error) {
	const chunkSize = 1024

	buf := make([]byte, chunkSize)
	k := int64(len(pat))
	pos := r.size
	for pos >= k {
		start := pos - chunkSize
		if start < 0 {
			start = 0
		}
		n, err := r.r.ReadAt(buf[:pos-start], start)
		if err != nil && err != io.EOF {
			return 0, err
		}

		idx := bytes.LastIndex(buf[:n], []byte(pat))
		if idx >= 0 {
			return start + int64(idx), nil
		}

		pos = start + k - 1
	}
	return 0, &MalformedFileError{
		Pos: 0,
		Err: errors.New("startxref not found"),
	}
}

func (r *Reader) readXRef() (map[uint32]*xRefEntry, Dict, error) {
	start, err := r.findXRef()
	if err != nil {
		return nil, nil, err
	}

	xref := make(map[uint32]*xRefEntry)
	trailer := Dict{}
	first := true
	seen := make(map[int64]bool)
	for {
		// avoid xref loops
		if seen[start] {
			break
		}
		seen[start] = true

		s := r.scannerAt(start)

		buf, err := s.Peek(4)
		if err != nil {
			return nil, nil, err
		}
		var dict Dict
		if bytes.Equal(buf, []byte("xref")) {
			tbl := make(map[uint32]*xRefEntry)
			dict, err = readXRefTable(tbl, s)
			if err != nil {
				return nil, nil, err
			}

			// Hybrid files hide the objects inside object streams from old
			// readers by listing them in a separate xref stream.  Entries
			// from this stream take precedence over the table entries of
			// the same section.
			if xRefStm, ok := dict["XRefStm"]; ok {
				zStart, ok := xRefStm.(Integer)
				if !ok {
					return nil, nil, &MalformedFileError{
						Pos: start,
						Err: errors.New("wrong type for /XRefStm"),
					}
				}
				_, err = readXRefStream(xref, r.scannerAt(int64(zStart)))
				if err != nil {
					return nil, nil, err
				}
			}

			for num, entry := range tbl {
				if xref[num] == nil {
					xref[num] = entry
				}
			}
		} else {
			if first {
				r.xrefIsStream = true
			}
			dict, err = readXRefStream(xref, s)
			if err != nil {
				return nil, nil, err
			}
		}
		first = false

		// Each key is taken from the newest trailer in which it appears.
		for _, key := range []Name{"Root", "Encrypt", "Info", "ID"} {
			if _, present := trailer[key]; present {
				continue
			}
			if val, ok := dict[key]; ok {
				trailer[key] = val
			}
		}

		prev := dict["Prev"]
		if prev == nil {
			break
		}
		prevStart, ok := prev.(Integer)
		if !ok || prevStart <= 0 || int64(prevStart) >= r.size {
			return nil, nil, &MalformedFileError{
				Pos: start,
				Err: fmt.Errorf("invalid /Prev value %s", Format(prev)),
			}
		}
		start = int64(prevStart)
	}

	return xref, trailer, nil
}

func readXRefTable(xref map[uint32]*xRefEntry, s *scanner) (Dict, error) {
	err := s.SkipString("xref")
	if err != nil {
		return nil, err
	}
	err = s.SkipWhiteSpace()
	if err != nil {
		return nil, err
	}

	for {
		buf, err := s.Peek(1)
		if err != nil {
			return nil, err
		}
		if len(buf) == 0 || buf[0] < '0' || buf[0] > '9' {
			break
		}

		start, err := s.ReadInteger()
		if err != nil {
			return nil, err
		}
		err = s.SkipWhiteSpace()
		if err != nil {
			return nil, err
		}
		length, err := s.ReadInteger()
		if err != nil {
			return nil, err
		}
		err = s.SkipWhiteSpace()
		if err != nil {
			return nil, err
		}

		if start < 0 || length < 0 {
			return nil, &MalformedFileError{
				Pos: s.currentPos(),
				Err: errors.New("invalid xref subsection"),
			}
		}
		if start > xrefMaxEntries || length > xrefMaxEntries {
			return nil, &LimitError{Limit: "number of objects"}
		}

		err = decodeXRefSection(xref, s, uint32(start), uint32(start+length))
		if err != nil {
			return nil, err
		}
		err = s.SkipWhiteSpace()
		if err != nil {
			return nil, err
		}
	}

	err = s.SkipString("trailer")
	if err != nil {
		return nil, err
	}
	err = s.SkipWhiteSpace()
	if err != nil {
		return nil, err
	}
	return s.ReadDict()
}

func decodeXRefSection(xref map[uint32]*xRefEntry, s *scanner, start, end uint32) error {
	for i := start; i < end; i++ {
		if xref[i] != nil {
			err := s.Discard(20)
			if err != nil {
				return err
			}
			continue
		}

		buf, err := s.Peek(20)
		if err != nil {
			return err
		}
		if len(buf) < 20 {
			return &MalformedFileError{
				Pos: s.currentPos(),
				Err: io.ErrUnexpectedEOF,
			}
		}

		a, err := strconv.ParseInt(string(buf[:10]), 10, 64)
		if err != nil {
			return &MalformedFileError{
				Pos: s.currentPos(),
				Err: err,
			}
		}
		b, err := strconv.ParseUint(string(buf[11:16]), 10, 16)
		if err != nil {
			// fix a common error in some PDF files
			if bytes.HasPrefix(buf, []byte("0000000000 65536 ")) {
				b = 65535
				buf[17] = 'f'
			} else {
				return &MalformedFileError{
					Pos: s.currentPos(),
					Err: err,
				}
			}
		}
		switch buf[17] {
		case 'f':
			xref[i] = &xRefEntry{Pos: -1, Generation: uint16(b)}
		case 'n':
			xref[i] = &xRefEntry{Pos: a, Generation: uint16(b)}
		default:
			return &MalformedFileError{
				Pos: s.currentPos(),
				Err: errors.New("malformed xref table"),
			}
		}

		s.bufPos += 20
	}
	return nil
}

func readXRefStream(xref map[uint32]*xRefEntry, s *scanner) (Dict, error) {
	obj, _, err := s.ReadIndirectObject()
	if err != nil {
		return nil, err
	}
	stream, ok := obj.(*Stream)
	if !ok {
		return nil, &MalformedFileError{
			Pos: s.currentPos(),
			Err: errors.New("invalid xref stream"),
		}
	}
	dict := stream.Dict

	w, ss, err := checkXRefStreamDict(dict)
	if err != nil {
		return nil, err
	}

	// The stream dictionary may only contain direct objects, so no
	// resolver is needed here.
	data, err := DecodeStream(nil, stream)
	if err != nil {
		return nil, err
	}
	err = decodeXRefStream(xref, data, w, ss)
	if err != nil {
		return nil, err
	}

	return dict, nil
}

func checkXRefStreamDict(dict Dict) ([]int, []*xRefSubSection, error) {
	size, ok := dict["Size"].(Integer)
	if !ok || size < 0 {
		return nil, nil, &MalformedFileError{
			Err: errors.New("invalid /Size in xref stream"),
		}
	}
	W, ok := dict["W"].(Array)
	if !ok || len(W) < 3 {
		return nil, nil, &MalformedFileError{
			Err: errors.New("invalid /W in xref stream"),
		}
	}
	var w []int
	for _, Wi := range W {
		wi, ok := Wi.(Integer)
		if !ok || wi < 0 || wi > 8 {
			return nil, nil, &MalformedFileError{
				Err: errors.New("invalid /W in xref stream"),
			}
		}
		w = append(w, int(wi))
	}

	var ss []*xRefSubSection
	if ind, ok := dict["Index"].(Array); ok {
		if len(ind)%2 != 0 {
			return nil, nil, &MalformedFileError{
				Err: errors.New("invalid /Index in xref stream"),
			}
		}
		for i := 0; i < len(ind); i += 2 {
			start, ok1 := ind[i].(Integer)
			count, ok2 := ind[i+1].(Integer)
			if !ok1 || !ok2 || start < 0 || count < 0 {
				return nil, nil, &MalformedFileError{
					Err: errors.New("invalid /Index in xref stream"),
				}
			}
			ss = append(ss, &xRefSubSection{int64(start), int64(count)})
		}
	} else if dict["Index"] != nil {
		return nil, nil, &MalformedFileError{
			Err: errors.New("invalid /Index in xref stream"),
		}
	} else {
		ss = append(ss, &xRefSubSection{0, int64(size)})
	}

	total := int64(0)
	for _, sec := range ss {
		if sec.Start > xrefMaxEntries || sec.Size > xrefMaxEntries {
			return nil, nil, &LimitError{Limit: "number of objects"}
		}
		total += sec.Size
		if total > xrefMaxEntries {
			return nil, nil, &LimitError{Limit: "number of objects"}
		}
	}
	return w, ss, nil
}

func decodeXRefStream(xref map[uint32]*xRefEntry, r io.Reader, w []int, ss []*xRefSubSection) error {
	wTotal := 0
	for _, wi := range w {
		wTotal += wi
	}
	buf := make([]byte, wTotal)

	w0 := w[0]
	w1 := w[1]
	w2 := w[2]
	for _, sec := range ss {
		for i := sec.Start; i < sec.Start+sec.Size; i++ {
			_, err := io.ReadFull(r, buf)
			if err != nil {
				return &MalformedFileError{Err: err}
			}

			num := uint32(i)
			if xref[num] != nil {
				continue
			}

			tp := decodeInt(buf[:w0])
			if w0 == 0 {
				tp = 1
			}
			a := decodeInt(buf[w0 : w0+w1])
			b := decodeInt(buf[w0+w1 : w0+w1+w2])
			switch tp {
			case 0:
				// free/deleted object
				// b = generation number to be used if the object is resurrected
				xref[num] = &xRefEntry{Pos: -1, Generation: uint16(b)}
			case 1:
				// used object, not compressed
				// a = byte offset of the object
				// b = generation number
				xref[num] = &xRefEntry{Pos: a, Generation: uint16(b)}
			case 2:
				// used object, stored in an object stream
				// a = object number of the object stream
				// b = index within the stream
				xref[num] = &xRefEntry{Pos: b, InStream: NewReference(uint32(a), 0)}
			}
		}
	}
	return nil
}

func decodeInt(buf []byte) (res int64) {
	for _, x := range buf {
		res = res<<8 | int64(x)
	}
	return res
}

func (pdf *Writer) writeXRefTable(xRefDict Dict) error {
	xRefDict["Size"] = Integer(pdf.nextRef)

	_, err := fmt.Fprintf(pdf.w, "xref\n0 %d\n", pdf.nextRef)
	if err != nil {
		return err
	}
	for i := uint32(0); i < pdf.nextRef; i++ {
		entry := pdf.xref[i]
		if entry != nil && entry.InStream != 0 {
			panic("object stream entries cannot occur in xref tables")
		}
		if entry.IsFree() {
			_, err = pdf.w.Write([]byte("0000000000 65535 f\r\n"))
		} else {
			_, err = fmt.Fprintf(pdf.w, "%010d %05d n\r\n",
				entry.Pos, entry.Generation)
		}
		if err != nil {
			return err
		}
	}

	_, err = pdf.w.Write([]byte("trailer\n"))
	if err != nil {
		return err
	}
	return xRefDict.PDF(pdf.w)
}

func (pdf *Writer) writeXRefStream(xRefDict Dict) error {
	// The xref stream describes its own entry, too.
	ref := pdf.Alloc()
	pdf.xref[ref.Number()] = &xRefEntry{Pos: pdf.w.pos}

	n := pdf.nextRef
	var maxField2 int64
	var maxField3 uint16
	for i := uint32(0); i < n; i++ {
		_, f2, f3 := pdf.xref[i].fields()
		if f2 > maxField2 {
			maxField2 = f2
		}
		if f3 > maxField3 {
			maxField3 = f3
		}
	}
	w2 := (bits.Len64(uint64(maxField2)) + 7) / 8
	if w2 == 0 {
		w2 = 1
	}
	w3 := (bits.Len16(maxField3) + 7) / 8
	if w3 == 0 {
		w3 = 1
	}

	data := &bytes.Buffer{}
	for i := uint32(0); i < n; i++ {
		tp, f2, f3 := pdf.xref[i].fields()
		data.WriteByte(tp)
		encodeInt64(data, uint64(f2), w2)
		encodeInt16(data, f3, w3)
	}

	zbuf := &bytes.Buffer{}
	zw := zlib.NewWriter(zbuf)
	_, err := zw.Write(data.Bytes())
	if err != nil {
		return err
	}
	err = zw.Close()
	if err != nil {
		return err
	}

	xRefDict["Type"] = Name("XRef")
	xRefDict["Size"] = Integer(n)
	xRefDict["W"] = Array{Integer(1), Integer(w2), Integer(w3)}
	xRefDict["Filter"] = Name("FlateDecode")
	xRefDict["Length"] = Integer(zbuf.Len())

	_, err = fmt.Fprintf(pdf.w, "%d 0 obj\n", ref.Number())
	if err != nil {
		return err
	}
	err = xRefDict.PDF(pdf.w)
	if err != nil {
		return err
	}
	_, err = pdf.w.Write([]byte("\nstream\n"))
	if err != nil {
		return err
	}
	_, err = pdf.w.Write(zbuf.Bytes())
	if err != nil {
		return err
	}
	_, err = pdf.w.Write([]byte("\nendstream\nendobj\n"))
	return err
}

func encodeInt64(data *bytes.Buffer, x uint64, w int) {
	for i := w - 1; i >= 0; i-- {
		data.WriteByte(byte(x >> (i * 8)))
	}
}

func encodeInt16(data *bytes.Buffer, x uint16, w int) {
	for i := w - 1; i >= 0; i-- {
		data.WriteByte(byte(x >> (i * 8)))
	}
}

type xRefSubSection struct {
	Start, Size int64
}

type xRefEntry struct {
	InStream   Reference
	Pos        int64
	Generation uint16
}

func (entry *xRefEntry) IsFree() bool {
	return entry == nil || entry.Pos < 0
}

// fields returns the type and the two data fields used to describe the
// entry in an xref stream.
func (entry *xRefEntry) fields() (byte, int64, uint16) {
	switch {
	case entry.IsFree():
		var gen uint16
		if entry != nil && entry.Generation != 65535 {
			gen = entry.Generation
		}
		return 0, 0, gen
	case entry.InStream != 0:
		return 2, int64(entry.InStream.Number()), uint16(entry.Pos)
	default:
		return 1, entry.Pos, entry.Generation
	}
}
