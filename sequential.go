// seehuhn.de/go/pdfunlock - remove password protection from PDF files
// Copyright (C) 2023  Jochen Voss <voss@seehuhn.de>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package pdfunlock

import (
	"errors"
	"io"
	"regexp"
	"strconv"
)

type FileInfo struct {
	StartPos      int64
	Size          int64
	HeaderVersion string
	Sections      []*FileSection
}

type FileSection struct {
	StartPos      int64
	XRefPos       int64
	TrailerPos    int64
	StartXRefPos  int64
	EOFPos        int64
	Objects       []*FileObject
	Catalog       *FileObject
	ObjectStreams []*FileObject
}

type FileObject struct {
	Pos        int64
	End        int64
	Number     uint32
	Generation uint16
	Broken     bool
	Type       string
	SubType    Name
}

// SequentialScan reads a PDF file sequentially, extracting information
// about the file structure and the location of indirect objects.
// This can be used to attempt to read damaged PDF files, in particular
// in cases where the cross-reference table is missing or corrupt.
func SequentialScan(r io.ReadSeeker) (*FileInfo, error) {
	ss := &seqScanner{r: r}
	err := ss.init()
	if err != nil {
		return nil, err
	}

	err = ss.CheckObjects()
	if err != nil {
		return nil, err
	}

	return ss.info, nil
}

type seqScanner struct {
	r    io.ReadSeeker
	info *FileInfo
}

func (ss *seqScanner) init() error {
	r := ss.r

	_, err := r.Seek(0, io.SeekStart)
	if err != nil {
		return err
	}
	s := newScanner(r, nil, nil)

	info := &FileInfo{}

	pos, m, err := s.find(startRegexp)
	if err == io.EOF {
		return ErrNoPDF
	} else if err != nil {
		return err
	}
	info.StartPos = pos
	info.HeaderVersion = m[1]

	section := &FileSection{}

	used := false
	inTrailer := false
	finish := func() {
		if used {
			info.Sections = append(info.Sections, section)
		}
		inTrailer = false
		used = false
		section = &FileSection{}
	}

scanLoop:
	for {
		pos, m, err = s.find(markerRegexp)
		if err == io.EOF {
			break
		} else if err != nil {
			return err
		}
		pos += countLeadingSpaces(m[0])

		switch {
		case m[2] != "":
			// We found an indirect object.
			// m is of the form ["\n1 0 obj" "1 0 obj" "1" "0"]
			n, err := strconv.ParseUint(m[2], 10, 32)
			if err != nil {
				continue scanLoop
			}
			g, err := strconv.ParseUint(m[3], 10, 16)
			if err != nil {
				continue scanLoop
			}

			if inTrailer {
				finish()
			}
			obj := &FileObject{
				Pos:        pos,
				Number:     uint32(n),
				Generation: uint16(g),
			}
			section.Objects = append(section.Objects, obj)
			used = true
		case m[1] == "xref":
			section.XRefPos = pos
			inTrailer = true
			used = true
		case m[1] == "trailer":
			section.TrailerPos = pos
			inTrailer = true
			used = true
		case m[1] == "startxref":
			section.StartXRefPos = pos
			inTrailer = true
			used = true
		case m[1] == "%%EOF":
			section.EOFPos = pos
			finish()
		default:
			panic("unreachable")
		}
	}
	finish()

	info.Size, err = getSize(r)
	if err != nil {
		return err
	}

	ss.info = info
	return nil
}

func (ss *seqScanner) CheckObjects() error {
	for _, section := range ss.info.Sections {
		for _, obj := range section.Objects {
			x, endPos, err := ss.readObject(obj)
			if err != nil {
				var mfe *MalformedFileError
				if errors.As(err, &mfe) || err == io.EOF || err == io.ErrUnexpectedEOF {
					obj.Broken = true
					continue
				}
				return err
			}
			obj.End = endPos

			switch o := x.(type) {
			case Array:
				obj.Type = "Array"
			case Bool:
				obj.Type = "Bool"
			case Dict:
				obj.Type = "Dict"
				if t, ok := o["Type"].(Name); ok {
					obj.SubType = t

					if t == "Catalog" {
						_, hasPages := o["Pages"]
						if section.Catalog == nil || hasPages {
							section.Catalog = obj
						}
					}
				}
			case Integer:
				obj.Type = "Integer"
			case Name:
				obj.Type = "Name"
			case Real:
				obj.Type = "Real"
			case Reference:
				obj.Type = "Reference"
			case *Stream:
				obj.Type = "Stream"
				if t, ok := o.Dict["Type"].(Name); ok {
					obj.SubType = t

					if t == "ObjStm" && obj.Generation == 0 {
						_, hasFirst := o.Dict["First"]
						if hasFirst {
							section.ObjectStreams = append(section.ObjectStreams, obj)
						}
					}
				}
			case String:
				obj.Type = "String"
			}
		}
	}
	return nil
}

func (ss *seqScanner) readObject(obj *FileObject) (Object, int64, error) {
	_, err := ss.r.Seek(obj.Pos, io.SeekStart)
	if err != nil {
		return nil, 0, err
	}
	dummyGetInt := func(o Object) (Integer, error) {
		if i, ok := o.(Integer); ok {
			return i, nil
		}
		return 0, errUnresolvedLength
	}
	s := newScanner(ss.r, dummyGetInt, nil)
	s.filePos = obj.Pos
	x, ref, err := s.ReadIndirectObject()
	if err != nil {
		return nil, 0, err
	}
	if ref != NewReference(obj.Number, obj.Generation) {
		return nil, 0, &MalformedFileError{
			Pos: obj.Pos,
			Err: errors.New("object identifier mismatch"),
		}
	}
	return x, s.currentPos(), nil
}

// rebuildXRef reconstructs the cross reference information of a damaged
// file from a sequential scan.  The returned trailer dictionary contains
// the values from the newest trailer found in the file.  The last return
// value lists the object streams encountered, in file order; entries for
// their members can be added with expandObjectStreams once decryption has
// been set up.
func (r *Reader) rebuildXRef() (map[uint32]*xRefEntry, Dict, []Reference, error) {
	info, err := SequentialScan(io.NewSectionReader(r.r, 0, r.size))
	if err != nil {
		return nil, nil, nil, err
	}

	numObjects := 0
	for _, section := range info.Sections {
		numObjects += len(section.Objects)
	}
	if numObjects == 0 {
		return nil, nil, nil, &MalformedFileError{
			Err: errors.New("no indirect objects found"),
		}
	}
	if numObjects > xrefMaxEntries {
		return nil, nil, nil, &LimitError{Limit: "number of objects"}
	}

	xref := make(map[uint32]*xRefEntry)
	trailer := Dict{}
	var stms []Reference
	var catalog *FileObject

	for _, section := range info.Sections {
		for _, obj := range section.Objects {
			if obj.Broken {
				continue
			}
			xref[obj.Number] = &xRefEntry{
				Pos:        obj.Pos,
				Generation: obj.Generation,
			}

			if obj.SubType == "XRef" {
				// Cross reference streams double as trailer dictionaries.
				dict, err := r.streamDictAt(obj.Pos)
				if err == nil {
					mergeTrailerKeys(trailer, dict)
				}
			}
		}
		for _, obj := range section.ObjectStreams {
			stms = append(stms, NewReference(obj.Number, 0))
		}
		if section.Catalog != nil {
			catalog = section.Catalog
		}
		if section.TrailerPos != 0 {
			dict, err := r.trailerDictAt(section.TrailerPos)
			if err == nil {
				mergeTrailerKeys(trailer, dict)
			}
		}
	}

	if _, ok := trailer["Root"]; !ok && catalog != nil {
		trailer["Root"] = NewReference(catalog.Number, catalog.Generation)
	}

	return xref, trailer, stms, nil
}

// expandObjectStreams adds cross reference entries for the members of the
// given object streams.  Top-level entries recovered from the file itself
// take precedence; between streams, later streams win.  Streams which
// cannot be decoded are skipped.
func (r *Reader) expandObjectStreams(stms []Reference) {
	for i := len(stms) - 1; i >= 0; i-- {
		sRef := stms[i]
		container, err := r.doGet(sRef, false)
		if err != nil {
			continue
		}
		stream, ok := container.(*Stream)
		if !ok {
			continue
		}
		contents, err := r.objStmScanner(stream, r.errPos(sRef))
		if err != nil {
			continue
		}
		var added, shadowed int
		for j, info := range contents.idx {
			if _, ok := r.xref[info.number]; ok {
				shadowed++
				continue
			}
			r.xref[info.number] = &xRefEntry{
				Pos:      int64(j),
				InStream: sRef,
			}
			added++
		}
		r.log.Debug("recovered object stream members",
			"stream", sRef.Number(),
			"added", added,
			"shadowed", shadowed)
	}
}

func (r *Reader) trailerDictAt(pos int64) (Dict, error) {
	s := r.scannerAt(pos)
	err := s.SkipString("trailer")
	if err != nil {
		return nil, err
	}
	err = s.SkipWhiteSpace()
	if err != nil {
		return nil, err
	}
	return s.ReadDict()
}

func (r *Reader) streamDictAt(pos int64) (Dict, error) {
	s := r.scannerAt(pos)
	obj, _, err := s.ReadIndirectObject()
	if err != nil {
		return nil, err
	}
	stream, ok := obj.(*Stream)
	if !ok {
		return nil, &MalformedFileError{
			Pos: pos,
			Err: errors.New("not a stream"),
		}
	}
	return stream.Dict, nil
}

func mergeTrailerKeys(trailer, dict Dict) {
	for _, key := range []Name{"Root", "Encrypt", "Info", "ID"} {
		if val, ok := dict[key]; ok {
			trailer[key] = val
		}
	}
}

func getSize(r io.Seeker) (int64, error) {
	return r.Seek(0, io.SeekEnd)
}

// countLeadingSpaces returns the number of leading whitespace characters in s.
func countLeadingSpaces(s string) int64 {
	var n int64
	for n < int64(len(s)) && isSpace[s[n]] {
		n++
	}
	return n
}

var (
	startRegexp = regexp.MustCompile(`%PDF-([12]\.[0-9])[^0-9]`)

	whiteSpacePat = `[\000\011\014 ]+`
	eolPat        = `(?:\r|\n|\r\n)`
	objectPat     = `([0-9]+)` + whiteSpacePat + `([0-9]+)` + whiteSpacePat + `obj`
	markerPat     = eolPat + `(` + objectPat + `|xref|trailer|startxref|%%EOF)\b`
	markerRegexp  = regexp.MustCompile(markerPat)
)
