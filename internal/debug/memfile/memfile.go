// seehuhn.de/go/pdfunlock - remove password protection from PDF files
// Copyright (C) 2025  Jochen Voss <voss@seehuhn.de>
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

package memfile

import (
	"errors"
	"io"
)

// MemFile is a temporary in-memory file.
//
// This type implements the [io.ReadWriteSeeker] and [io.ReaderAt]
// interfaces, so a file written through it can be handed back to
// [seehuhn.de/go/pdfunlock.NewReader] directly.
type MemFile struct {
	// Data are the file contents.
	Data []byte

	// Offset is the current file offset.
	Offset int64
}

// New creates a new, empty MemFile.
func New() *MemFile {
	return &MemFile{}
}

// Size returns the current length of the file in bytes.
func (f *MemFile) Size() int64 {
	return int64(len(f.Data))
}

// grow extends the file with zero bytes until it is at least n bytes long.
func (f *MemFile) grow(n int64) {
	if n > int64(len(f.Data)) {
		f.Data = append(f.Data, make([]byte, n-int64(len(f.Data)))...)
	}
}

// Write writes data at the current offset, extending the file as needed.
// This implements the [io.Writer] interface.
func (f *MemFile) Write(p []byte) (int, error) {
	f.grow(f.Offset + int64(len(p)))
	n := copy(f.Data[f.Offset:], p)
	f.Offset += int64(n)
	return n, nil
}

// Read reads data from the current offset.
// This implements the [io.Reader] interface.
func (f *MemFile) Read(p []byte) (int, error) {
	if f.Offset >= int64(len(f.Data)) {
		return 0, io.EOF
	}
	n := copy(p, f.Data[f.Offset:])
	f.Offset += int64(n)
	return n, nil
}

// ReadAt reads len(p) bytes starting at position off, without moving the
// file offset.  This implements the [io.ReaderAt] interface.
func (f *MemFile) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errInvalidOffset
	}
	if off >= int64(len(f.Data)) {
		return 0, io.EOF
	}
	n := copy(p, f.Data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Seek sets the offset for the next Read or Write.
// This implements the [io.Seeker] interface.
func (f *MemFile) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = f.Offset + offset
	case io.SeekEnd:
		pos = int64(len(f.Data)) + offset
	default:
		return 0, errInvalidWhence
	}
	if pos < 0 {
		return 0, errInvalidOffset
	}
	f.Offset = pos
	return pos, nil
}

var (
	errInvalidWhence = errors.New("invalid whence")
	errInvalidOffset = errors.New("invalid offset")
)
