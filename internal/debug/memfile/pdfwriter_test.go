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
	"io"
	"strings"
	"testing"

	"seehuhn.de/go/pdfunlock"
)

// TestPDFWriterRoundTrip verifies that a file written using [NewPDFWriter]
// can be opened again, specifically testing stream operations.
func TestPDFWriterRoundTrip(t *testing.T) {
	writer, m := NewPDFWriter(pdfunlock.V2_0, nil)

	content := "hello world"
	stream := &pdfunlock.Stream{
		Dict: pdfunlock.Dict{
			"Length": pdfunlock.Integer(len(content)),
		},
		R: strings.NewReader(content),
	}

	ref := writer.Alloc()
	err := writer.Put(ref, stream)
	if err != nil {
		t.Fatal(err)
	}

	err = writer.Close()
	if err != nil {
		t.Fatal(err)
	}

	r, err := pdfunlock.NewReader(m, m.Size(), nil)
	if err != nil {
		t.Fatal(err)
	}

	streamObj, err := pdfunlock.GetStream(r, ref)
	if err != nil {
		t.Fatal(err)
	}
	if streamObj == nil {
		t.Fatal("stream object is nil")
	}

	stm, err := pdfunlock.DecodeStream(r, streamObj)
	if err != nil {
		t.Fatal(err)
	}
	readContent, err := io.ReadAll(stm)
	if err != nil {
		t.Fatal(err)
	}

	if string(readContent) != content {
		t.Errorf("content mismatch: got %q, want %q", string(readContent), content)
	}
}
