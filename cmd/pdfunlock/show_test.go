// seehuhn.de/go/pdfunlock - remove password protection from PDF files
// Copyright (C) 2024  Jochen Voss <voss@seehuhn.de>
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

package main

import (
	"bytes"
	"strings"
	"testing"

	"seehuhn.de/go/pdfunlock"
)

func TestShowFile(t *testing.T) {
	buf := &bytes.Buffer{}
	w, err := pdfunlock.NewWriter(buf, nil)
	if err != nil {
		t.Fatal(err)
	}
	pagesRef := w.Alloc()
	err = w.Put(pagesRef, pdfunlock.Dict{
		"Type":  pdfunlock.Name("Pages"),
		"Kids":  pdfunlock.Array{},
		"Count": pdfunlock.Integer(0),
	})
	if err != nil {
		t.Fatal(err)
	}
	infoRef := w.Alloc()
	err = w.Put(infoRef, pdfunlock.Dict{
		"Title":  pdfunlock.TextString("Test Document"),
		"Author": pdfunlock.TextString("Test Author"),
	})
	if err != nil {
		t.Fatal(err)
	}
	meta := w.GetMeta()
	meta.Catalog.Pages = pagesRef
	meta.Trailer["Info"] = infoRef
	err = w.Close()
	if err != nil {
		t.Fatal(err)
	}

	out := &bytes.Buffer{}
	err = showFile(out, buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	text := out.String()
	for _, want := range []string{
		"PDF version:",
		"Title: Test Document",
		"Author: Test Author",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q in output:\n%s", want, text)
		}
	}
}
