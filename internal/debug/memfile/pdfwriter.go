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
	"seehuhn.de/go/pdfunlock"
)

// NewPDFWriter creates a PDF writer which writes to a [MemFile].  The
// document catalog already refers to a minimal page tree, so that after
// [pdfunlock.Writer.Close] the MemFile contents form a complete PDF file
// which can be opened using [pdfunlock.NewReader].
//
// The version v overrides any version given in opt.  The function panics if
// the writer cannot be created.
func NewPDFWriter(v pdfunlock.Version, opt *pdfunlock.WriterOptions) (*pdfunlock.Writer, *MemFile) {
	var wOpt pdfunlock.WriterOptions
	if opt != nil {
		wOpt = *opt
	}
	wOpt.Version = v

	f := New()
	w, err := pdfunlock.NewWriter(f, &wOpt)
	if err != nil {
		panic(err)
	}

	pagesRef := w.Alloc()
	err = w.Put(pagesRef, pdfunlock.Dict{
		"Type":  pdfunlock.Name("Pages"),
		"Kids":  pdfunlock.Array{},
		"Count": pdfunlock.Integer(0),
	})
	if err != nil {
		panic(err)
	}
	w.GetMeta().Catalog.Pages = pagesRef

	return w, f
}
