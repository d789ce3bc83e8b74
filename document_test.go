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
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
)

func TestDocumentRoundTrip(t *testing.T) {
	data, pagesRef, strRef := writeSimpleFile(t)

	doc, err := Read(bytes.NewReader(data), int64(len(data)), nil)
	if err != nil {
		t.Fatal(err)
	}

	obj, err := doc.Get(strRef)
	if err != nil {
		t.Fatal(err)
	}
	s, ok := obj.(String)
	if !ok || s.AsTextString() != "quick brown fox" {
		t.Errorf("wrong string object: %s", Format(obj))
	}

	// writing the same document twice gives identical output
	buf1 := &bytes.Buffer{}
	err = doc.Write(buf1)
	if err != nil {
		t.Fatal(err)
	}
	buf2 := &bytes.Buffer{}
	err = doc.Write(buf2)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf1.Bytes(), buf2.Bytes()) {
		t.Error("document output is not deterministic")
	}

	out := buf1.Bytes()
	r, err := NewReader(bytes.NewReader(out), int64(len(out)), nil)
	if err != nil {
		t.Fatal(err)
	}
	if r.GetMeta().Catalog.Pages != pagesRef {
		t.Error("wrong page tree root")
	}
	s2, err := GetString(r, strRef)
	if err != nil {
		t.Fatal(err)
	}
	if s2.AsTextString() != "quick brown fox" {
		t.Errorf("wrong string object: %s", Format(s2))
	}
}

func TestDocumentObjectStreams(t *testing.T) {
	data := buildObjStmFile(t, false)

	doc, err := Read(bytes.NewReader(data), int64(len(data)), nil)
	if err != nil {
		t.Fatal(err)
	}

	// compressed objects appear as ordinary top-level objects
	catalog, err := doc.Get(NewReference(1, 0))
	if err != nil {
		t.Fatal(err)
	}
	if dict, ok := catalog.(Dict); !ok || dict["Type"] != Name("Catalog") {
		t.Errorf("wrong catalog object: %s", Format(catalog))
	}

	// the object stream container and the xref stream are dropped
	for _, num := range []uint32{3, 4} {
		obj, err := doc.Get(NewReference(num, 0))
		if err != nil {
			t.Fatal(err)
		}
		if obj != nil {
			t.Errorf("object %d not dropped: %s", num, Format(obj))
		}
	}

	if !doc.xrefIsStream {
		t.Error("cross reference form not recorded")
	}

	buf := &bytes.Buffer{}
	err = doc.Write(buf)
	if err != nil {
		t.Fatal(err)
	}
	out := buf.Bytes()

	doc2, err := Read(bytes.NewReader(out), int64(len(out)), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !doc2.xrefIsStream {
		t.Error("cross reference form lost")
	}
	if doc2.GetMeta().Catalog.Pages != NewReference(2, 0) {
		t.Error("wrong page tree root")
	}
}

func TestDocumentStreamData(t *testing.T) {
	content := []byte("stream contents, repeated: " +
		string(bytes.Repeat([]byte("na"), 100)))

	buf := &bytes.Buffer{}
	w, err := NewWriter(buf, nil)
	if err != nil {
		t.Fatal(err)
	}
	pagesRef := w.Alloc()
	err = w.Put(pagesRef, Dict{
		"Type":  Name("Pages"),
		"Kids":  Array{},
		"Count": Integer(0),
	})
	if err != nil {
		t.Fatal(err)
	}
	w.GetMeta().Catalog.Pages = pagesRef
	sRef := w.Alloc()
	stm, err := w.OpenStream(sRef, nil, FilterFlate{})
	if err != nil {
		t.Fatal(err)
	}
	_, err = stm.Write(content)
	if err != nil {
		t.Fatal(err)
	}
	err = stm.Close()
	if err != nil {
		t.Fatal(err)
	}
	err = w.Close()
	if err != nil {
		t.Fatal(err)
	}

	data := buf.Bytes()
	doc, err := Read(bytes.NewReader(data), int64(len(data)), nil)
	if err != nil {
		t.Fatal(err)
	}

	// stream data is held in memory and can be read repeatedly
	for i := 0; i < 2; i++ {
		obj, err := doc.Get(sRef)
		if err != nil {
			t.Fatal(err)
		}
		stream, ok := obj.(*Stream)
		if !ok {
			t.Fatalf("wrong type %T", obj)
		}

		// the indirect /Length entry is replaced by the actual length
		if _, ok := stream.Dict["Length"].(Integer); !ok {
			t.Errorf("wrong /Length: %s", Format(stream.Dict["Length"]))
		}

		decoded, err := DecodeStream(doc, stream)
		if err != nil {
			t.Fatal(err)
		}
		body, err := io.ReadAll(decoded)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(body, content) {
			t.Errorf("wrong stream contents in pass %d", i)
		}
	}
}

func TestDocumentMaxStreamBytes(t *testing.T) {
	data, _, _, _ := writeEncryptedTestFile(t, V1_7, "", "")

	r, err := NewReader(bytes.NewReader(data), int64(len(data)), nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = r.readDocument(context.Background(), 10)
	var limitErr *LimitError
	if !errors.As(err, &limitErr) {
		t.Errorf("expected LimitError but got %v", err)
	}
}

func TestDocumentCanceled(t *testing.T) {
	data, _, _ := writeSimpleFile(t)

	r, err := NewReader(bytes.NewReader(data), int64(len(data)), nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.readDocument(ctx, 0)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled but got %v", err)
	}
}
