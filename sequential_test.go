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
	"strings"
	"testing"
)

const scanTestFile = `%PDF-1.7
1 0 obj
<< /Type /Catalog /Pages 2 0 R >>
endobj
2 0 obj
<< /Type /Pages /Kids [] /Count 0 >>
endobj
3 0 obj
<< /Length 5 >>
stream
hello
endstream
endobj
xref
0 4
0000000000 65535 f
0000000009 00000 n
0000000060 00000 n
0000000113 00000 n
trailer
<< /Size 4 /Root 1 0 R >>
startxref
180
%%EOF
`

func TestSequentialScan(t *testing.T) {
	data := []byte(scanTestFile)
	info, err := SequentialScan(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}

	if info.StartPos != 0 {
		t.Errorf("wrong start position %d", info.StartPos)
	}
	if info.HeaderVersion != "1.7" {
		t.Errorf("wrong header version %q", info.HeaderVersion)
	}
	if info.Size != int64(len(data)) {
		t.Errorf("wrong size %d", info.Size)
	}
	if len(info.Sections) != 1 {
		t.Fatalf("wrong number of sections %d", len(info.Sections))
	}

	section := info.Sections[0]
	if len(section.Objects) != 3 {
		t.Fatalf("wrong number of objects %d", len(section.Objects))
	}
	for i, obj := range section.Objects {
		if obj.Broken {
			t.Errorf("object %d is broken", obj.Number)
		}
		if obj.Number != uint32(i+1) || obj.Generation != 0 {
			t.Errorf("wrong object identifier %d %d",
				obj.Number, obj.Generation)
		}
		if obj.End <= obj.Pos {
			t.Errorf("object %d has no extent", obj.Number)
		}
	}
	if section.Objects[0].SubType != "Catalog" {
		t.Errorf("wrong subtype %q", section.Objects[0].SubType)
	}
	if section.Objects[2].Type != "Stream" {
		t.Errorf("wrong type %q", section.Objects[2].Type)
	}
	if section.Catalog != section.Objects[0] {
		t.Error("catalog not identified")
	}

	if pos := section.XRefPos; string(data[pos:pos+4]) != "xref" {
		t.Errorf("wrong xref position %d", pos)
	}
	if pos := section.TrailerPos; string(data[pos:pos+7]) != "trailer" {
		t.Errorf("wrong trailer position %d", pos)
	}
	if pos := section.StartXRefPos; string(data[pos:pos+9]) != "startxref" {
		t.Errorf("wrong startxref position %d", pos)
	}
	if pos := section.EOFPos; string(data[pos:pos+5]) != "%%EOF" {
		t.Errorf("wrong EOF position %d", pos)
	}
}

func TestSequentialScanJunkPrefix(t *testing.T) {
	prefix := "<html><body>some wrapper text</body></html>\n"
	data := []byte(prefix + scanTestFile)

	info, err := SequentialScan(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if info.StartPos != int64(len(prefix)) {
		t.Errorf("wrong start position %d", info.StartPos)
	}
	if info.HeaderVersion != "1.7" {
		t.Errorf("wrong header version %q", info.HeaderVersion)
	}
	if len(info.Sections) != 1 || len(info.Sections[0].Objects) != 3 {
		t.Error("objects not found after junk prefix")
	}
}

func TestSequentialScanBroken(t *testing.T) {
	body := strings.Replace(scanTestFile,
		"<< /Type /Pages /Kids [] /Count 0 >>",
		"<< /Type /Pages /Kids [ >>", 1)
	info, err := SequentialScan(bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatal(err)
	}

	section := info.Sections[0]
	if len(section.Objects) != 3 {
		t.Fatalf("wrong number of objects %d", len(section.Objects))
	}
	if section.Objects[0].Broken {
		t.Error("object 1 reported as broken")
	}
	if !section.Objects[1].Broken {
		t.Error("object 2 not reported as broken")
	}
	if section.Objects[2].Broken {
		t.Error("object 3 reported as broken")
	}
}

func TestSequentialScanNoPDF(t *testing.T) {
	_, err := SequentialScan(bytes.NewReader([]byte("not a PDF file")))
	if err != ErrNoPDF {
		t.Errorf("wrong error %v", err)
	}
}

func TestSequentialScanIncremental(t *testing.T) {
	update := `4 0 obj
<< /Type /Catalog /Pages 2 0 R /PageMode /UseOutlines >>
endobj
xref
0 1
0000000000 65535 f
4 1
0000000300 00000 n
trailer
<< /Size 5 /Root 4 0 R /Prev 180 >>
startxref
360
%%EOF
`
	data := []byte(scanTestFile + update)
	info, err := SequentialScan(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if len(info.Sections) != 2 {
		t.Fatalf("wrong number of sections %d", len(info.Sections))
	}
	second := info.Sections[1]
	if len(second.Objects) != 1 || second.Objects[0].Number != 4 {
		t.Error("update objects not found")
	}
	if second.Catalog == nil || second.Catalog.Number != 4 {
		t.Error("update catalog not identified")
	}
}
