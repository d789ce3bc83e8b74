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
	"strconv"
	"time"

	"golang.org/x/text/language"
)

// MetaInfo collects the file-level information of a PDF document.
type MetaInfo struct {
	// Version is the PDF version used in this file.
	Version Version

	// ID contains the two file identifiers from the trailer dictionary.
	// The first identifier is fixed when the file is first written, the
	// second one changes with every update.  ID is nil if the file has
	// no identifiers.
	ID [][]byte

	// Catalog is the document catalog, decoded from the /Root object.
	Catalog *Catalog

	// Info is the document information dictionary, or nil if the file
	// has none.
	Info *Info

	// Trailer holds the remaining entries of the trailer dictionary.
	// Entries describing the cross reference data itself are not
	// included.
	Trailer Dict
}

// Version numbers the released revisions of the PDF standard.
type Version int

// The PDF versions which can occur in the header of a PDF file.
const (
	_ Version = iota
	V1_0
	V1_1
	V1_2
	V1_3
	V1_4
	V1_5
	V1_6
	V1_7
	V2_0
)

// ParseVersion converts a version string like "1.7" into a [Version].
func ParseVersion(s string) (Version, error) {
	if len(s) == 3 && s[1] == '.' {
		switch {
		case s[0] == '1' && s[2] >= '0' && s[2] <= '7':
			return V1_0 + Version(s[2]-'0'), nil
		case s[0] == '2' && s[2] == '0':
			return V2_0, nil
		}
	}
	return 0, errVersion
}

// ToString returns the version string for use in the PDF header,
// e.g. "1.7".  An error is returned if ver is not a valid PDF version.
func (ver Version) ToString() (string, error) {
	switch {
	case ver == V2_0:
		return "2.0", nil
	case ver >= V1_0 && ver <= V1_7:
		return "1." + strconv.Itoa(int(ver-V1_0)), nil
	default:
		return "", errVersion
	}
}

func (ver Version) String() string {
	s, err := ver.ToString()
	if err != nil {
		return "pdfunlock.Version(" + strconv.Itoa(int(ver)) + ")"
	}
	return s
}

// Catalog represents the document catalog, the root of a PDF file's
// object graph.  Of the entries listed in section 7.7.2 of
// PDF 32000-1:2008 only the ones inspected by this library are
// included here; Pages is the only required entry.  The struct can be
// converted to and from a [Dict] using [AsDict] and [DecodeDict].
type Catalog struct {
	_          struct{} `pdf:"Type=Catalog"`
	Version    Version  `pdf:"optional"`
	Pages      Reference
	PageLayout Name         `pdf:"optional"`
	PageMode   Name         `pdf:"optional"`
	Outlines   Reference    `pdf:"optional"`
	AcroForm   Object       `pdf:"optional"`
	MetaData   Reference    `pdf:"optional"`
	Lang       language.Tag `pdf:"optional"`
}

// Info represents a PDF document information dictionary, described in
// section 14.3.3 of PDF 32000-1:2008.  All fields are optional.
type Info struct {
	// Title is the document's title.
	Title string `pdf:"text string,optional"`

	// Author is the name of the person who created the document.
	Author string `pdf:"text string,optional"`

	// Subject is the subject of the document.
	Subject string `pdf:"text string,optional"`

	// Keywords lists keywords associated with the document.
	Keywords string `pdf:"text string,optional"`

	// Creator names the application which created the original
	// document, if the document was converted to PDF from another
	// format.
	Creator string `pdf:"text string,optional"`

	// Producer names the application which performed the conversion
	// to PDF.
	Producer string `pdf:"text string,optional"`

	// CreationDate is the date and time the document was created.
	CreationDate time.Time `pdf:"optional"`

	// ModDate is the date and time of the most recent modification.
	ModDate time.Time `pdf:"optional"`

	// Trapped indicates whether the document contains trapping
	// information.  Valid values are "True", "False" and "Unknown".
	Trapped Name `pdf:"optional,allowstring"`

	// Custom contains all non-standard entries of the Info dictionary.
	Custom map[string]string `pdf:"extra"`
}
