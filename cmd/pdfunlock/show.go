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
	"fmt"
	"io"
	"reflect"
	"sort"

	"golang.org/x/exp/maps"
	"seehuhn.de/go/xmp"

	"seehuhn.de/go/pdfunlock"
)

// showFile prints the metadata of the PDF file contained in data.
func showFile(w io.Writer, data []byte) error {
	r, err := pdfunlock.NewReader(bytes.NewReader(data), int64(len(data)), nil)
	if err != nil {
		return err
	}
	m := r.GetMeta()

	fmt.Fprintln(w, "PDF version:", m.Version)
	for i, id := range m.ID {
		if i == 0 {
			fmt.Fprintf(w, "ID: %x\n", id)
		} else {
			fmt.Fprintf(w, "    %x\n", id)
		}
	}

	if m.Info != nil {
		fmt.Fprintln(w)
		showInfo(w, m.Info)
	}
	if m.Catalog != nil && m.Catalog.MetaData != 0 {
		fmt.Fprintln(w)
		err = showXMP(w, r, m.Catalog.MetaData)
		if err != nil {
			return err
		}
	}
	return nil
}

func showInfo(w io.Writer, info *pdfunlock.Info) {
	fmt.Fprintln(w, "Document information:")
	if info.Title != "" {
		fmt.Fprintln(w, "  Title:", info.Title)
	}
	if info.Author != "" {
		fmt.Fprintln(w, "  Author:", info.Author)
	}
	if info.Subject != "" {
		fmt.Fprintln(w, "  Subject:", info.Subject)
	}
	if info.Keywords != "" {
		fmt.Fprintln(w, "  Keywords:", info.Keywords)
	}
	if info.Creator != "" {
		fmt.Fprintln(w, "  Creator:", info.Creator)
	}
	if info.Producer != "" {
		fmt.Fprintln(w, "  Producer:", info.Producer)
	}
	if !info.CreationDate.IsZero() {
		fmt.Fprintln(w, "  CreationDate:", info.CreationDate)
	}
	if !info.ModDate.IsZero() {
		fmt.Fprintln(w, "  ModDate:", info.ModDate)
	}
	if info.Trapped != "" {
		fmt.Fprintln(w, "  Trapped:", info.Trapped)
	}
	keys := maps.Keys(info.Custom)
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(w, "  %s: %s\n", key, info.Custom[key])
	}
}

func showXMP(w io.Writer, r pdfunlock.Getter, ref pdfunlock.Reference) error {
	stm, err := pdfunlock.GetStream(r, ref)
	if err != nil {
		return err
	}
	if stm == nil {
		return nil
	}
	body, err := pdfunlock.DecodeStream(r, stm)
	if err != nil {
		return err
	}
	packet, err := xmp.Read(body)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "XMP metadata (%s):\n", ref)
	for _, model := range []any{&xmp.DublinCore{}, &xmp.Basic{}, &pdfProperties{}} {
		packet.Get(model)
		showXMPModel(w, packet, model)
	}
	return nil
}

// showXMPModel prints all non-empty properties of the XMP model v.  The
// model must be a pointer to a struct in the form used by the xmp package.
func showXMPModel(w io.Writer, p *xmp.Packet, v any) {
	s := reflect.Indirect(reflect.ValueOf(v))
	st := s.Type()

	prefixType := reflect.TypeFor[xmp.Prefix]()
	valueType := reflect.TypeFor[xmp.Value]()

	var pfx string
	for i := 0; i < st.NumField(); i++ {
		if st.Field(i).Type == prefixType {
			pfx = st.Field(i).Tag.Get("xmp") + ":"
			break
		}
	}

	for i := 0; i < st.NumField(); i++ {
		fVal := s.Field(i)
		if !fVal.CanInterface() || !fVal.Type().Implements(valueType) {
			continue
		}
		val := fVal.Interface().(xmp.Value)
		if val.IsZero() {
			continue
		}
		name := st.Field(i).Tag.Get("xmp")
		if name == "" {
			name = st.Field(i).Name
		}
		showXMPValue(w, p, "  "+pfx+name+":", val)
	}
}

func showXMPValue(w io.Writer, p *xmp.Packet, label string, value xmp.Value) {
	switch value := value.(type) {
	case xmp.Date:
		fmt.Fprintln(w, label, value.V.String())
	case xmp.Localized:
		fmt.Fprintln(w, label)
		showXMPValue(w, p, "    [x-default]", value.Default)
		langs := maps.Keys(value.V)
		sort.Slice(langs, func(i, j int) bool {
			return fmt.Sprint(langs[i]) < fmt.Sprint(langs[j])
		})
		for _, lang := range langs {
			showXMPValue(w, p, fmt.Sprintf("    [%s]", lang), value.V[lang])
		}
	default:
		for _, line := range formatXMPRaw(label, value.EncodeXMP(p)) {
			fmt.Fprintln(w, line)
		}
	}
}

// formatXMPRaw renders a raw XMP value as a list of output lines.
// Qualifiers are not shown.
func formatXMPRaw(label string, value xmp.Raw) []string {
	var lines []string
	switch value := value.(type) {
	case xmp.Text:
		lines = append(lines, label+" "+value.V)
	case xmp.URL:
		lines = append(lines, label+" "+value.V.String())
	case xmp.RawStruct:
		lines = append(lines, label)
		keys := maps.Keys(value.Value)
		sort.Slice(keys, func(i, j int) bool {
			if keys[i].Space != keys[j].Space {
				return keys[i].Space < keys[j].Space
			}
			return keys[i].Local < keys[j].Local
		})
		for _, key := range keys {
			for _, l := range formatXMPRaw(key.Local+":", value.Value[key]) {
				lines = append(lines, "  "+l)
			}
		}
	case xmp.RawArray:
		lines = append(lines, label)
		for i, elem := range value.Value {
			var marker string
			switch value.Kind {
			case xmp.Ordered:
				marker = fmt.Sprintf("%d.", i+1)
			case xmp.Alternative:
				marker = "*"
			default:
				marker = "-"
			}
			for _, l := range formatXMPRaw(marker, elem) {
				lines = append(lines, "  "+l)
			}
		}
	}
	return lines
}

// pdfProperties describes the XMP namespace for PDF properties.
// See https://developer.adobe.com/xmp/docs/XMPNamespaces/pdf/
type pdfProperties struct {
	_          xmp.Namespace `xmp:"http://ns.adobe.com/pdf/1.3/"`
	_          xmp.Prefix    `xmp:"pdf"`
	Keywords   xmp.Text
	PDFVersion xmp.Text
	Producer   xmp.AgentName
	Trapped    xmp.Text
}
