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

package pdfunlock

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

var encryptionSchemes = []struct {
	name    string
	version Version
	rev     int
}{
	{"RC4-40", V1_1, 2},
	{"RC4-128", V1_4, 3},
	{"AES-128", V1_6, 4},
	{"AES-256", V2_0, 6},
}

// writeEncryptedTestFile creates a minimal encrypted PDF file containing one
// text string and one compressed stream.
func writeEncryptedTestFile(t *testing.T, version Version, userPwd, ownerPwd string) (data []byte, strRef, stmRef Reference, stmData []byte) {
	t.Helper()

	buf := &bytes.Buffer{}
	opt := &WriterOptions{
		Version:       version,
		UserPassword:  userPwd,
		OwnerPassword: ownerPwd,
	}
	w, err := NewWriter(buf, opt)
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

	strRef = w.Alloc()
	err = w.Put(strRef, TextString("ein geheimer Text"))
	if err != nil {
		t.Fatal(err)
	}

	stmData = []byte("stream contents, repeated: ")
	stmData = append(stmData, bytes.Repeat([]byte("na"), 100)...)
	stmRef = w.Alloc()
	stm, err := w.OpenStream(stmRef, nil, FilterFlate{})
	if err != nil {
		t.Fatal(err)
	}
	_, err = stm.Write(stmData)
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

	return buf.Bytes(), strRef, stmRef, stmData
}

func TestEncryptedRoundTrip(t *testing.T) {
	for _, scheme := range encryptionSchemes {
		t.Run(scheme.name, func(t *testing.T) {
			data, strRef, stmRef, stmData := writeEncryptedTestFile(t,
				scheme.version, "secret", "")

			body := bytes.NewReader(data)
			opt := &ReaderOptions{Password: "secret"}
			r, err := NewReader(body, body.Size(), opt)
			if err != nil {
				t.Fatal(err)
			}
			if r.enc == nil {
				t.Fatal("file is not encrypted")
			}
			if r.enc.sec.R != scheme.rev {
				t.Errorf("wrong revision %d, expected %d",
					r.enc.sec.R, scheme.rev)
			}

			s, err := GetString(r, strRef)
			if err != nil {
				t.Fatal(err)
			}
			if s.AsTextString() != "ein geheimer Text" {
				t.Errorf("wrong string %q", s)
			}

			stm, err := GetStream(r, stmRef)
			if err != nil {
				t.Fatal(err)
			}
			dec, err := DecodeStream(r, stm)
			if err != nil {
				t.Fatal(err)
			}
			out, err := io.ReadAll(dec)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(out, stmData) {
				t.Errorf("wrong stream data %q", out)
			}

			// The string and stream must not appear in the file in
			// plain form.
			if bytes.Contains(data, []byte("geheimer")) {
				t.Error("string not encrypted")
			}
			if bytes.Contains(data, stmData[:20]) {
				t.Error("stream not encrypted")
			}
		})
	}
}

func TestEncryptedStreamMultipleReads(t *testing.T) {
	for _, scheme := range encryptionSchemes {
		t.Run(scheme.name, func(t *testing.T) {
			data, _, stmRef, stmData := writeEncryptedTestFile(t,
				scheme.version, "secret", "")

			body := bytes.NewReader(data)
			opt := &ReaderOptions{Password: "secret"}
			r, err := NewReader(body, body.Size(), opt)
			if err != nil {
				t.Fatal(err)
			}

			// Streams are re-read from the file on each access, so
			// repeated reads must give the same contents.
			for i := 0; i < 3; i++ {
				stm, err := GetStream(r, stmRef)
				if err != nil {
					t.Fatal(err)
				}
				dec, err := DecodeStream(r, stm)
				if err != nil {
					t.Fatal(err)
				}
				out, err := io.ReadAll(dec)
				if err != nil {
					t.Fatal(err)
				}
				if !bytes.Equal(out, stmData) {
					t.Errorf("read %d: wrong stream data %q", i, out)
				}
			}
		})
	}
}

func TestEncryptedOwnerPassword(t *testing.T) {
	data, strRef, _, _ := writeEncryptedTestFile(t, V1_6, "user", "owner")

	// reading with the owner password
	body := bytes.NewReader(data)
	r, err := NewReader(body, body.Size(), &ReaderOptions{Password: "owner"})
	if err != nil {
		t.Fatal(err)
	}
	if !r.enc.sec.ownerAuthenticated {
		t.Error("owner password not recognised")
	}
	s, err := GetString(r, strRef)
	if err != nil {
		t.Fatal(err)
	}
	if s.AsTextString() != "ein geheimer Text" {
		t.Errorf("wrong string %q", s)
	}

	// reading with the user password
	body = bytes.NewReader(data)
	r, err = NewReader(body, body.Size(), &ReaderOptions{Password: "user"})
	if err != nil {
		t.Fatal(err)
	}
	if r.enc.sec.ownerAuthenticated {
		t.Error("user password reported as owner password")
	}
}

func TestEncryptedPermissions(t *testing.T) {
	perm := PermPrint | PermPrintDegraded

	buf := &bytes.Buffer{}
	opt := &WriterOptions{
		Version:         V1_6,
		UserPassword:    "secret",
		UserPermissions: perm,
	}
	w, err := NewWriter(buf, opt)
	if err != nil {
		t.Fatal(err)
	}
	pagesRef := w.Alloc()
	err = w.Put(pagesRef, Dict{"Type": Name("Pages"), "Kids": Array{}, "Count": Integer(0)})
	if err != nil {
		t.Fatal(err)
	}
	w.GetMeta().Catalog.Pages = pagesRef
	err = w.Close()
	if err != nil {
		t.Fatal(err)
	}

	body := bytes.NewReader(buf.Bytes())
	r, err := NewReader(body, body.Size(), &ReaderOptions{Password: "secret"})
	if err != nil {
		t.Fatal(err)
	}
	if got := r.Permissions(); got != perm {
		t.Errorf("wrong permissions %b, expected %b", got, perm)
	}
}

func TestEncryptedWrongPassword(t *testing.T) {
	data, _, _, _ := writeEncryptedTestFile(t, V1_6, "secret", "")

	var tries []int
	pwdFunc := func(_ []byte, try int) string {
		tries = append(tries, try)
		if try < 2 {
			return "wrong"
		}
		return ""
	}

	body := bytes.NewReader(data)
	_, err := NewReader(body, body.Size(), &ReaderOptions{ReadPassword: pwdFunc})
	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("wrong error %v", err)
	}
	if len(tries) != 3 {
		t.Errorf("wrong number of attempts %v", tries)
	}
}
