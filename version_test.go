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

import "testing"

func TestParseVersion(t *testing.T) {
	valid := map[string]Version{
		"1.0": V1_0,
		"1.1": V1_1,
		"1.2": V1_2,
		"1.3": V1_3,
		"1.4": V1_4,
		"1.5": V1_5,
		"1.6": V1_6,
		"1.7": V1_7,
		"2.0": V2_0,
	}
	for in, want := range valid {
		v, err := ParseVersion(in)
		if err != nil {
			t.Errorf("ParseVersion(%q): %s", in, err)
			continue
		}
		if v != want {
			t.Errorf("ParseVersion(%q) = %d, want %d", in, int(v), int(want))
			continue
		}
		out, err := v.ToString()
		if err != nil {
			t.Error(err)
		} else if out != in {
			t.Errorf("version round trip turned %q into %q", in, out)
		}
	}

	invalid := []string{"", "1", "1.", "0.9", "1.8", "2.1", "10.0", "1.70"}
	for _, in := range invalid {
		if _, err := ParseVersion(in); err == nil {
			t.Errorf("ParseVersion(%q) did not fail", in)
		}
	}
}

func TestVersionString(t *testing.T) {
	if s := V1_7.String(); s != "1.7" {
		t.Errorf("wrong version string %q", s)
	}
	if _, err := Version(0).ToString(); err == nil {
		t.Error("missing error for invalid version")
	}
	if s := Version(0).String(); s != "pdfunlock.Version(0)" {
		t.Errorf("wrong version string %q", s)
	}
}
