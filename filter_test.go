package pdfunlock

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"testing"
)

func TestFlateRoundTrip(t *testing.T) {
	for _, in := range []string{"", "12345", "1234567890"} {
		ff := FilterFlate{}
		buf := &bytes.Buffer{}
		w, err := ff.Encode(withDummyClose{buf})
		if err != nil {
			t.Fatal(in, err)
		}
		_, err = w.Write([]byte(in))
		if err != nil {
			t.Fatal(in, err)
		}
		err = w.Close()
		if err != nil {
			t.Fatal(in, err)
		}

		r, err := ff.Decode(buf)
		if err != nil {
			t.Fatal(in, err)
		}
		out, err := io.ReadAll(r)
		if err != nil {
			t.Fatal(in, err)
		}

		if in != string(out) {
			t.Errorf("wrong result: %q vs %q", in, string(out))
		}
	}
}

func TestLZWDecode(t *testing.T) {
	// "ab", compressed using 9-bit LZW codes: ClearCode, 'a', 'b', EOI.
	in := []byte{0x80, 0x18, 0x4C, 0x50, 0x10}
	ff := FilterLZW{}
	r, err := ff.Decode(bytes.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "ab" {
		t.Errorf("wrong result: %q", out)
	}
}

func TestLZWEncode(t *testing.T) {
	ff := FilterLZW{}
	buf := &bytes.Buffer{}
	_, err := ff.Encode(withDummyClose{buf})
	if err == nil {
		t.Error("missing error for LZW encoding")
	}
}

func TestASCIIRoundTrip(t *testing.T) {
	data := []byte{0, 1, 2, 'z', 0xFF, 0, 0, 0, 0, 'a', 0x80}
	for _, ff := range []Filter{FilterASCIIHex{}, FilterASCII85{}} {
		name, _, err := ff.Info()
		if err != nil {
			t.Fatal(err)
		}
		for n := 0; n <= len(data); n++ {
			in := data[:n]
			buf := &bytes.Buffer{}
			w, err := ff.Encode(withDummyClose{buf})
			if err != nil {
				t.Fatal(name, err)
			}
			_, err = w.Write(in)
			if err != nil {
				t.Fatal(name, err)
			}
			err = w.Close()
			if err != nil {
				t.Fatal(name, err)
			}

			r, err := ff.Decode(bytes.NewReader(buf.Bytes()))
			if err != nil {
				t.Fatal(name, err)
			}
			out, err := io.ReadAll(r)
			if err != nil {
				t.Fatal(name, err)
			}
			if !bytes.Equal(in, out) {
				t.Errorf("%s: wrong result: % x vs % x", name, in, out)
			}
		}
	}
}

func TestPredictorEncode(t *testing.T) {
	ff := FilterFlate{"Predictor": Integer(12)}
	buf := &bytes.Buffer{}
	_, err := ff.Encode(withDummyClose{buf})
	if err == nil {
		t.Error("missing error for predictor encoding")
	}
}

func TestPredictorDecode(t *testing.T) {
	// two rows of three bytes each, using the PNG "Up" row filter
	rows := [][]byte{
		{1, 2, 3},
		{5, 7, 9},
	}
	filtered := []byte{
		2, 1, 2, 3, // first row, nothing above
		2, 4, 5, 6, // second row, difference to the row above
	}

	buf := &bytes.Buffer{}
	zw := zlib.NewWriter(buf)
	_, err := zw.Write(filtered)
	if err != nil {
		t.Fatal(err)
	}
	err = zw.Close()
	if err != nil {
		t.Fatal(err)
	}

	ff := FilterFlate{
		"Predictor": Integer(12),
		"Columns":   Integer(3),
	}
	r, err := ff.Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}

	want := append(append([]byte{}, rows[0]...), rows[1]...)
	if !bytes.Equal(out, want) {
		t.Errorf("wrong result: % x vs % x", out, want)
	}
}

func TestRunLengthDecode(t *testing.T) {
	encoded := []byte{
		2, 'a', 'b', 'c', // three literal bytes
		254, 'x', // three copies of "x"
		128, // end of data
	}
	stream := &Stream{
		Dict: Dict{
			"Filter": Name("RunLengthDecode"),
			"Length": Integer(len(encoded)),
		},
		R: bytes.NewReader(encoded),
	}
	r, err := DecodeStream(nil, stream)
	if err != nil {
		t.Fatal(err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "abcxxx" {
		t.Errorf("wrong result: %q", out)
	}
}

func TestDecodeStreamChain(t *testing.T) {
	plain := []byte("stream data which goes through two filters")

	z := &bytes.Buffer{}
	zw := zlib.NewWriter(z)
	_, err := zw.Write(plain)
	if err != nil {
		t.Fatal(err)
	}
	err = zw.Close()
	if err != nil {
		t.Fatal(err)
	}
	encoded := fmt.Sprintf("%x>", z.Bytes())

	stream := &Stream{
		Dict: Dict{
			"Filter": Array{Name("ASCIIHexDecode"), Name("FlateDecode")},
			"Length": Integer(len(encoded)),
		},
		R: bytes.NewReader([]byte(encoded)),
	}
	r, err := DecodeStream(nil, stream)
	if err != nil {
		t.Fatal(err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, plain) {
		t.Errorf("wrong result: %q", out)
	}
}

func TestDecodeStreamIndirectFilter(t *testing.T) {
	encoded := "68656c6c6f>"
	g := testGetter{
		NewReference(5, 0): Name("ASCIIHexDecode"),
	}
	stream := &Stream{
		Dict: Dict{
			"Filter": NewReference(5, 0),
			"Length": Integer(len(encoded)),
		},
		R: bytes.NewReader([]byte(encoded)),
	}
	r, err := DecodeStream(g, stream)
	if err != nil {
		t.Fatal(err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "hello" {
		t.Errorf("wrong result: %q", out)
	}
}

func TestDecodeStreamIdentityCrypt(t *testing.T) {
	data := "unencrypted data"
	stream := &Stream{
		Dict: Dict{
			"Filter":      Name("Crypt"),
			"DecodeParms": Dict{"Name": Name("Identity")},
			"Length":      Integer(len(data)),
		},
		R: bytes.NewReader([]byte(data)),
	}
	r, err := DecodeStream(nil, stream)
	if err != nil {
		t.Fatal(err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != data {
		t.Errorf("wrong result: %q", out)
	}
}

func TestDecodeStreamUnknownFilter(t *testing.T) {
	stream := &Stream{
		Dict: Dict{
			"Filter": Name("DCTDecode"),
			"Length": Integer(0),
		},
		R: bytes.NewReader(nil),
	}
	_, err := DecodeStream(nil, stream)
	if err == nil {
		t.Error("missing error for unsupported filter")
	}
}
