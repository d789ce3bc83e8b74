package pdfunlock

import (
	"bytes"
	"fmt"
	"testing"
)

func TestDiagSeqScan(t *testing.T) {
	data := []byte(scanTestFile)
	info, err := SequentialScan(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	for si, sec := range info.Sections {
		for _, o := range sec.Objects {
			fmt.Printf("section %d: obj %d gen %d pos %d broken %v type %q\n",
				si, o.Number, o.Generation, o.Pos, o.Broken, o.Type)
		}
	}
}
