package pdfunlock

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/exp/maps"
)

// Writer represents a PDF file open for writing.
type Writer struct {
	meta MetaInfo

	w       *posWriter
	xref    map[uint32]*xRefEntry
	nextRef uint32

	xrefAsStream bool
	inStream     bool
}

// WriterOptions allows to influence the way a PDF file is written.
type WriterOptions struct {
	// Version is the PDF version of the generated file.  If this is zero,
	// PDF 1.7 is used.
	Version Version

	// ID gives the two parts of the file identifier for the document
	// trailer.  If encryption is requested and no ID is given, a random
	// identifier is generated.
	ID [][]byte

	// XRefStream selects a cross reference stream instead of a cross
	// reference table.  This requires PDF 1.5 or higher and is ignored for
	// older versions.
	XRefStream bool

	// UserPassword and OwnerPassword enable encryption using the PDF
	// standard security handler.  The encryption scheme is chosen based on
	// the PDF version of the file.
	UserPassword  string
	OwnerPassword string

	// UserPermissions lists the actions a user may perform after opening
	// the document with the user password.  If this is zero, all actions
	// are allowed.
	UserPermissions Perm
}

// NewWriter prepares a PDF file for writing.
//
// After all objects have been added to the file, [Writer.Close] must be
// called to write the cross reference information and the file trailer.
//
// opt may be nil.
func NewWriter(w io.Writer, opt *WriterOptions) (*Writer, error) {
	if opt == nil {
		opt = &WriterOptions{}
	}
	version := opt.Version
	if version == 0 {
		version = V1_7
	}
	versionString, err := version.ToString()
	if err != nil {
		return nil, err
	}

	pdf := &Writer{
		meta: MetaInfo{
			Version: version,
			ID:      opt.ID,
			Catalog: &Catalog{},
			Trailer: Dict{},
		},
		w:            &posWriter{w: w},
		xref:         make(map[uint32]*xRefEntry),
		nextRef:      1,
		xrefAsStream: opt.XRefStream && version >= V1_5,
	}
	pdf.xref[0] = &xRefEntry{
		Pos:        -1,
		Generation: 65535,
	}

	if opt.UserPassword != "" || opt.OwnerPassword != "" {
		if len(pdf.meta.ID) == 0 {
			id := make([]byte, 16)
			_, err := rand.Read(id)
			if err != nil {
				return nil, err
			}
			pdf.meta.ID = [][]byte{id, id}
		}

		perm := opt.UserPermissions
		if perm == 0 {
			perm = PermAll
		}

		var V, length int
		var cipher cipherType
		switch {
		case version >= V2_0:
			V, length, cipher = 5, 256, cipherAES
		case version >= V1_6:
			V, length, cipher = 4, 128, cipherAES
		case version >= V1_4:
			V, length, cipher = 2, 128, cipherRC4
		default:
			V, length, cipher = 1, 40, cipherRC4
		}

		sec, err := createStdSecHandler(pdf.meta.ID[0],
			opt.UserPassword, opt.OwnerPassword, perm, length, V)
		if err != nil {
			return nil, err
		}
		cf := &cryptFilter{Cipher: cipher, Length: length}
		pdf.w.enc = &encryptInfo{
			sec:  sec,
			stmF: cf,
			strF: cf,
			efF:  cf,

			UserPermissions: perm,
		}
	}

	_, err = fmt.Fprintf(pdf.w, "%%PDF-%s\n%%\x80\x80\x80\x80\n", versionString)
	if err != nil {
		return nil, err
	}

	return pdf, nil
}

// GetMeta returns the meta information of the file.  The values can be
// modified until [Writer.Close] is called.
func (pdf *Writer) GetMeta() *MetaInfo {
	return &pdf.meta
}

// Alloc allocates an object number for an indirect object.
func (pdf *Writer) Alloc() Reference {
	ref := NewReference(pdf.nextRef, 0)
	pdf.nextRef++
	return ref
}

// Put writes an object to the PDF file, as an indirect object with the
// given reference.  A nil object results in a free cross reference entry.
func (pdf *Writer) Put(ref Reference, obj Object) error {
	if pdf.inStream {
		return errors.New("a stream is still open for writing")
	}
	number := ref.Number()
	if _, seen := pdf.xref[number]; seen {
		return errors.New("object already written")
	}
	if number >= pdf.nextRef {
		pdf.nextRef = number + 1
	}

	if obj == nil {
		pdf.xref[number] = &xRefEntry{Pos: -1, Generation: ref.Generation()}
		return nil
	}

	if _, isStream := obj.(*Stream); isStream && pdf.w.enc != nil {
		// The /Length entry cannot be known in advance when the stream
		// data is encrypted.
		return errors.New("streams in encrypted files require OpenStream")
	}

	pos := pdf.w.pos
	pdf.w.ref = ref
	_, err := fmt.Fprintf(pdf.w, "%d %d obj\n", ref.Number(), ref.Generation())
	if err != nil {
		return err
	}
	err = obj.PDF(pdf.w)
	if err != nil {
		return err
	}
	_, err = pdf.w.Write([]byte("\nendobj\n"))
	if err != nil {
		return err
	}
	pdf.w.ref = 0

	pdf.xref[number] = &xRefEntry{Pos: pos, Generation: ref.Generation()}

	return nil
}

// OpenStream writes the start of a stream object to the PDF file and
// returns a writer for the stream data.  The data is passed through the
// given filters, in order, and is encrypted if the file is encrypted.  The
// stream dictionary is extended with the filter information and with a
// /Length entry which is filled in once the returned writer is closed.
//
// No other objects can be written to the file until the stream is closed.
func (pdf *Writer) OpenStream(ref Reference, dict Dict, filters ...Filter) (io.WriteCloser, error) {
	if pdf.inStream {
		return nil, errors.New("a stream is still open for writing")
	}
	number := ref.Number()
	if _, seen := pdf.xref[number]; seen {
		return nil, errors.New("object already written")
	}
	if number >= pdf.nextRef {
		pdf.nextRef = number + 1
	}

	// Copy dict, dict["Filter"], and dict["DecodeParms"], so that we don't
	// change the caller's dict.
	streamDict := maps.Clone(dict)
	if streamDict == nil {
		streamDict = Dict{}
	}
	if filter, ok := streamDict["Filter"].(Array); ok {
		streamDict["Filter"] = append(Array{}, filter...)
	}
	if decodeParms, ok := streamDict["DecodeParms"].(Array); ok {
		streamDict["DecodeParms"] = append(Array{}, decodeParms...)
	}
	for _, filter := range filters {
		name, parms, err := filter.Info()
		if err != nil {
			return nil, err
		}
		appendFilter(streamDict, name, parms)
	}
	lengthRef := pdf.Alloc()
	streamDict["Length"] = lengthRef

	pos := pdf.w.pos
	pdf.w.ref = ref
	_, err := fmt.Fprintf(pdf.w, "%d %d obj\n", ref.Number(), ref.Generation())
	if err != nil {
		return nil, err
	}
	err = streamDict.PDF(pdf.w)
	if err != nil {
		return nil, err
	}
	_, err = pdf.w.Write([]byte("\nstream\n"))
	if err != nil {
		return nil, err
	}
	pdf.xref[number] = &xRefEntry{Pos: pos, Generation: ref.Generation()}

	start := pdf.w.pos
	var w io.WriteCloser = withDummyClose{pdf.w}
	if pdf.w.enc != nil {
		w, err = pdf.w.enc.EncryptStream(ref, w)
		if err != nil {
			return nil, err
		}
	}
	for _, filter := range filters {
		w, err = filter.Encode(w)
		if err != nil {
			return nil, err
		}
	}

	pdf.inStream = true
	return &streamWriter{
		pdf:       pdf,
		w:         w,
		lengthRef: lengthRef,
		start:     start,
	}, nil
}

type streamWriter struct {
	pdf       *Writer
	w         io.WriteCloser
	lengthRef Reference
	start     int64
}

func (w *streamWriter) Write(p []byte) (int, error) {
	return w.w.Write(p)
}

func (w *streamWriter) Close() error {
	err := w.w.Close()
	if err != nil {
		return err
	}
	pdf := w.pdf
	length := pdf.w.pos - w.start

	_, err = pdf.w.Write([]byte("\nendstream\nendobj\n"))
	if err != nil {
		return err
	}
	pdf.w.ref = 0
	pdf.inStream = false

	return pdf.Put(w.lengthRef, Integer(length))
}

// appendFilter adds a filter to the /Filter and /DecodeParms entries of a
// stream dictionary.
func appendFilter(dict Dict, name Name, parms Dict) {
	if len(parms) == 0 {
		parms = nil
	}
	switch filter := dict["Filter"].(type) {
	case nil:
		dict["Filter"] = name
		if parms != nil {
			dict["DecodeParms"] = parms
		}
	case Name:
		dict["Filter"] = Array{filter, name}
		oldParms, _ := dict["DecodeParms"].(Dict)
		if len(oldParms) > 0 || parms != nil {
			var pp Array
			if len(oldParms) > 0 {
				pp = append(pp, oldParms)
			} else {
				pp = append(pp, nil)
			}
			pp = append(pp, parms)
			dict["DecodeParms"] = pp
		}
	case Array:
		n := len(filter)
		dict["Filter"] = append(filter, name)
		oldParms, _ := dict["DecodeParms"].(Array)
		if len(oldParms) > 0 || parms != nil {
			for len(oldParms) < n {
				oldParms = append(oldParms, nil)
			}
			oldParms = append(oldParms, parms)
			dict["DecodeParms"] = oldParms
		}
	}
}

// Close writes the cross reference information and the file trailer.  The
// underlying io.Writer is left open.
func (pdf *Writer) Close() error {
	if pdf.inStream {
		return errors.New("a stream is still open for writing")
	}

	rootRef, ok := pdf.meta.Trailer["Root"].(Reference)
	if !ok || !pdf.isWritten(rootRef) {
		catalogDict := AsDict(pdf.meta.Catalog)
		if catalogDict == nil {
			return errors.New("missing document catalog")
		}
		rootRef = pdf.Alloc()
		err := pdf.Put(rootRef, catalogDict)
		if err != nil {
			return err
		}
	}

	infoRef, ok := pdf.meta.Trailer["Info"].(Reference)
	haveInfo := ok && pdf.isWritten(infoRef)
	if !haveInfo && pdf.meta.Info != nil {
		infoDict := AsDict(pdf.meta.Info)
		if len(infoDict) > 0 {
			infoRef = pdf.Alloc()
			err := pdf.Put(infoRef, infoDict)
			if err != nil {
				return err
			}
			haveInfo = true
		}
	}

	var encRef Reference
	if enc := pdf.w.enc; enc != nil {
		encDict, err := enc.AsDict(pdf.meta.Version)
		if err != nil {
			return err
		}
		// The encryption dictionary itself is stored unencrypted.
		pdf.w.enc = nil
		encRef = pdf.Alloc()
		err = pdf.Put(encRef, encDict)
		if err != nil {
			return err
		}
	}

	trailer := Dict{
		"Root": rootRef,
	}
	if haveInfo {
		trailer["Info"] = infoRef
	}
	if encRef != 0 {
		trailer["Encrypt"] = encRef
	}
	if len(pdf.meta.ID) == 2 {
		trailer["ID"] = Array{
			String(pdf.meta.ID[0]),
			String(pdf.meta.ID[1]),
		}
	}

	xRefPos := pdf.w.pos
	var err error
	if pdf.xrefAsStream {
		err = pdf.writeXRefStream(trailer)
	} else {
		err = pdf.writeXRefTable(trailer)
	}
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(pdf.w, "\nstartxref\n%d\n%%%%EOF\n", xRefPos)
	if err != nil {
		return err
	}

	// Make sure we don't accidentally write beyond the end of the file.
	pdf.w = nil

	return nil
}

// isWritten reports whether the object with the given reference has been
// written to the file.
func (pdf *Writer) isWritten(ref Reference) bool {
	entry := pdf.xref[ref.Number()]
	return !entry.IsFree() && entry.Generation == ref.Generation()
}

type posWriter struct {
	w   io.Writer
	pos int64

	enc *encryptInfo
	ref Reference
}

func (w *posWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	w.pos += int64(n)
	return n, err
}

type withDummyClose struct {
	io.Writer
}

func (w withDummyClose) Close() error {
	return nil
}
