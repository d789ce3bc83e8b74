// seehuhn.de/go/pdfunlock - remove password protection from PDF files
// Copyright (C) 2021  Jochen Voss <voss@seehuhn.de>
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
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Reader represents a pdf file opened for reading.  Use [Open] or
// [NewReader] to create a new Reader.
type Reader struct {
	// Version is the PDF version used in this file.  This is specified in
	// the initial comment at the start of the file, and may be overridden by
	// the /Version entry in the document catalog.
	Version Version

	// The ID of the file.  This is either a slice of two byte slices (the
	// original ID of the file, and the ID of the current version), or nil if
	// the file does not specify an ID.
	ID [][]byte

	meta MetaInfo

	r    io.ReaderAt
	size int64

	closer io.Closer

	xref map[uint32]*xRefEntry

	// xrefIsStream indicates that the newest cross reference section of the
	// file is stored in a cross reference stream.
	xrefIsStream bool

	enc     *encryptInfo
	special map[Reference]bool

	level int

	cache *objectCache

	log *slog.Logger
}

// objectCacheSize is the number of indirect objects the Reader keeps in
// memory.  Stream objects are never cached.
const objectCacheSize = 1000

// ReaderOptions allows to influence the way a PDF file is opened.
type ReaderOptions struct {
	// Password is tried first when the file is encrypted.
	Password string

	// ReadPassword is called when the file is encrypted and Password (if
	// set) turned out to be wrong.  See [ReadPwdFunc] for the calling
	// conventions.
	ReadPassword ReadPwdFunc

	// MaxObjects limits the number of indirect objects the file may
	// contain.  If this is zero, a built-in limit is used.
	MaxObjects int

	// Log, if non-nil, receives diagnostic messages about repairs applied
	// while reading damaged files.
	Log *slog.Logger
}

// ReadPwdFunc describes a function which can be used to query the user for a
// password for the document with the given ID.  The first call for each
// authentication attempt has try == 0.  If the returned password was wrong,
// the function is called again, repeatedly, with sequentially increasing
// values of try.  If the ReadPwdFunc returns the empty string, the
// authentication attempt is aborted and an [AuthenticationError] is reported
// to the caller.
type ReadPwdFunc func(ID []byte, try int) string

// passwordFunc combines the Password and ReadPassword options into a single
// callback for the security handler.  The fixed password, if any, consumes
// the first try.
func (opt *ReaderOptions) passwordFunc() ReadPwdFunc {
	if opt == nil || (opt.Password == "" && opt.ReadPassword == nil) {
		return nil
	}
	return func(ID []byte, try int) string {
		if opt.Password != "" {
			if try == 0 {
				return opt.Password
			}
			try--
		}
		if opt.ReadPassword != nil {
			return opt.ReadPassword(ID, try)
		}
		return ""
	}
}

// Open opens the named PDF file for reading.  After use, [Reader.Close] must
// be called to close the file the Reader is reading from.
//
// opt may be nil.
func Open(fname string, opt *ReaderOptions) (*Reader, error) {
	fd, err := os.Open(fname)
	if err != nil {
		return nil, err
	}
	fi, err := fd.Stat()
	if err != nil {
		fd.Close()
		return nil, err
	}
	r, err := NewReader(fd, fi.Size(), opt)
	if err != nil {
		fd.Close()
		return nil, err
	}
	return r, nil
}

// NewReader creates a new Reader object.
//
// If the file is encrypted, the passwords from opt are used to authenticate
// the user.  Authentication happens before NewReader returns, so that
// objects can later be read without further password prompts.
//
// opt may be nil.
func NewReader(data io.ReaderAt, size int64, opt *ReaderOptions) (*Reader, error) {
	closer, _ := data.(io.Closer)

	base, err := findPDFHeader(data, size)
	if err != nil {
		return nil, err
	}
	if base > 0 {
		// All byte offsets in the file are relative to the start of the
		// header.
		data = io.NewSectionReader(data, base, size-base)
		size -= base
	}

	log := slog.New(slog.DiscardHandler)
	if opt != nil && opt.Log != nil {
		log = opt.Log
	}

	r := &Reader{
		r:       data,
		size:    size,
		closer:  closer,
		special: make(map[Reference]bool),
		cache:   newCache(objectCacheSize),
		log:     log,
	}

	version, err := r.scannerAt(0).readHeaderVersion()
	if err != nil {
		return nil, err
	}
	r.Version = version

	xref, trailer, err := r.readXRef()
	var repairedStms []Reference
	if err != nil {
		var limitErr *LimitError
		if errors.As(err, &limitErr) {
			return nil, err
		}

		// The cross reference data is unusable.  Try to recover the object
		// positions from a sequential scan of the file before giving up.
		xref2, trailer2, stms, err2 := r.rebuildXRef()
		if err2 != nil {
			if errors.As(err2, &limitErr) {
				return nil, err2
			}
			return nil, err
		}
		xref, trailer, repairedStms = xref2, trailer2, stms
		r.log.Warn("rebuilt damaged cross reference table",
			"reason", err.Error(),
			"objects", len(xref))
	}

	r.xref = xref

	if ID, ok := trailer["ID"].(Array); ok && len(ID) >= 2 {
		var id [][]byte
		for i := 0; i < 2; i++ {
			s, ok := ID[i].(String)
			if !ok {
				break
			}
			id = append(id, []byte(s))
		}
		if len(id) == 2 {
			r.ID = id
		}
	}

	if encObj, ok := trailer["Encrypt"]; ok {
		if ref, ok := encObj.(Reference); ok {
			r.special[ref] = true
		}
		r.enc, err = r.parseEncryptDict(encObj, opt.passwordFunc())
		if err != nil {
			return nil, err
		}
		// Authenticate now, so that the file encryption key is in place
		// before any strings or streams are read.
		_, err = r.enc.sec.GetKey(false)
		if err != nil {
			return nil, err
		}
	}

	if len(repairedStms) > 0 {
		r.expandObjectStreams(repairedStms)
	}

	maxObjects := xrefMaxEntries
	if opt != nil && opt.MaxObjects > 0 && opt.MaxObjects < maxObjects {
		maxObjects = opt.MaxObjects
	}
	if len(r.xref) > maxObjects {
		return nil, &LimitError{Limit: "number of objects"}
	}

	catalogDict, err := GetDict(r, trailer["Root"])
	if err != nil {
		return nil, wrap(err, "document catalog")
	}
	catalog := &Catalog{}
	err = DecodeDict(r, catalog, catalogDict)
	if err != nil && catalog.Pages == 0 {
		return nil, wrap(err, "document catalog")
	}

	if catalog.Version > version {
		// if unset, catalog.Version is zero and thus smaller than version
		version = catalog.Version
		r.Version = version
	}

	var info *Info
	if infoObj, ok := trailer["Info"]; ok {
		infoDict, err := GetDict(r, infoObj)
		if err == nil {
			info = &Info{}
			err = DecodeDict(r, info, infoDict)
		}
		if err != nil {
			// ignore broken Info dictionaries
			info = nil
		}
	}

	r.meta = MetaInfo{
		Version: version,
		ID:      r.ID,
		Catalog: catalog,
		Info:    info,
		Trailer: trailer,
	}

	return r, nil
}

// findPDFHeader returns the offset of the "%PDF-" marker within data.  Some
// tools prepend extra bytes to PDF files; following common practice the
// header is accepted anywhere within the first 1024 bytes of the file, and
// all offsets are then interpreted relative to the header position.
func findPDFHeader(data io.ReaderAt, size int64) (int64, error) {
	const marker = "%PDF-"

	buf := make([]byte, 1024+len(marker)-1)
	n, err := data.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return 0, err
	}
	idx := bytes.Index(buf[:n], []byte(marker))
	if idx < 0 {
		return 0, ErrNoPDF
	}
	return int64(idx), nil
}

// AuthenticateOwner tries to authenticate the owner of a document.  If a
// password is required, this uses the passwords from the [ReaderOptions]
// given to [NewReader].  The return value is nil if the owner was
// authenticated (or if no authentication is required), and an
// [AuthenticationError] if the required password was not supplied.
func (r *Reader) AuthenticateOwner() error {
	if r.enc == nil || r.enc.sec.ownerAuthenticated {
		return nil
	}
	_, err := r.enc.sec.GetKey(true)
	return err
}

// Permissions returns the operations the document permits for users
// authenticated with the user password.  For unencrypted files all
// operations are permitted.
func (r *Reader) Permissions() Perm {
	if r.enc == nil {
		return PermAll
	}
	return r.enc.UserPermissions
}

// Close closes the file underlying the Reader.  This call only has an
// effect if the io.ReaderAt passed to [NewReader] has a Close method, or if
// the Reader was created using [Open].  Otherwise, Close has no effect and
// returns nil.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// GetMeta returns the meta information of the file.
func (r *Reader) GetMeta() *MetaInfo {
	return &r.meta
}

// Get reads an indirect object from the PDF file.  If the object is not
// present, nil is returned without an error.
func (r *Reader) Get(ref Reference) (Object, error) {
	return r.doGet(ref, true)
}

func (r *Reader) doGet(ref Reference, canObjStm bool) (Object, error) {
	if obj, ok := r.cache.Get(ref); ok {
		return obj, nil
	}

	if r.xref == nil {
		return nil, &MalformedFileError{
			Err: errors.New("cannot use references while reading the xref table"),
		}
	}

	entry := r.xref[ref.Number()]
	if entry.IsFree() || entry.Generation != ref.Generation() {
		return nil, nil
	}

	var obj Object
	if entry.InStream != 0 {
		if !canObjStm {
			return nil, &MalformedFileError{
				Pos: r.errPos(ref),
				Err: errors.New("object streams inside streams not allowed"),
			}
		}
		var err error
		obj, err = r.getFromObjectStream(ref.Number(), entry.InStream)
		if err != nil {
			return nil, err
		}
	} else {
		s := r.scannerAt(entry.Pos)
		var fileRef Reference
		var err error
		obj, fileRef, err = s.ReadIndirectObject()
		if err != nil {
			return nil, err
		}
		if fileRef != ref {
			return nil, &MalformedFileError{
				Pos: entry.Pos,
				Err: errors.New("xref corrupted"),
			}
		}
	}

	if _, isStream := obj.(*Stream); !isStream {
		// Stream contents are read lazily from the file, so streams cannot
		// be reused and are re-read on every access.
		r.cache.Put(ref, obj)
	}
	return obj, nil
}

type objStm struct {
	s   *scanner
	idx []stmObj
}

type stmObj struct {
	number uint32
	offs   int64
}

func (r *Reader) objStmScanner(stream *Stream, errPos int64) (*objStm, error) {
	N, ok := stream.Dict["N"].(Integer)
	if !ok || N < 0 || N > 10000 {
		return nil, &MalformedFileError{
			Pos: errPos,
			Err: errors.New("no valid /N for ObjStm"),
		}
	}
	n := int(N)

	var dec *encryptInfo
	if r.enc != nil && !stream.isEncrypted {
		dec = r.enc
	}

	decoded, err := DecodeStream(r, stream)
	if err != nil {
		return nil, &MalformedFileError{
			Pos: errPos,
			Err: err,
		}
	}
	s := newScanner(decoded, r.safeGetInt, dec)

	idx := make([]stmObj, n)
	for i := 0; i < n; i++ {
		err = s.SkipWhiteSpace()
		if err != nil {
			return nil, err
		}
		no, err := s.ReadInteger()
		if err != nil {
			return nil, err
		}
		err = s.SkipWhiteSpace()
		if err != nil {
			return nil, err
		}
		offs, err := s.ReadInteger()
		if err != nil {
			return nil, err
		}
		if no < 0 || no > 0xFFFF_FFFF || offs < 0 {
			return nil, &MalformedFileError{
				Pos: errPos,
				Err: errors.New("invalid ObjStm index"),
			}
		}
		idx[i].number = uint32(no)
		idx[i].offs = int64(offs)
	}

	first, ok := stream.Dict["First"].(Integer)
	if !ok || int64(first) < s.currentPos() {
		return nil, &MalformedFileError{
			Pos: errPos,
			Err: errors.New("no valid /First for ObjStm"),
		}
	}
	for i := range idx {
		idx[i].offs += int64(first)
	}

	return &objStm{s: s, idx: idx}, nil
}

func (r *Reader) getFromObjectStream(number uint32, sRef Reference) (Object, error) {
	container, err := r.doGet(sRef, false)
	if err != nil {
		return nil, err
	}
	stream, ok := container.(*Stream)
	if !ok {
		return nil, &MalformedFileError{
			Pos: r.errPos(sRef),
			Err: errors.New("wrong type for object stream"),
		}
	}

	contents, err := r.objStmScanner(stream, r.errPos(sRef))
	if err != nil {
		return nil, err
	}

	s := contents.s
	for _, info := range contents.idx {
		if info.number != number {
			continue
		}

		delta := info.offs - s.currentPos()
		if delta < 0 {
			return nil, &MalformedFileError{
				Pos: r.errPos(sRef),
				Err: errors.New("invalid ObjStm offsets"),
			}
		}
		err = s.Discard(delta)
		if err != nil {
			return nil, err
		}
		err = s.SkipWhiteSpace()
		if err != nil {
			return nil, err
		}
		return s.ReadObject()
	}

	return nil, &MalformedFileError{
		Pos: r.errPos(sRef),
		Err: errors.New("object missing from stream"),
	}
}

func (r *Reader) safeGetInt(obj Object) (Integer, error) {
	if x, ok := obj.(Integer); ok {
		return x, nil
	}

	if r.level > 2 {
		return 0, &MalformedFileError{
			Pos: r.errPos(obj),
			Err: errors.New("too much indirection in stream Length"),
		}
	}
	r.level++
	val, err := GetInt(r, obj)
	r.level--
	return val, err
}

func (r *Reader) scannerAt(pos int64) *scanner {
	s := newScanner(io.NewSectionReader(r.r, pos, r.size-pos),
		r.safeGetInt, r.enc)
	s.filePos = pos
	s.origin = pos
	s.special = r.special
	return s
}

func (r *Reader) errPos(obj Object) int64 {
	ref, ok := obj.(Reference)
	if !ok {
		return 0
	}
	if r.xref == nil {
		return 0
	}

	number := ref.Number()
	gen := ref.Generation()
	for i := 0; i < 16; i++ {
		entry := r.xref[number]
		if entry.IsFree() || entry.Generation != gen {
			return 0
		}

		if entry.InStream == 0 {
			return entry.Pos
		}
		number = entry.InStream.Number()
		gen = entry.InStream.Generation()
	}
	return 0
}

// clone returns a copy of the Reader which can be used concurrently with
// the original.  The underlying file, cross reference table and encryption
// key are shared, the object cache is not.
func (r *Reader) clone() *Reader {
	r2 := &Reader{}
	*r2 = *r
	r2.cache = newCache(objectCacheSize)
	if r.enc != nil {
		enc := *r.enc
		sec := *r.enc.sec
		enc.sec = &sec
		r2.enc = &enc
	}
	return r2
}

// wrap adds context to an error.  The original error remains available via
// [errors.Is] and [errors.As].
func wrap(err error, loc string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", loc, err)
}
