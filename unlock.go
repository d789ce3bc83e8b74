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

package pdfunlock

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Options controls the way a PDF document is unlocked.
type Options struct {
	// Password is tried first when the file is encrypted.  The empty
	// password is always tried before this one.
	Password string

	// ReadPassword is called when the file is encrypted and Password (if
	// set) turned out to be wrong.  See [ReadPwdFunc] for the calling
	// conventions.
	ReadPassword ReadPwdFunc

	// MaxObjects limits the number of indirect objects the file may
	// contain.  If this is zero, a built-in limit is used.
	MaxObjects int

	// MaxStreamBytes limits the total amount of stream data the file may
	// contain, in bytes.  If this is zero, no limit is applied.
	MaxStreamBytes int64

	// OmitID removes the /ID entry from the trailer of the output file.
	// By default the file identifier is kept.
	OmitID bool

	// Log, if non-nil, receives diagnostic messages about repairs applied
	// while reading damaged files.
	Log *slog.Logger
}

// Unlock removes password protection and usage restrictions from a PDF
// document.
//
// The empty password is tried first, then the given password, both as user
// and as owner password.  On success, the returned bytes form a valid,
// unencrypted PDF file with the same contents as the input.  If the file
// cannot be decrypted, an [AuthenticationError] is returned.  Input which
// is not a PDF file is reported as [ErrNoPDF] or as a
// [MalformedFileError].
func Unlock(data []byte, password string) ([]byte, error) {
	return UnlockContext(context.Background(), data, &Options{Password: password})
}

// UnlockContext is like [Unlock], with support for cancellation and with
// additional options.  If ctx is cancelled while the document is being
// read, the function returns an error wrapping ctx.Err().
//
// opt may be nil.
func UnlockContext(ctx context.Context, data []byte, opt *Options) ([]byte, error) {
	if opt == nil {
		opt = &Options{}
	}

	rOpt := &ReaderOptions{
		Password:     opt.Password,
		ReadPassword: opt.ReadPassword,
		MaxObjects:   opt.MaxObjects,
		Log:          opt.Log,
	}
	r, err := NewReader(bytes.NewReader(data), int64(len(data)), rOpt)
	if err != nil {
		return nil, err
	}
	if r.enc == nil {
		r.log.Debug("file is not encrypted")
	}

	doc, err := r.readDocument(ctx, opt.MaxStreamBytes)
	if enc := r.enc; enc != nil && enc.sec != nil {
		// The file encryption key is not needed any more once all objects
		// are decrypted and in memory.
		clear(enc.sec.key)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("unlock interrupted: %w", err)
		}
		return nil, err
	}

	trailer := doc.meta.Trailer
	if encObj, ok := trailer["Encrypt"]; ok {
		if ref, ok := encObj.(Reference); ok {
			delete(doc.objects, ref)
		}
		delete(trailer, "Encrypt")
	}
	if opt.OmitID {
		doc.meta.ID = nil
		delete(trailer, "ID")
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("unlock interrupted: %w", err)
	}

	buf := &bytes.Buffer{}
	err = doc.Write(buf)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
