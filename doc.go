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

// Package pdfunlock removes password protection and usage restrictions
// from PDF files.
//
// The main entry point is [Unlock], which takes the bytes of a PDF file
// and returns an equivalent file with all encryption removed:
//
//	out, err := pdfunlock.Unlock(in, "secret")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// The empty password is always tried first, so files which merely set
// usage restrictions unlock without a password.  [UnlockContext] gives
// control over cancellation, password prompts and safety limits.
//
// Files using the PDF standard security handler are supported, covering
// RC4 and AES encryption with 40 to 256 bit keys (security handler
// revisions 2, 3, 4 and 6).  Files encrypted with other security
// handlers, for example DRM schemes, are rejected with an
// [UnsupportedHandlerError].
//
// The lower-level API is available for inspecting files: a [Reader]
// reads individual objects from a PDF file, a [Document] holds a
// complete file in memory, and a [Writer] produces new PDF files,
// optionally encrypted.
//
// The following types implement the native PDF object types.  All of
// these implement the [Object] interface:
//
//	Array
//	Bool
//	Dict
//	Integer
//	Name
//	Real
//	Reference
//	Stream
//	String
package pdfunlock
