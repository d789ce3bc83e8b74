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
	"errors"
	"fmt"
	"io"
)

// A Getter provides read access to the objects of a PDF file.
// Both [Reader] and [Document] implement this interface.
type Getter interface {
	GetMeta() *MetaInfo
	Get(Reference) (Object, error)
}

// A Putter accepts the objects of a PDF file as they are written.
// This interface is implemented by [Writer].
type Putter interface {
	Close() error
	GetMeta() *MetaInfo
	Alloc() Reference
	Put(ref Reference, obj Object) error
	OpenStream(ref Reference, dict Dict, filters ...Filter) (io.WriteCloser, error)
}

// maxIndirection limits how many references Resolve follows before it
// gives up.  This protects against reference loops in the input file.
const maxIndirection = 16

// Resolve replaces references to indirect objects by the objects they
// refer to.  Chains of references are followed to their end, and any
// object which is not a [Reference] is returned unchanged.
//
// If a chain of references does not end after maxIndirection steps, the
// function assumes a reference loop and returns an error of type
// [MalformedFileError].
func Resolve(r Getter, obj Object) (Object, error) {
	for depth := 0; ; depth++ {
		ref, ok := obj.(Reference)
		if !ok {
			return obj, nil
		}
		if depth >= maxIndirection {
			return nil, &MalformedFileError{
				Err: errors.New("too many levels of indirection"),
			}
		}
		if r == nil {
			return nil, &MalformedFileError{
				Err: errors.New("unexpected indirect object"),
			}
		}
		next, err := r.Get(ref)
		if err != nil {
			return nil, err
		}
		obj = next
	}
}

// resolveTo resolves obj and converts the result to type T.
func resolveTo[T Object](r Getter, obj Object) (T, error) {
	var zero T
	obj, err := Resolve(r, obj)
	if err != nil || obj == nil {
		return zero, err
	}
	val, ok := obj.(T)
	if !ok {
		return zero, &MalformedFileError{
			Err: fmt.Errorf("expected %T but got %T", zero, obj),
		}
	}
	return val, nil
}

// The following functions resolve an object and convert it to a concrete
// PDF type.  They all have the form
//
//	func GetT(r Getter, obj Object) (x T, err error)
//
// where T is the requested type.  A `null` object yields the zero value
// of the requested type, without error.  An object of any other type
// causes an error of type [MalformedFileError].
var (
	GetArray  = resolveTo[Array]
	GetBool   = resolveTo[Bool]
	GetDict   = resolveTo[Dict]
	GetInt    = resolveTo[Integer]
	GetName   = resolveTo[Name]
	GetReal   = resolveTo[Real]
	GetStream = resolveTo[*Stream]
	GetString = resolveTo[String]
)
