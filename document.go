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
	"bytes"
	"context"
	"errors"
	"io"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/exp/maps"
)

// A Document is a complete PDF document loaded into memory.  The contents
// of all indirect objects, including stream data, are held in memory, so
// that the document can be modified and written out again after the
// original file is gone.
type Document struct {
	meta    MetaInfo
	objects map[Reference]Object

	// xrefIsStream records the form of cross reference data in the
	// original file, so that [Document.Write] can use the same form.
	xrefIsStream bool
}

// Read loads a complete PDF document into memory.
//
// If the file is encrypted, passwords are obtained via opt, and all strings
// and stream contents are decrypted.  Objects stored in object streams are
// unpacked and appear as ordinary top-level objects in the document.
func Read(data io.ReaderAt, size int64, opt *ReaderOptions) (*Document, error) {
	r, err := NewReader(data, size, opt)
	if err != nil {
		return nil, err
	}
	return r.readDocument(context.Background(), 0)
}

// GetMeta returns the meta information of the document.
func (d *Document) GetMeta() *MetaInfo {
	return &d.meta
}

// Get returns an object from the document.  If the object is not present,
// nil is returned without an error.
func (d *Document) Get(ref Reference) (Object, error) {
	obj := d.objects[ref]
	if s, ok := obj.(*Stream); ok {
		if rs, ok := s.R.(io.Seeker); ok {
			_, err := rs.Seek(0, io.SeekStart)
			if err != nil {
				return nil, err
			}
		}
	}
	return obj, nil
}

// Write writes the document to w as a PDF file.
//
// Objects are written in order of increasing object number, the cross
// reference data uses the same form as the original file, and the trailer
// refers to the original document catalog and information dictionary.
func (d *Document) Write(w io.Writer) error {
	opt := &WriterOptions{
		Version:    d.meta.Version,
		ID:         d.meta.ID,
		XRefStream: d.xrefIsStream,
	}
	pdf, err := NewWriter(w, opt)
	if err != nil {
		return err
	}

	meta := pdf.GetMeta()
	meta.Catalog = d.meta.Catalog
	meta.Info = d.meta.Info
	if ref, ok := d.meta.Trailer["Root"].(Reference); ok {
		meta.Trailer["Root"] = ref
	}
	if ref, ok := d.meta.Trailer["Info"].(Reference); ok {
		meta.Trailer["Info"] = ref
	}

	refs := maps.Keys(d.objects)
	sort.Slice(refs, func(i, j int) bool {
		return refs[i].Number() < refs[j].Number()
	})

	for _, ref := range refs {
		// Get rewinds stream data, so that the document can be written
		// more than once.
		obj, err := d.Get(ref)
		if err != nil {
			return err
		}
		err = pdf.Put(ref, obj)
		if err != nil {
			return err
		}
	}

	return pdf.Close()
}

// A readJob describes a group of objects for one worker to read.  For
// compressed objects, container is the object stream holding the group and
// refs lists all required members, so that the stream is decoded only once.
// For normal objects, container is zero and refs holds a single reference.
type readJob struct {
	refs      []Reference
	container Reference
}

type readResult struct {
	objects map[Reference]Object
	err     error
}

// readDocument reads every object listed in the cross reference table.
// Compressed objects are extracted from their object streams, stream
// contents are loaded into memory, and /Length entries are corrected.
// Object stream containers, cross reference streams and linearization
// dictionaries are not part of the result.
//
// The work is distributed over a pool of readers.  If maxStreamBytes is
// positive, reading fails with a [LimitError] once the total amount of
// stream data exceeds this many bytes.
func (r *Reader) readDocument(ctx context.Context, maxStreamBytes int64) (*Document, error) {
	doc := &Document{
		meta:         r.meta,
		objects:      make(map[Reference]Object, len(r.xref)),
		xrefIsStream: r.xrefIsStream,
	}

	jobs := r.readJobs()
	if len(jobs) == 0 {
		return doc, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var used atomic.Int64
	work := make(chan readJob)
	results := make(chan readResult)

	var wg sync.WaitGroup
	numWorkers := min(runtime.NumCPU(), len(jobs))
	for i := 0; i < numWorkers; i++ {
		rc := r.clone()
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range work {
				objects, err := rc.readObjects(ctx, job, &used, maxStreamBytes)
				select {
				case results <- readResult{objects, err}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		defer close(work)
		for _, job := range jobs {
			select {
			case work <- job:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	var firstErr error
	for res := range results {
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
				cancel()
			}
			continue
		}
		maps.Copy(doc.objects, res.objects)
	}
	if firstErr == nil {
		firstErr = ctx.Err()
	}
	if firstErr != nil {
		return nil, firstErr
	}

	r.log.Debug("document loaded",
		"objects", len(doc.objects),
		"streamBytes", used.Load())
	return doc, nil
}

// readJobs groups the used entries of the cross reference table into jobs
// for [Reader.readObjects].  Members of the same object stream share one
// job, all other objects get a job of their own.
func (r *Reader) readJobs() []readJob {
	isContainer := make(map[Reference]bool)
	for _, entry := range r.xref {
		if !entry.IsFree() && entry.InStream != 0 {
			isContainer[entry.InStream] = true
		}
	}

	members := make(map[Reference][]Reference)
	var plain []Reference
	for number, entry := range r.xref {
		if entry.IsFree() {
			continue
		}
		ref := NewReference(number, entry.Generation)
		if entry.InStream != 0 {
			members[entry.InStream] = append(members[entry.InStream], ref)
		} else if !isContainer[ref] {
			plain = append(plain, ref)
		}
	}

	// Read top-level objects in file order.
	sort.Slice(plain, func(i, j int) bool {
		return r.xref[plain[i].Number()].Pos < r.xref[plain[j].Number()].Pos
	})

	jobs := make([]readJob, 0, len(plain)+len(members))
	for _, ref := range plain {
		jobs = append(jobs, readJob{refs: []Reference{ref}})
	}
	containers := maps.Keys(members)
	sort.Slice(containers, func(i, j int) bool {
		return containers[i].Number() < containers[j].Number()
	})
	for _, sRef := range containers {
		jobs = append(jobs, readJob{refs: members[sRef], container: sRef})
	}
	return jobs
}

func (r *Reader) readObjects(ctx context.Context, job readJob, used *atomic.Int64, maxStreamBytes int64) (map[Reference]Object, error) {
	if job.container != 0 {
		return r.readCompressed(ctx, job.container, job.refs)
	}

	objects := make(map[Reference]Object, len(job.refs))
	for _, ref := range job.refs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		obj, err := r.Get(ref)
		if err != nil {
			return nil, err
		}
		if obj == nil {
			continue
		}

		if dict, ok := obj.(Dict); ok {
			if _, isLin := dict["Linearized"]; isLin {
				// Linearization parameters describe the layout of the
				// original file and cannot be carried over.
				continue
			}
		}
		if stm, ok := obj.(*Stream); ok {
			switch stm.Dict["Type"] {
			case Name("ObjStm"), Name("XRef"):
				// The writer recreates these as needed.
				continue
			}

			body, err := io.ReadAll(stm.R)
			if err != nil {
				return nil, err
			}
			if maxStreamBytes > 0 && used.Add(int64(len(body))) > maxStreamBytes {
				return nil, &LimitError{Limit: "total stream size"}
			}
			stm.Dict["Length"] = Integer(len(body))
			obj = &Stream{Dict: stm.Dict, R: bytes.NewReader(body)}
		}

		objects[ref] = obj
	}
	return objects, nil
}

// readCompressed reads the given members of a single object stream.  The
// members are read in the order they are stored in, so that the stream
// contents only need to be decoded once.
func (r *Reader) readCompressed(ctx context.Context, sRef Reference, refs []Reference) (map[Reference]Object, error) {
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

	want := make(map[uint32]bool, len(refs))
	for _, ref := range refs {
		want[ref.Number()] = true
	}
	sel := make([]stmObj, 0, len(refs))
	for _, info := range contents.idx {
		if !want[info.number] {
			continue
		}
		delete(want, info.number)
		sel = append(sel, info)
	}
	if len(want) > 0 {
		return nil, &MalformedFileError{
			Pos: r.errPos(sRef),
			Err: errors.New("object missing from stream"),
		}
	}
	sort.Slice(sel, func(i, j int) bool {
		return sel[i].offs < sel[j].offs
	})

	objects := make(map[Reference]Object, len(sel))
	s := contents.s
	for _, info := range sel {
		if err := ctx.Err(); err != nil {
			return nil, err
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
		obj, err := s.ReadObject()
		if err != nil {
			return nil, err
		}
		if obj != nil {
			objects[NewReference(info.number, 0)] = obj
		}
	}
	return objects, nil
}
