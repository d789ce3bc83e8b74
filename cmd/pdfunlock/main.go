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

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"

	"golang.org/x/term"

	"seehuhn.de/go/pdfunlock"
)

var (
	passwdArg  = flag.String("p", "", "password to try for encrypted files")
	dirArg     = flag.String("d", "", "directory for the output files")
	outArg     = flag.String("o", "", "name of the output file (single input only)")
	forceArg   = flag.Bool("f", false, "overwrite existing output files")
	showArg    = flag.Bool("show", false, "show document metadata after unlocking")
	quietArg   = flag.Bool("q", false, "only report errors")
	verboseArg = flag.Bool("v", false, "print debugging information")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "pdfunlock - remove password protection from PDF files\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  pdfunlock [options] <file.pdf>...\n\n")
		fmt.Fprintf(os.Stderr, "Each input file is written to a new, unencrypted PDF file.  Unless\n")
		fmt.Fprintf(os.Stderr, "the -d or -o options are used, the output is stored next to the\n")
		fmt.Fprintf(os.Stderr, "input file, with \"decrypted_\" prepended to the file name.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  pdfunlock locked.pdf\n")
		fmt.Fprintf(os.Stderr, "  pdfunlock -p secret -o plain.pdf locked.pdf\n")
		fmt.Fprintf(os.Stderr, "  pdfunlock -d /tmp -f *.pdf\n")
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}
	if *outArg != "" && flag.NArg() > 1 {
		fmt.Fprintln(os.Stderr, "the -o option cannot be used with more than one input file")
		os.Exit(1)
	}

	level := slog.LevelWarn
	if *verboseArg {
		level = slog.LevelDebug
	}
	if *quietArg {
		level = slog.LevelError
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	readPwd := promptPassword()

	numFailed := 0
	for _, fname := range flag.Args() {
		err := unlockFile(fname, readPwd, log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", fname, err)
			numFailed++
		}
	}
	if numFailed > 0 {
		if flag.NArg() > 1 {
			fmt.Fprintf(os.Stderr, "failed to unlock %d of %d files\n",
				numFailed, flag.NArg())
		}
		os.Exit(1)
	}
}

func unlockFile(fname string, readPwd pdfunlock.ReadPwdFunc, log *slog.Logger) error {
	outName := outputName(fname)
	if !*forceArg {
		if _, err := os.Stat(outName); err == nil {
			log.Warn("output file already exists, use -f to overwrite",
				"file", outName)
			return nil
		}
	}

	data, err := os.ReadFile(fname)
	if err != nil {
		return err
	}

	opt := &pdfunlock.Options{
		Password:     *passwdArg,
		ReadPassword: readPwd,
		Log:          log.With("file", fname),
	}
	res, err := pdfunlock.UnlockContext(context.Background(), data, opt)
	if err != nil {
		return err
	}

	err = writeFile(outName, res)
	if err != nil {
		return err
	}
	if !*quietArg {
		fmt.Printf("unlocked %s -> %s\n", fname, outName)
	}

	if *showArg {
		return showFile(os.Stdout, res)
	}
	return nil
}

// outputName returns the name of the output file for the given input file.
func outputName(fname string) string {
	if *outArg != "" {
		return *outArg
	}
	dir := filepath.Dir(fname)
	if *dirArg != "" {
		dir = *dirArg
	}
	return filepath.Join(dir, "decrypted_"+filepath.Base(fname))
}

// writeFile stores data in the named file.  The data is first written to a
// temporary file in the same directory, so that a crash cannot leave a
// partially written output file behind.
func writeFile(fname string, data []byte) error {
	tmpName := fname + ".tmp"
	f, err := os.Create(tmpName)
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if err2 := f.Close(); err == nil {
		err = err2
	}
	if err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, fname)
}

// promptPassword returns a callback which asks the user for a password,
// with terminal echo disabled.  Up to three passwords are read before the
// authentication attempt is abandoned.  If standard input is not a
// terminal, nil is returned and only the password from the -p option (if
// any) is tried.
func promptPassword() pdfunlock.ReadPwdFunc {
	if !term.IsTerminal(syscall.Stdin) {
		return nil
	}
	return func(_ []byte, try int) string {
		if try >= 3 {
			return ""
		}
		if try > 0 || *passwdArg != "" {
			fmt.Fprintln(os.Stderr, "wrong password, try again")
		}
		fmt.Fprint(os.Stderr, "password: ")
		passwd, err := term.ReadPassword(syscall.Stdin)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return ""
		}
		return string(passwd)
	}
}
