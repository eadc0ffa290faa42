package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ulikunitz/xz"
)

// xzMagic starts every xz stream.
var xzMagic = []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}

// BackupCmd writes a consistent copy of a database, optionally xz
// compressed.
type BackupCmd struct {
	Path string `arg:"" help:"Database file" type:"existingfile"`
	Out  string `short:"o" required:"" help:"Output file" type:"path"`
	XZ   bool   `name:"xz" help:"Compress the backup with xz"`
}

func (c *BackupCmd) Run(rc *runContext) error {
	db, err := rc.openDB(c.Path, true)
	if err != nil {
		return err
	}
	defer db.Close()

	start := time.Now()
	var raw, stored int64
	err = writeAtomically(c.Out, func(f io.Writer) error {
		counter := &countingWriter{w: f}
		var w io.Writer = counter
		var xw *xz.Writer
		if c.XZ {
			var err error
			if xw, err = xz.NewWriter(counter); err != nil {
				return err
			}
			w = xw
		}
		var err error
		if raw, err = db.Backup(w); err != nil {
			return err
		}
		if xw != nil {
			if err := xw.Close(); err != nil {
				return err
			}
		}
		stored = counter.n
		return nil
	})
	if err != nil {
		return fmt.Errorf("backup: %w", err)
	}

	fmt.Fprintf(rc.stdout, "Backup written to %s\n", c.Out)
	fmt.Fprintf(rc.stdout, "  Database bytes: %d\n", raw)
	fmt.Fprintf(rc.stdout, "  Written bytes:  %d\n", stored)
	fmt.Fprintf(rc.stdout, "  Compressed:     %v\n", c.XZ)
	fmt.Fprintf(rc.stdout, "  Duration:       %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}

// RestoreCmd creates a database file from a backup and verifies it.
type RestoreCmd struct {
	Backup string `arg:"" help:"Backup file, plain or xz compressed" type:"existingfile"`
	Out    string `short:"o" required:"" help:"Database file to create" type:"path"`
	Force  bool   `short:"f" help:"Overwrite an existing file"`
}

func (c *RestoreCmd) Run(rc *runContext) error {
	if !c.Force {
		if _, err := os.Stat(c.Out); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", c.Out)
		}
	}

	in, err := os.Open(c.Backup)
	if err != nil {
		return err
	}
	defer in.Close()

	br := bufio.NewReader(in)
	var r io.Reader = br
	head, err := br.Peek(len(xzMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	compressed := bytes.Equal(head, xzMagic)
	if compressed {
		r, err = xz.NewReader(br)
		if err != nil {
			return fmt.Errorf("restore: %w", err)
		}
	}

	var n int64
	err = writeAtomically(c.Out, func(f io.Writer) error {
		var err error
		n, err = io.Copy(f, r)
		return err
	})
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	db, err := rc.openDB(c.Out, true)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.CheckIntegrity(); err != nil {
		return checkFailed{fmt.Errorf("restored database failed the integrity check: %w", err)}
	}

	fmt.Fprintf(rc.stdout, "Restored %s to %s (%d bytes, compressed: %v)\n", c.Backup, c.Out, n, compressed)
	return nil
}

// writeAtomically writes a file through a temporary file in the same
// directory and renames it into place once fn succeeded.
func writeAtomically(path string, fn func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := fn(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
