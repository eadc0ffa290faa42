package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/KilimcininKorOglu/obakv"
)

// checkFailed marks an integrity problem, as opposed to a usage or I/O
// error.
type checkFailed struct {
	err error
}

func (c checkFailed) Error() string { return c.err.Error() }
func (c checkFailed) Unwrap() error { return c.err }

// StatCmd prints the statistics of the latest committed state.
type StatCmd struct {
	Path string `arg:"" help:"Database file" type:"existingfile"`
}

func (c *StatCmd) Run(rc *runContext) error {
	db, err := rc.openDB(c.Path, true)
	if err != nil {
		return err
	}
	defer db.Close()

	return db.View(func(r *obakv.ReadTxn) error {
		st, err := r.Stats()
		if err != nil {
			return err
		}
		w := rc.stdout
		fmt.Fprintf(w, "Database:         %s\n", c.Path)
		fmt.Fprintf(w, "  Transaction:    %d\n", st.TxnID)
		fmt.Fprintf(w, "  Page size:      %d\n", st.PageSize)
		fmt.Fprintf(w, "  File size:      %d bytes\n", st.FileSize)
		fmt.Fprintf(w, "  Tables:         %d\n", st.Tables)
		fmt.Fprintf(w, "  Entries:        %d\n", st.Entries)
		fmt.Fprintf(w, "  Savepoints:     %d\n", st.Savepoints)
		fmt.Fprintf(w, "  Tree height:    %d\n", st.TreeHeight)
		fmt.Fprintln(w, "Pages:")
		fmt.Fprintf(w, "  Total:          %d\n", st.TotalPages)
		fmt.Fprintf(w, "  Leaf:           %d\n", st.LeafPages)
		fmt.Fprintf(w, "  Branch:         %d\n", st.BranchPages)
		fmt.Fprintf(w, "  Overflow:       %d\n", st.OverflowPages)
		fmt.Fprintf(w, "  System:         %d\n", st.SystemPages)
		fmt.Fprintf(w, "  Free:           %d\n", st.FreePages)
		fmt.Fprintf(w, "  Pending:        %d\n", st.PendingPages)
		fmt.Fprintln(w, "Bytes:")
		fmt.Fprintf(w, "  Stored:         %d\n", st.StoredBytes)
		fmt.Fprintf(w, "  Metadata:       %d\n", st.MetadataBytes)
		fmt.Fprintf(w, "  Fragmented:     %d\n", st.FragmentedBytes)
		return nil
	})
}

// CheckCmd runs the integrity check.
type CheckCmd struct {
	Path string `arg:"" help:"Database file" type:"existingfile"`
}

func (c *CheckCmd) Run(rc *runContext) error {
	db, err := rc.openDB(c.Path, true)
	if err != nil {
		return err
	}
	defer db.Close()

	start := time.Now()
	if err := db.CheckIntegrity(); err != nil {
		return checkFailed{err}
	}
	fmt.Fprintf(rc.stdout, "%s: ok (%s)\n", c.Path, time.Since(start).Round(time.Millisecond))
	return nil
}

// CompactCmd compacts a database that no other process has open.
type CompactCmd struct {
	Path string `arg:"" help:"Database file" type:"existingfile"`
}

func (c *CompactCmd) Run(rc *runContext) error {
	db, err := rc.openDB(c.Path, false)
	if err != nil {
		return err
	}

	before := fileSize(db)
	shrank, err := db.Compact()
	after := fileSize(db)
	if cerr := db.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	if shrank {
		fmt.Fprintf(rc.stdout, "Compacted %s: %d -> %d bytes\n", c.Path, before, after)
	} else {
		fmt.Fprintf(rc.stdout, "Nothing to compact in %s (%d bytes)\n", c.Path, after)
	}
	return nil
}

func fileSize(db *obakv.DB) int64 {
	var size int64
	db.View(func(r *obakv.ReadTxn) error {
		st, err := r.Stats()
		size = st.FileSize
		return err
	})
	return size
}

// TablesCmd lists tables and their definitions.
type TablesCmd struct {
	Path string `arg:"" help:"Database file" type:"existingfile"`
}

func (c *TablesCmd) Run(rc *runContext) error {
	db, err := rc.openDB(c.Path, true)
	if err != nil {
		return err
	}
	defer db.Close()

	return db.View(func(r *obakv.ReadTxn) error {
		tables, err := r.Tables()
		if err != nil {
			return err
		}
		if len(tables) == 0 {
			fmt.Fprintln(rc.stdout, "No tables")
			return nil
		}
		fmt.Fprintf(rc.stdout, "%-24s %-10s %-12s %-12s %s\n", "NAME", "ENTRIES", "KEY", "VALUE", "ORDER")
		for _, t := range tables {
			fmt.Fprintf(rc.stdout, "%-24s %-10d %-12s %-12s %s\n", t.Name, t.Entries, t.KeyType, t.ValueType, t.Order)
		}
		return nil
	})
}

// DumpCmd prints the entries of one table in key order.
type DumpCmd struct {
	Path    string `arg:"" help:"Database file" type:"existingfile"`
	Table   string `arg:"" help:"Table name"`
	Limit   int    `short:"n" default:"0" help:"Stop after this many entries (0 for all)"`
	Hex     bool   `help:"Print keys and values in hex"`
	Reverse bool   `short:"r" help:"Print in descending key order"`
}

func (c *DumpCmd) Run(rc *runContext) error {
	db, err := rc.openDB(c.Path, true)
	if err != nil {
		return err
	}
	defer db.Close()

	return db.View(func(r *obakv.ReadTxn) error {
		def, err := r.Definition(c.Table)
		if err != nil {
			return fmt.Errorf("table %q: %w", c.Table, err)
		}
		tbl, err := r.OpenTable(def)
		if err != nil {
			return err
		}

		it := tbl.Range(nil, nil)
		if c.Reverse {
			it = tbl.RangeReverse(nil, nil)
		}
		n := 0
		for k, v := range it.All() {
			if c.Limit > 0 && n >= c.Limit {
				break
			}
			c.printEntry(rc.stdout, k, v)
			n++
		}
		return it.Err()
	})
}

func (c *DumpCmd) printEntry(w io.Writer, k, v []byte) {
	if c.Hex {
		fmt.Fprintf(w, "%s\t%s\n", hex.EncodeToString(k), hex.EncodeToString(v))
		return
	}
	fmt.Fprintf(w, "%s\t%s\n", strconv.Quote(string(k)), strconv.Quote(string(v)))
}

// SavepointsCmd lists persistent savepoints.
type SavepointsCmd struct {
	Path string `arg:"" help:"Database file" type:"existingfile"`
}

func (c *SavepointsCmd) Run(rc *runContext) error {
	db, err := rc.openDB(c.Path, true)
	if err != nil {
		return err
	}
	defer db.Close()

	return db.View(func(r *obakv.ReadTxn) error {
		list, err := r.ListSavepoints()
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Fprintln(rc.stdout, "No savepoints")
			return nil
		}
		fmt.Fprintf(rc.stdout, "%-8s %-12s %-25s %s\n", "ID", "TXN", "CREATED", "NAME")
		for _, sp := range list {
			fmt.Fprintf(rc.stdout, "%-8d %-12d %-25s %s\n", sp.ID, sp.TxnID, sp.CreatedAt.UTC().Format(time.RFC3339), sp.Name)
		}
		return nil
	})
}
