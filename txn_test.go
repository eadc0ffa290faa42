package obakv

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/KilimcininKorOglu/obakv/internal/storage"
)

// copyFile snapshots the bytes of a database file the way a crash would
// leave them: without the in-memory state of the open DB.
func copyFile(t *testing.T, src string) string {
	t.Helper()
	data, err := os.ReadFile(src)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	dst := filepath.Join(t.TempDir(), "copy.okv")
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return dst
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	return data
}

func pageBytes(data []byte, pageSize int, id storage.PageID) []byte {
	off := int(id) * pageSize
	return data[off : off+pageSize]
}

// statePages returns the on-disk bytes of every page the committed state
// meta references: the system trees, every table with its overflow chains
// and the free-list chain. Metapage slots are not included.
func statePages(t *testing.T, db *DB, path string, meta storage.Meta) map[storage.PageID][]byte {
	t.Helper()
	ids, err := db.reachable(meta.CatalogRoot)
	if err != nil {
		t.Fatalf("reachable() error = %v", err)
	}
	add := func(id storage.PageID, _ storage.PageType, _ int) error {
		ids[id] = struct{}{}
		return nil
	}
	for _, root := range []storage.PageID{meta.FreedRoot, meta.SavepointRoot} {
		if err := db.readTree(root, nil).Walk(add); err != nil {
			t.Fatalf("Walk() error = %v", err)
		}
	}
	_, chain, err := storage.LoadFreeList(db.pm, meta.FreeListHead, meta.FreeListCount)
	if err != nil {
		t.Fatalf("LoadFreeList() error = %v", err)
	}
	for _, id := range chain {
		ids[id] = struct{}{}
	}

	data := readFile(t, path)
	pages := make(map[storage.PageID][]byte, len(ids))
	for id := range ids {
		pages[id] = bytes.Clone(pageBytes(data, db.PageSize(), id))
	}
	return pages
}

// changedPages returns the pages of want whose bytes in the file differ.
func changedPages(t *testing.T, path string, pageSize int, want map[storage.PageID][]byte) []storage.PageID {
	t.Helper()
	data := readFile(t, path)
	var changed []storage.PageID
	for id, page := range want {
		if !bytes.Equal(pageBytes(data, pageSize, id), page) {
			changed = append(changed, id)
		}
	}
	return changed
}

func roundValue(round, i int) []byte {
	return []byte(fmt.Sprintf("round-%03d-%06d", round, i))
}

// rewrite replaces the values of keys [0, 300) in one commit.
func rewrite(t *testing.T, db *DB, round int) {
	t.Helper()
	err := db.Update(func(w *WriteTxn) error {
		tbl, err := w.OpenTable(testTable)
		if err != nil {
			return err
		}
		for i := 0; i < 300; i++ {
			if _, err := tbl.Insert(key(i), roundValue(round, i)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("rewrite(%d) error = %v", round, err)
	}
}

// assertRound checks that tbl holds exactly keys [0, 300) with the values
// written by rewrite(round).
func assertRound(t *testing.T, tbl *ReadOnlyTable, round int) {
	t.Helper()
	i := 0
	it := tbl.Range(nil, nil)
	for k, v := range it.All() {
		if !bytes.Equal(k, key(i)) || !bytes.Equal(v, roundValue(round, i)) {
			t.Fatalf("entry %d = %s=%s, want %s=%s", i, k, v, key(i), roundValue(round, i))
		}
		i++
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iteration error = %v", err)
	}
	if i != 300 {
		t.Errorf("iterated %d entries, want 300", i)
	}
}

// =============================================================================
// Isolation
// =============================================================================

func TestSnapshotIsolation(t *testing.T) {
	db, _ := newTestDB(t)
	mustInsert(t, db, testTable, []byte("k"), []byte("old"))

	r, err := db.BeginRead()
	if err != nil {
		t.Fatalf("BeginRead() error = %v", err)
	}
	defer r.Close()
	tbl, err := r.OpenTable(testTable)
	if err != nil {
		t.Fatalf("OpenTable() error = %v", err)
	}

	// Rewrite enough for the old pages to be freed several times over.
	for i := 0; i < 5; i++ {
		mustInsert(t, db, testTable, []byte("k"), []byte(fmt.Sprintf("new-%d", i)))
		fill(t, db, testTable, i*200, (i+1)*200)
	}

	if v, err := tbl.Get([]byte("k")); err != nil || string(v) != "old" {
		t.Errorf("reader Get(k) = %q, %v; want \"old\"", v, err)
	}
	if v, _ := tbl.Get(key(0)); v != nil {
		t.Errorf("reader sees a key committed after it began: %q", v)
	}
	if got := mustGet(t, db, testTable, []byte("k")); string(got) != "new-4" {
		t.Errorf("new reader Get(k) = %q, want \"new-4\"", got)
	}
}

func TestUncommittedInvisible(t *testing.T) {
	db, _ := newTestDB(t)
	mustInsert(t, db, testTable, []byte("a"), []byte("1"))

	w, err := db.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite() error = %v", err)
	}
	tbl, _ := w.OpenTable(testTable)
	tbl.Insert([]byte("a"), []byte("2"))
	tbl.Insert([]byte("b"), []byte("3"))

	if got := mustGet(t, db, testTable, []byte("a")); string(got) != "1" {
		t.Errorf("Get(a) during write = %q, want \"1\"", got)
	}

	if err := w.Abort(); err != nil {
		t.Fatalf("Abort() error = %v", err)
	}
	if got := mustGet(t, db, testTable, []byte("b")); got != nil {
		t.Errorf("Get(b) after Abort = %q, want nil", got)
	}
	if err := db.CheckIntegrity(); err != nil {
		t.Errorf("CheckIntegrity() after Abort error = %v", err)
	}
}

func TestAbortLeavesFileUnchanged(t *testing.T) {
	blobTable := TableDefinition{Name: "blobs", KeyType: "bytes", ValueType: "bytes"}
	boom := errors.New("boom")

	// work touches every kind of page: leaf splits, removals, overflow
	// chains and a new catalog entry.
	work := func(w *WriteTxn) error {
		tbl, err := w.OpenTable(testTable)
		if err != nil {
			return err
		}
		for i := 300; i < 1300; i++ {
			if _, err := tbl.Insert(key(i), value(i)); err != nil {
				return err
			}
		}
		for i := 0; i < 100; i++ {
			if _, err := tbl.Remove(key(i)); err != nil {
				return err
			}
		}
		for i := 100; i < 200; i++ {
			if _, err := tbl.Insert(key(i), []byte("changed")); err != nil {
				return err
			}
		}
		blobs, err := w.OpenTable(blobTable)
		if err != nil {
			return err
		}
		if _, err := blobs.Insert([]byte("blob-0"), bytes.Repeat([]byte("b"), 7000)); err != nil {
			return err
		}
		if _, err := blobs.Insert([]byte("blob-1"), bytes.Repeat([]byte("c"), 20000)); err != nil {
			return err
		}
		extra, err := w.OpenTable(TableDefinition{Name: "extra", KeyType: "bytes", ValueType: "bytes"})
		if err != nil {
			return err
		}
		_, err = extra.Insert([]byte("k"), []byte("v"))
		return err
	}

	tests := []struct {
		name string
		end  func(t *testing.T, db *DB)
	}{
		{"abort", func(t *testing.T, db *DB) {
			w, err := db.BeginWrite()
			if err != nil {
				t.Fatalf("BeginWrite() error = %v", err)
			}
			if err := work(w); err != nil {
				t.Fatalf("write error = %v", err)
			}
			if err := w.Abort(); err != nil {
				t.Fatalf("Abort() error = %v", err)
			}
		}},
		{"update error", func(t *testing.T, db *DB) {
			err := db.Update(func(w *WriteTxn) error {
				if err := work(w); err != nil {
					return err
				}
				return boom
			})
			if !errors.Is(err, boom) {
				t.Fatalf("Update() error = %v, want %v", err, boom)
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, path := newTestDB(t)
			fill(t, db, testTable, 0, 300)
			mustInsert(t, db, blobTable, []byte("blob-0"), bytes.Repeat([]byte("a"), 5000))
			// A second pass leaves free pages for the aborted writer to use.
			fill(t, db, testTable, 0, 300)

			ps := db.PageSize()
			committed := statePages(t, db, path, db.state.Load().meta)
			slots := bytes.Clone(readFile(t, path)[:2*ps])

			tt.end(t, db)

			if got := readFile(t, path)[:2*ps]; !bytes.Equal(got, slots) {
				t.Error("metapage slots changed")
			}
			if changed := changedPages(t, path, ps, committed); len(changed) > 0 {
				t.Errorf("pages of the committed state changed: %v", changed)
			}

			if got := mustGet(t, db, testTable, key(0)); !bytes.Equal(got, value(0)) {
				t.Errorf("Get(0) = %q, want %q", got, value(0))
			}
			if got := mustGet(t, db, testTable, key(300)); got != nil {
				t.Errorf("Get(300) = %q, want nil", got)
			}
			if got := mustGet(t, db, blobTable, []byte("blob-1")); got != nil {
				t.Errorf("Get(blob-1) has %d bytes, want nil", len(got))
			}
			if err := db.CheckIntegrity(); err != nil {
				t.Errorf("CheckIntegrity() error = %v", err)
			}

			// The pages the aborted writer used are free again.
			fill(t, db, testTable, 300, 400)
			if err := db.CheckIntegrity(); err != nil {
				t.Errorf("CheckIntegrity() after the next commit error = %v", err)
			}
		})
	}
}

func TestTransactionStateErrors(t *testing.T) {
	db, _ := newTestDB(t)

	w, err := db.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite() error = %v", err)
	}
	tbl, _ := w.OpenTable(testTable)
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	if err := w.Commit(); !errors.Is(err, ErrTxNotActive) {
		t.Errorf("Commit() twice error = %v, want ErrTxNotActive", err)
	}
	if err := w.Abort(); !errors.Is(err, ErrTxNotActive) {
		t.Errorf("Abort() after Commit error = %v, want ErrTxNotActive", err)
	}
	if _, err := tbl.Insert([]byte("a"), nil); !errors.Is(err, ErrTxNotActive) {
		t.Errorf("Insert() after Commit error = %v, want ErrTxNotActive", err)
	}
	if _, err := w.OpenTable(testTable); !errors.Is(err, ErrTxNotActive) {
		t.Errorf("OpenTable() after Commit error = %v, want ErrTxNotActive", err)
	}
}

func TestConcurrentReaders(t *testing.T) {
	db, _ := newTestDB(t)
	const keys = 50
	rounds := 100
	if testing.Short() {
		rounds = 20
	}

	writeRound := func(round int) error {
		return db.Update(func(w *WriteTxn) error {
			tbl, err := w.OpenTable(testTable)
			if err != nil {
				return err
			}
			for i := 0; i < keys; i++ {
				if _, err := tbl.Insert(key(i), fmt.Appendf(nil, "%d", round)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := writeRound(0); err != nil {
		t.Fatalf("writeRound(0) error = %v", err)
	}

	stop := make(chan struct{})
	errs := make(chan error, 8)
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				err := db.View(func(r *ReadTxn) error {
					tbl, err := r.OpenTable(testTable)
					if err != nil {
						return err
					}
					var first []byte
					for _, v := range tbl.Range(nil, nil).All() {
						if first == nil {
							first = v
						} else if !bytes.Equal(first, v) {
							return fmt.Errorf("snapshot mixes rounds %s and %s", first, v)
						}
					}
					return nil
				})
				if err != nil {
					errs <- err
					return
				}
			}
		}()
	}

	for round := 1; round < rounds; round++ {
		if err := writeRound(round); err != nil {
			t.Fatalf("writeRound(%d) error = %v", round, err)
		}
	}
	close(stop)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	if err := db.CheckIntegrity(); err != nil {
		t.Errorf("CheckIntegrity() error = %v", err)
	}
}

// =============================================================================
// Space reuse
// =============================================================================

func TestFreedPagesReused(t *testing.T) {
	db, _ := newTestDB(t)
	fill(t, db, testTable, 0, 200)

	pages := func() uint64 {
		var n uint64
		db.View(func(r *ReadTxn) error {
			st, err := r.Stats()
			n = st.TotalPages
			return err
		})
		return n
	}

	for i := 0; i < 20; i++ {
		fill(t, db, testTable, 0, 200)
	}
	settled := pages()
	for i := 0; i < 200; i++ {
		fill(t, db, testTable, 0, 200)
	}
	if got := pages(); got > settled+32 {
		t.Errorf("TotalPages grew from %d to %d while rewriting the same keys", settled, got)
	}
}

func TestReaderPinsFreedPages(t *testing.T) {
	db, path := newTestDB(t)
	fill(t, db, testTable, 0, 300)
	rewrite(t, db, 0)

	totalPages := func() uint64 {
		var n uint64
		db.View(func(r *ReadTxn) error {
			st, err := r.Stats()
			n = st.TotalPages
			return err
		})
		return n
	}

	r, err := db.BeginRead()
	if err != nil {
		t.Fatalf("BeginRead() error = %v", err)
	}
	pinned := statePages(t, db, path, r.meta)
	start := totalPages()

	// Every commit frees the pages of the state before it; the ones the
	// reader sees must stay pending.
	for round := 1; round <= 30; round++ {
		rewrite(t, db, round)
	}
	withReader := totalPages()

	if changed := changedPages(t, path, db.PageSize(), pinned); len(changed) > 0 {
		t.Fatalf("%d pages of the open snapshot were overwritten: %v", len(changed), changed)
	}
	tbl, err := r.OpenTable(testTable)
	if err != nil {
		t.Fatalf("OpenTable() error = %v", err)
	}
	assertRound(t, tbl, 0)
	if err := r.checkIntegrity(); err != nil {
		t.Errorf("snapshot integrity error = %v", err)
	}
	if withReader <= start {
		t.Errorf("TotalPages = %d with a reader open, want more than %d", withReader, start)
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	for round := 31; round <= 130; round++ {
		rewrite(t, db, round)
	}
	if after := totalPages(); after > withReader {
		t.Errorf("TotalPages grew from %d to %d after the reader closed", withReader, after)
	}
	if err := db.CheckIntegrity(); err != nil {
		t.Errorf("CheckIntegrity() error = %v", err)
	}
	if err := db.View(func(r *ReadTxn) error {
		tbl, err := r.OpenTable(testTable)
		if err != nil {
			return err
		}
		assertRound(t, tbl, 130)
		return nil
	}); err != nil {
		t.Fatalf("View() error = %v", err)
	}
}

func TestStatsAccounting(t *testing.T) {
	db, _ := newTestDB(t)
	fill(t, db, testTable, 0, 1000)

	err := db.Update(func(w *WriteTxn) error {
		tbl, err := w.OpenTable(testTable)
		if err != nil {
			return err
		}
		for i := 0; i < 500; i++ {
			if _, err := tbl.Remove(key(i)); err != nil {
				return err
			}
		}
		st, err := w.Stats()
		if err != nil {
			return err
		}
		if st.Entries != 500 {
			t.Errorf("write Stats().Entries = %d, want 500", st.Entries)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	err = db.View(func(r *ReadTxn) error {
		st, err := r.Stats()
		if err != nil {
			return err
		}
		used := st.AllocatedPages() + st.FreePages + st.PendingPages + 2
		// Free-list chain pages are the only pages outside these counters.
		if used > st.TotalPages || st.TotalPages-used > 4 {
			t.Errorf("pages do not add up: %+v", st)
		}
		if st.StoredBytes == 0 || st.MetadataBytes == 0 || st.PageSize != 1024 {
			t.Errorf("Stats() = %+v", st)
		}
		if st.FileSize < int64(st.TotalPages)*int64(st.PageSize) {
			t.Errorf("FileSize %d is below TotalPages*PageSize", st.FileSize)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View() error = %v", err)
	}
}

// =============================================================================
// Durability and recovery
// =============================================================================

func TestCrashKeepsLastCommit(t *testing.T) {
	db, path := newTestDB(t)
	fill(t, db, testTable, 0, 300)

	crashed := openTestDB(t, copyFile(t, path), testOptions())
	if got := mustGet(t, crashed, testTable, key(299)); !bytes.Equal(got, value(299)) {
		t.Errorf("Get() after crash = %q, want %q", got, value(299))
	}
	if err := crashed.CheckIntegrity(); err != nil {
		t.Errorf("CheckIntegrity() after crash error = %v", err)
	}
}

func TestCrashBeforeMetapageKeepsPreviousCommit(t *testing.T) {
	db, path := newTestDB(t)
	fill(t, db, testTable, 0, 300)
	for round := 0; round < 5; round++ {
		rewrite(t, db, round)
	}

	ps := db.PageSize()
	meta := db.state.Load().meta
	pool, _, err := storage.LoadFreeList(db.pm, meta.FreeListHead, meta.FreeListCount)
	if err != nil {
		t.Fatalf("LoadFreeList() error = %v", err)
	}
	if len(pool) == 0 {
		t.Fatal("no free pages before the interrupted commit")
	}
	before := readFile(t, path)

	err = db.Update(func(w *WriteTxn) error {
		tbl, err := w.OpenTable(testTable)
		if err != nil {
			return err
		}
		for i := 0; i < 600; i++ {
			if _, err := tbl.Insert(key(i), []byte("lost")); err != nil {
				return err
			}
		}
		_, err = tbl.Insert([]byte("big"), bytes.Repeat([]byte("x"), 4000))
		return err
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	after := readFile(t, path)
	reused := 0
	for _, id := range pool {
		if !bytes.Equal(pageBytes(before, ps, id), pageBytes(after, ps, id)) {
			reused++
		}
	}
	if reused == 0 {
		t.Fatal("the commit did not overwrite any free page")
	}

	// Data pages reached the file, the metapage did not.
	copy(after[:2*ps], before[:2*ps])
	cp := filepath.Join(t.TempDir(), "interrupted.okv")
	if err := os.WriteFile(cp, after, 0o644); err != nil {
		t.Fatal(err)
	}

	crashed := openTestDB(t, cp, testOptions())
	err = crashed.View(func(r *ReadTxn) error {
		if r.ID() != meta.TxnID {
			t.Errorf("recovered txn = %d, want %d", r.ID(), meta.TxnID)
		}
		tbl, err := r.OpenTable(testTable)
		if err != nil {
			return err
		}
		assertRound(t, tbl, 4)
		return nil
	})
	if err != nil {
		t.Fatalf("View() error = %v", err)
	}
	if got := mustGet(t, crashed, testTable, []byte("big")); got != nil {
		t.Errorf("Get(big) has %d bytes, want nil", len(got))
	}
	if err := crashed.CheckIntegrity(); err != nil {
		t.Fatalf("CheckIntegrity() error = %v", err)
	}

	fill(t, crashed, testTable, 0, 50)
	if err := crashed.CheckIntegrity(); err != nil {
		t.Errorf("CheckIntegrity() after a new commit error = %v", err)
	}
}

func TestTornMetapageFallsBack(t *testing.T) {
	db, path := newTestDB(t)
	fill(t, db, testTable, 0, 100)   // txn 1, slot 1
	fill(t, db, testTable, 100, 200) // txn 2, slot 0

	cp := copyFile(t, path)
	f, err := os.OpenFile(cp, os.O_RDWR, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt([]byte{0xFF, 0xFF}, 40); err != nil {
		t.Fatal(err)
	}
	f.Close()

	recovered := openTestDB(t, cp, testOptions())
	if got := mustGet(t, recovered, testTable, key(50)); !bytes.Equal(got, value(50)) {
		t.Errorf("Get(50) = %q, want %q", got, value(50))
	}
	if got := mustGet(t, recovered, testTable, key(150)); got != nil {
		t.Errorf("Get(150) = %q, want nil: the torn commit must be lost", got)
	}
	if err := recovered.CheckIntegrity(); err != nil {
		t.Errorf("CheckIntegrity() error = %v", err)
	}
}

func TestBothMetapagesCorrupt(t *testing.T) {
	db, path := newTestDB(t)
	fill(t, db, testTable, 0, 10)

	cp := copyFile(t, path)
	f, err := os.OpenFile(cp, os.O_RDWR, 0)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteAt([]byte{0xFF}, 40)
	f.WriteAt([]byte{0xFF}, 1024+40)
	f.Close()

	if _, err := Open(cp, nil); !errors.Is(err, ErrCorruption) {
		t.Errorf("Open() error = %v, want ErrCorruption", err)
	}
}

func TestDurabilityNone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relaxed.okv")
	opts := testOptions()
	db, err := Open(path, &opts)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	fill(t, db, testTable, 0, 100)

	for i := 0; i < 5; i++ {
		err := db.Update(func(w *WriteTxn) error {
			if err := w.SetDurability(DurabilityNone); err != nil {
				return err
			}
			tbl, err := w.OpenTable(testTable)
			if err != nil {
				return err
			}
			for j := 0; j < 100; j++ {
				if _, err := tbl.Insert(key(j), fmt.Appendf(nil, "relaxed-%d", i)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			t.Fatalf("relaxed Update() error = %v", err)
		}
	}

	// A crash now loses the relaxed commits but not the durable one.
	crashed := openTestDB(t, copyFile(t, path), testOptions())
	if got := mustGet(t, crashed, testTable, key(5)); !bytes.Equal(got, value(5)) {
		t.Errorf("Get() after crash = %q, want the durable %q", got, value(5))
	}
	if err := crashed.CheckIntegrity(); err != nil {
		t.Errorf("CheckIntegrity() after crash error = %v", err)
	}

	// Close persists them.
	if err := db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	db = openTestDB(t, path, testOptions())
	if got := mustGet(t, db, testTable, key(5)); string(got) != "relaxed-4" {
		t.Errorf("Get() after Close = %q, want \"relaxed-4\"", got)
	}
	if err := db.CheckIntegrity(); err != nil {
		t.Errorf("CheckIntegrity() error = %v", err)
	}
}

func TestDurabilityNoneThenImmediate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mixed.okv")
	db := openTestDB(t, path, testOptions().WithDurability(DurabilityNone))
	fill(t, db, testTable, 0, 50)

	err := db.Update(func(w *WriteTxn) error {
		if err := w.SetDurability(DurabilityImmediate); err != nil {
			return err
		}
		tbl, err := w.OpenTable(testTable)
		if err != nil {
			return err
		}
		_, err = tbl.Insert([]byte("durable"), []byte("yes"))
		return err
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	crashed := openTestDB(t, copyFile(t, path), testOptions())
	if got := mustGet(t, crashed, testTable, key(49)); !bytes.Equal(got, value(49)) {
		t.Errorf("relaxed write lost by a durable commit: %q", got)
	}
	if got := mustGet(t, crashed, testTable, []byte("durable")); string(got) != "yes" {
		t.Errorf("Get(durable) = %q", got)
	}
}

func TestStorageFullKeepsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "full.okv")
	db := openTestDB(t, path, testOptions().WithMaxSize(64*1024))
	fill(t, db, testTable, 0, 20)

	err := db.Update(func(w *WriteTxn) error {
		tbl, err := w.OpenTable(testTable)
		if err != nil {
			return err
		}
		_, err = tbl.Insert([]byte("huge"), bytes.Repeat([]byte("x"), 200*1024))
		return err
	})
	if !errors.Is(err, ErrStorageFull) {
		t.Fatalf("Update() error = %v, want ErrStorageFull", err)
	}

	if got := mustGet(t, db, testTable, key(10)); !bytes.Equal(got, value(10)) {
		t.Errorf("Get() after ErrStorageFull = %q, want %q", got, value(10))
	}
	mustInsert(t, db, testTable, []byte("small"), []byte("fits"))
	if err := db.CheckIntegrity(); err != nil {
		t.Errorf("CheckIntegrity() error = %v", err)
	}
}

func TestFailedFlushPoisonsWriter(t *testing.T) {
	db, _ := newTestDB(t)

	w, err := db.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite() error = %v", err)
	}
	tbl, _ := w.OpenTable(testTable)
	tbl.Insert([]byte("a"), []byte("1"))

	// Pull the file out from under the commit.
	db.pm.Close()

	if err := w.Commit(); err == nil {
		t.Fatal("Commit() on a closed file should fail")
	}
	if _, err := db.BeginWrite(); !errors.Is(err, ErrPreviousIO) {
		t.Errorf("BeginWrite() after failed flush error = %v, want ErrPreviousIO", err)
	}
}

// =============================================================================
// Randomized workload
// =============================================================================

func TestRandomWorkload(t *testing.T) {
	db, path := newTestDB(t)
	rng := rand.New(rand.NewPCG(1, 2))
	model := map[string]string{}

	txns := 200
	if testing.Short() {
		txns = 40
	}

	for n := 0; n < txns; n++ {
		w, err := db.BeginWrite()
		if err != nil {
			t.Fatalf("BeginWrite() error = %v", err)
		}
		tbl, err := w.OpenTable(testTable)
		if err != nil {
			t.Fatalf("OpenTable() error = %v", err)
		}

		pending := map[string]*string{}
		for op := 0; op < 1+rng.IntN(40); op++ {
			k := fmt.Sprintf("k%04d", rng.IntN(500))
			if rng.IntN(3) == 0 {
				if _, err := tbl.Remove([]byte(k)); err != nil {
					t.Fatalf("Remove() error = %v", err)
				}
				pending[k] = nil
				continue
			}
			v := string(bytes.Repeat([]byte{byte('a' + rng.IntN(26))}, rng.IntN(600)))
			if _, err := tbl.Insert([]byte(k), []byte(v)); err != nil {
				t.Fatalf("Insert() error = %v", err)
			}
			pending[k] = &v
		}

		if rng.IntN(5) == 0 {
			w.Abort()
			continue
		}
		if err := w.Commit(); err != nil {
			t.Fatalf("Commit() error = %v", err)
		}
		for k, v := range pending {
			if v == nil {
				delete(model, k)
			} else {
				model[k] = *v
			}
		}
	}

	verify := func(db *DB) {
		t.Helper()
		err := db.View(func(r *ReadTxn) error {
			tbl, err := r.OpenTable(testTable)
			if err != nil {
				return err
			}
			if n, _ := tbl.Len(); n != uint64(len(model)) {
				t.Errorf("Len() = %d, want %d", n, len(model))
			}
			for k, v := range tbl.Range(nil, nil).All() {
				want, ok := model[string(k)]
				if !ok || want != string(v) {
					t.Errorf("entry %s: got %d bytes, want %d (present %v)", k, len(v), len(want), ok)
				}
			}
			return nil
		})
		if err != nil {
			t.Fatalf("View() error = %v", err)
		}
		if err := db.CheckIntegrity(); err != nil {
			t.Fatalf("CheckIntegrity() error = %v", err)
		}
	}

	verify(db)
	if err := db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	verify(openTestDB(t, path, testOptions()))
}
