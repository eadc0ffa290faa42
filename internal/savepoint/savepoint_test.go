package savepoint

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/KilimcininKorOglu/obakv/internal/storage"
	"github.com/KilimcininKorOglu/obakv/internal/storage/btree"
)

type memWriter struct {
	nodes map[storage.PageID]*btree.BPlusNode
	next  storage.PageID
}

func (m *memWriter) ReadNode(id storage.PageID) (*btree.BPlusNode, error) {
	n, ok := m.nodes[id]
	if !ok {
		return nil, fmt.Errorf("no node at page %d", id)
	}
	return n, nil
}

func (m *memWriter) ReadOverflow(storage.PageID, uint32) ([]byte, error) {
	return nil, errors.New("overflow not supported")
}

func (m *memWriter) OverflowPages(storage.PageID, uint32) ([]storage.PageID, error) {
	return nil, errors.New("overflow not supported")
}

func (m *memWriter) Allocate() (storage.PageID, error) {
	m.next++
	return m.next, nil
}

func (m *memWriter) Release(id storage.PageID) error {
	delete(m.nodes, id)
	return nil
}

func (m *memWriter) Stage(n *btree.BPlusNode) { m.nodes[n.PageID] = n }

func (m *memWriter) Owned(storage.PageID) bool { return true }

func (m *memWriter) WriteOverflow([]byte) (storage.PageID, error) {
	return 0, errors.New("overflow not supported")
}

func newTestList(t *testing.T) *List {
	t.Helper()
	w := &memWriter{nodes: make(map[storage.PageID]*btree.BPlusNode), next: 1}
	return NewList(btree.NewWritable(btree.InvalidPageID, w, nil, btree.Layout{PageSize: 4096}))
}

func TestRecordRoundTrip(t *testing.T) {
	want := &Record{
		ID:          300,
		TxnID:       1234,
		CatalogRoot: 77,
		CreatedAt:   time.Unix(1700000000, 123456789),
		Name:        "before-migration",
	}

	data, err := want.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}
	got, err := Unmarshal(Key(want.ID), data)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.ID != want.ID || got.TxnID != want.TxnID || got.CatalogRoot != want.CatalogRoot ||
		got.Name != want.Name || !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("Unmarshal() = %+v, want %+v", got, want)
	}
}

func TestRecordErrors(t *testing.T) {
	if _, err := (&Record{Name: strings.Repeat("n", 70000)}).MarshalBinary(); !errors.Is(err, ErrNameTooLong) {
		t.Errorf("MarshalBinary() = %v, want ErrNameTooLong", err)
	}

	valid, _ := (&Record{Name: "abc"}).MarshalBinary()
	tests := []struct {
		name string
		key  []byte
		data []byte
	}{
		{"short key", []byte{1}, valid},
		{"short data", Key(1), valid[:10]},
		{"truncated name", Key(1), valid[:len(valid)-1]},
		{"trailing bytes", Key(1), append(valid[:len(valid):len(valid)], 'x')},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Unmarshal(tt.key, tt.data); !errors.Is(err, ErrBadRecord) {
				t.Errorf("Unmarshal() = %v, want ErrBadRecord", err)
			}
		})
	}
}

func TestKeyOrdersByID(t *testing.T) {
	if string(Key(255)) >= string(Key(256)) {
		t.Error("Key(255) should sort before Key(256)")
	}
}

func TestListOperations(t *testing.T) {
	l := newTestList(t)

	for id := uint64(1); id <= 5; id++ {
		r := &Record{ID: id, TxnID: id * 10, CatalogRoot: storage.PageID(id + 100), Name: fmt.Sprintf("sp%d", id)}
		if err := l.Put(r); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}

	r, ok, err := l.Get(3)
	if err != nil || !ok {
		t.Fatalf("Get(3) = %v, %v", ok, err)
	}
	if r.TxnID != 30 || r.Name != "sp3" {
		t.Errorf("Get(3) = %+v", r)
	}
	if _, ok, _ := l.Get(42); ok {
		t.Error("Get(42) should not find anything")
	}

	if ok, _ := l.Delete(2); !ok {
		t.Error("Delete(2) should report true")
	}

	all, err := l.All()
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	ids := make([]uint64, len(all))
	for i, r := range all {
		ids[i] = r.ID
	}
	if fmt.Sprint(ids) != "[1 3 4 5]" {
		t.Errorf("All() ids = %v, want [1 3 4 5]", ids)
	}
}

func TestListDeleteAfter(t *testing.T) {
	l := newTestList(t)
	for id := uint64(1); id <= 6; id++ {
		l.Put(&Record{ID: id, TxnID: id})
	}

	removed, err := l.DeleteAfter(3)
	if err != nil {
		t.Fatalf("DeleteAfter() error = %v", err)
	}
	if len(removed) != 3 || removed[0].ID != 4 || removed[2].ID != 6 {
		t.Errorf("DeleteAfter(3) removed %+v, want ids 4..6", removed)
	}

	all, _ := l.All()
	if len(all) != 3 || all[2].ID != 3 {
		t.Errorf("All() after DeleteAfter = %+v", all)
	}

	if removed, _ := l.DeleteAfter(10); len(removed) != 0 {
		t.Errorf("DeleteAfter(10) removed %d records, want 0", len(removed))
	}
}
