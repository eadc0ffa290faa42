package obakv

import (
	"github.com/KilimcininKorOglu/obakv/internal/catalog"
	"github.com/KilimcininKorOglu/obakv/internal/savepoint"
	"github.com/KilimcininKorOglu/obakv/internal/storage"
	"github.com/KilimcininKorOglu/obakv/internal/storage/btree"
	"github.com/KilimcininKorOglu/obakv/internal/storage/mvcc"
)

// Stats describes the space usage of one database state.
type Stats struct {
	TxnID      uint64
	Tables     int
	Entries    uint64 // entries across all tables
	Savepoints int    // persistent savepoints

	// TreeHeight is the height of the tallest table.
	TreeHeight int

	// Pages used by tables and by the engine's own trees.
	LeafPages     uint64
	BranchPages   uint64
	OverflowPages uint64
	SystemPages   uint64

	StoredBytes     uint64 // key and value bytes
	MetadataBytes   uint64 // headers, entry overhead and branch pages
	FragmentedBytes uint64 // unused bytes inside used pages

	FreePages    uint64 // reusable now
	PendingPages uint64 // freed, waiting for readers or savepoints
	TotalPages   uint64 // allocated range, metapages included
	PageSize     int
	FileSize     int64
}

// AllocatedPages returns the number of pages holding live data.
func (s Stats) AllocatedPages() uint64 {
	return s.LeafPages + s.BranchPages + s.OverflowPages + s.SystemPages
}

func (db *DB) stats(meta storage.Meta, r btree.Reader, cat *catalog.Catalog, tracker *mvcc.Tracker, sps *savepoint.List, free uint64) (Stats, error) {
	s := Stats{
		TxnID:      meta.TxnID,
		FreePages:  free,
		TotalPages: meta.TotalPages,
		PageSize:   db.pm.PageSize(),
		FileSize:   db.pm.FileSize(),
	}

	entries, err := cat.Entries()
	if err != nil {
		return Stats{}, err
	}
	s.Tables = len(entries)

	var data btree.TreeStats
	for _, e := range entries {
		ts, err := btree.NewReadOnly(e.Root, r, nil, db.layout).Stats()
		if err != nil {
			return Stats{}, err
		}
		data.Add(ts)
	}

	var system btree.TreeStats
	for _, t := range []*btree.BPlusTree{cat.Tree(), tracker.Tree(), sps.Tree()} {
		ts, err := t.Stats()
		if err != nil {
			return Stats{}, err
		}
		system.Add(ts)
	}

	s.Entries = data.Entries
	s.TreeHeight = data.Height
	s.LeafPages = data.LeafPages
	s.BranchPages = data.BranchPages
	s.OverflowPages = data.OverflowPages
	s.SystemPages = system.Pages()
	s.StoredBytes = data.StoredBytes
	s.MetadataBytes = data.MetadataBytes + system.MetadataBytes + system.StoredBytes
	s.FragmentedBytes = data.FragmentedBytes + system.FragmentedBytes

	pending, err := tracker.Count()
	if err != nil {
		return Stats{}, err
	}
	s.PendingPages = uint64(pending)

	records, err := sps.All()
	if err != nil {
		return Stats{}, err
	}
	s.Savepoints = len(records)
	return s, nil
}
