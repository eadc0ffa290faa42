package obakv

import (
	"github.com/KilimcininKorOglu/obakv/internal/storage"
	"github.com/KilimcininKorOglu/obakv/internal/storage/btree"
)

// CheckIntegrity verifies the latest committed state: every tree is
// checked for key order, balance and page checksums, every table's entry
// count is compared with its catalog entry, and every page of the file is
// accounted for exactly once as used, free or pending. The first problem
// found is returned as a *CorruptionError.
//
// Tables whose key order was never opened by this DB are checked without
// key order validation.
func (db *DB) CheckIntegrity() error {
	return db.View(func(r *ReadTxn) error {
		return r.checkIntegrity()
	})
}

// lookupOrder resolves a key order by name.
func (db *DB) lookupOrder(name string) (KeyOrder, bool) {
	switch name {
	case BytewiseOrder.Name:
		return BytewiseOrder, true
	case Uint64Order.Name:
		return Uint64Order, true
	}
	if v, ok := db.orders.Load(name); ok {
		return v.(KeyOrder), true
	}
	return KeyOrder{}, false
}

// pageOwners records which structure uses each page.
type pageOwners struct {
	total uint64
	owner map[storage.PageID]string
}

func (p *pageOwners) claim(id storage.PageID, owner string) error {
	if id < storage.MetaSlots || uint64(id) >= p.total {
		return storage.Corruptf(id, "%s references a page outside the allocated range [2, %d)", owner, p.total)
	}
	if prev, ok := p.owner[id]; ok {
		return storage.Corruptf(id, "page used by both %s and %s", prev, owner)
	}
	p.owner[id] = owner
	return nil
}

func (p *pageOwners) claimTree(t *btree.BPlusTree, owner string) error {
	return t.Walk(func(id storage.PageID, _ storage.PageType, _ int) error {
		return p.claim(id, owner)
	})
}

func (r *ReadTxn) checkIntegrity() error {
	db := r.db
	meta := r.meta
	pages := &pageOwners{total: meta.TotalPages, owner: make(map[storage.PageID]string)}

	system := []struct {
		name string
		root storage.PageID
	}{
		{"catalog", meta.CatalogRoot},
		{"free page tracker", meta.FreedRoot},
		{"savepoint list", meta.SavepointRoot},
	}
	for _, s := range system {
		t := db.readTree(s.root, nil)
		if _, err := t.Check(); err != nil {
			return err
		}
		if err := pages.claimTree(t, s.name); err != nil {
			return err
		}
	}

	entries, err := r.catalog.Entries()
	if err != nil {
		return err
	}
	for _, e := range entries {
		owner := "table " + e.Name
		var ts btree.TreeStats
		if o, ok := db.lookupOrder(e.Comparator); ok {
			ts, err = db.readTree(e.Root, o.Compare).Check()
		} else {
			ts, err = db.readTree(e.Root, nil).Stats()
		}
		if err != nil {
			return err
		}
		if ts.Entries != e.Entries {
			return storage.Corruptf(e.Root, "%s holds %d entries, catalog says %d", owner, ts.Entries, e.Entries)
		}
		if err := pages.claimTree(db.readTree(e.Root, nil), owner); err != nil {
			return err
		}
	}

	pending, err := db.trackerAt(meta.FreedRoot).Pending()
	if err != nil {
		return err
	}
	for _, p := range pending {
		for _, id := range p.Pages {
			if err := pages.claim(id, "pending frees"); err != nil {
				return err
			}
		}
	}

	pool, chain, err := storage.LoadFreeList(db.pm, meta.FreeListHead, meta.FreeListCount)
	if err != nil {
		return err
	}
	for _, id := range chain {
		if err := pages.claim(id, "free-list chain"); err != nil {
			return err
		}
	}
	for _, id := range pool {
		if err := pages.claim(id, "free pool"); err != nil {
			return err
		}
	}

	for id := storage.PageID(storage.MetaSlots); uint64(id) < meta.TotalPages; id++ {
		if _, ok := pages.owner[id]; !ok {
			return storage.Corruptf(id, "page is neither used nor free")
		}
	}

	db.log.WithComponent("check").Info("integrity check passed",
		"txn", meta.TxnID, "tables", len(entries), "pages", meta.TotalPages)
	return nil
}
