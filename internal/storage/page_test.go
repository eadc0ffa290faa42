package storage

import (
	"errors"
	"testing"
)

// =============================================================================
// PageType Tests
// =============================================================================

func TestPageTypeString(t *testing.T) {
	tests := []struct {
		pageType PageType
		expected string
	}{
		{PageTypeInvalid, "Invalid"},
		{PageTypeMeta, "Meta"},
		{PageTypeBranch, "Branch"},
		{PageTypeLeaf, "Leaf"},
		{PageTypeFreeList, "FreeList"},
		{PageTypeOverflow, "Overflow"},
		{PageType(99), "Invalid"},
	}

	for _, tt := range tests {
		if got := tt.pageType.String(); got != tt.expected {
			t.Errorf("PageType(%d).String() = %v, want %v", tt.pageType, got, tt.expected)
		}
	}
}

func TestValidPageSize(t *testing.T) {
	tests := []struct {
		size  int
		valid bool
	}{
		{512, false},
		{1024, true},
		{3000, false},
		{4096, true},
		{65536, true},
		{131072, false},
	}

	for _, tt := range tests {
		if got := ValidPageSize(tt.size); got != tt.valid {
			t.Errorf("ValidPageSize(%d) = %v, want %v", tt.size, got, tt.valid)
		}
	}
}

// =============================================================================
// PageHeader Tests
// =============================================================================

func TestPageHeaderSerializeDeserialize(t *testing.T) {
	original := PageHeader{
		Type:  PageTypeOverflow,
		Flags: 0x3,
		Count: 77,
		Aux:   4000,
		Next:  123456,
		TxnID: 99,
	}

	buf := make([]byte, PageHeaderSize)
	if err := original.Serialize(buf); err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}

	var got PageHeader
	if err := got.Deserialize(buf); err != nil {
		t.Fatalf("Deserialize() error = %v", err)
	}
	if got != original {
		t.Errorf("Deserialize() = %+v, want %+v", got, original)
	}
}

func TestPageHeaderInvalidSize(t *testing.T) {
	var h PageHeader
	if err := h.Serialize(make([]byte, PageHeaderSize-1)); !errors.Is(err, ErrInvalidPageSize) {
		t.Errorf("Serialize() error = %v, want ErrInvalidPageSize", err)
	}
	if err := h.Deserialize(make([]byte, PageHeaderSize-1)); !errors.Is(err, ErrInvalidPageSize) {
		t.Errorf("Deserialize() error = %v, want ErrInvalidPageSize", err)
	}
}

// =============================================================================
// Checksum Tests
// =============================================================================

func sealedPage(t *testing.T, typ PageType) []byte {
	t.Helper()
	buf := make([]byte, DefaultPageSize)
	h := PageHeader{Type: typ, Count: 1, TxnID: 7}
	if err := h.Serialize(buf); err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}
	copy(buf[PageHeaderSize:], "payload")
	SealPage(buf)
	return buf
}

func TestOpenPage(t *testing.T) {
	buf := sealedPage(t, PageTypeLeaf)

	h, err := OpenPage(5, buf, PageTypeLeaf)
	if err != nil {
		t.Fatalf("OpenPage() error = %v", err)
	}
	if h.Type != PageTypeLeaf || h.TxnID != 7 {
		t.Errorf("OpenPage() header = %+v", h)
	}
	if _, err := OpenPage(5, buf, PageTypeInvalid); err != nil {
		t.Errorf("OpenPage() with any type error = %v", err)
	}
}

func TestOpenPageDetectsDamage(t *testing.T) {
	tests := []struct {
		name   string
		offset int
	}{
		{"header", 4},
		{"checksum", 26},
		{"body", PageHeaderSize + 2},
		{"tail", DefaultPageSize - 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := sealedPage(t, PageTypeLeaf)
			buf[tt.offset] ^= 0x40

			_, err := OpenPage(9, buf, PageTypeLeaf)
			var ce *CorruptionError
			if !errors.As(err, &ce) {
				t.Fatalf("OpenPage() error = %v, want CorruptionError", err)
			}
			if ce.Page != 9 {
				t.Errorf("CorruptionError.Page = %d, want 9", ce.Page)
			}
			if !errors.Is(err, ErrCorruption) {
				t.Error("CorruptionError should unwrap to ErrCorruption")
			}
		})
	}
}

func TestOpenPageWrongType(t *testing.T) {
	buf := sealedPage(t, PageTypeBranch)
	if _, err := OpenPage(3, buf, PageTypeOverflow); !errors.Is(err, ErrCorruption) {
		t.Errorf("OpenPage() error = %v, want ErrCorruption", err)
	}
}

func TestOpenPageDoesNotModifyBuffer(t *testing.T) {
	buf := sealedPage(t, PageTypeLeaf)
	before := append([]byte(nil), buf...)

	if _, err := OpenPage(1, buf, PageTypeLeaf); err != nil {
		t.Fatalf("OpenPage() error = %v", err)
	}
	for i := range buf {
		if buf[i] != before[i] {
			t.Fatalf("OpenPage() modified byte %d", i)
		}
	}
}

func TestMetaChecksumDiffers(t *testing.T) {
	a := MetaChecksum([]byte("metapage one"))
	b := MetaChecksum([]byte("metapage two"))
	if a == b {
		t.Error("MetaChecksum() returned the same sum for different input")
	}
}
