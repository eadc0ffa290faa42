package obakv

import (
	"fmt"
	"io"
	"time"

	"github.com/KilimcininKorOglu/obakv/internal/logging"
	"github.com/KilimcininKorOglu/obakv/internal/storage"
)

// Durability selects when a commit reaches stable storage.
type Durability int

const (
	// DurabilityImmediate syncs the data and the metapage before Commit
	// returns.
	DurabilityImmediate Durability = iota

	// DurabilityNone publishes the commit to new transactions without
	// syncing. The state becomes durable with the next immediate commit or
	// when the database is closed; a crash before that loses it.
	DurabilityNone
)

// String returns the name of the durability mode.
func (d Durability) String() string {
	switch d {
	case DurabilityImmediate:
		return "immediate"
	case DurabilityNone:
		return "none"
	default:
		return "unknown"
	}
}

// Logger receives the structured log output of the engine.
type Logger = logging.Logger

// NewLogger returns a Logger writing to w. Level is one of debug, info, warn
// or error; format is text or json.
func NewLogger(w io.Writer, level, format string) Logger {
	return logging.NewWriter(w, logging.ParseLevel(level), logging.ParseFormat(format))
}

// Options configures a database. Start from DefaultOptions and adjust it
// with the With* methods. A field left at its zero value is filled in by
// Open only for PageSize, InitialPages and Logger; a zero CacheSize
// disables the node cache and a zero CreateIfNotExists refuses to create
// the file, so &Options{} is not the same as DefaultOptions().
type Options struct {
	// PageSize is the page size used when creating a new file. Existing
	// files keep the page size they were created with.
	// Default: 4096 bytes.
	PageSize int

	// CacheSize is the memory budget of the decoded node cache in bytes.
	// Default: 16 MiB. Zero disables the cache.
	CacheSize int64

	// Durability is the default durability of write transactions.
	// Default: DurabilityImmediate.
	Durability Durability

	// WriteTimeout bounds how long BeginWrite waits for the writer lease.
	// Default: 0 (wait indefinitely).
	WriteTimeout time.Duration

	// ReadOnly opens the database without write access.
	// Default: false.
	ReadOnly bool

	// CreateIfNotExists creates the database if it doesn't exist.
	// Default: true. The zero value opens existing files only.
	CreateIfNotExists bool

	// InitialPages is the size of a new file in pages.
	// Default: 16.
	InitialPages int

	// MaxSize bounds the file size in bytes. Commits that would grow the
	// file past it fail with ErrStorageFull.
	// Default: 0 (unlimited).
	MaxSize int64

	// Logger receives engine events.
	// Default: a logger that discards everything.
	Logger Logger
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		PageSize:          storage.DefaultPageSize,
		CacheSize:         16 << 20,
		Durability:        DurabilityImmediate,
		CreateIfNotExists: true,
		InitialPages:      storage.DefaultInitialPages,
	}
}

// Validate checks the options and fills in PageSize, InitialPages and
// Logger when they are unset.
func (o *Options) Validate() error {
	if o.PageSize == 0 {
		o.PageSize = storage.DefaultPageSize
	}
	if !storage.ValidPageSize(o.PageSize) {
		return fmt.Errorf("%w: page size %d is not a power of two in [%d, %d]",
			ErrInvalidOptions, o.PageSize, storage.MinPageSize, storage.MaxPageSize)
	}
	if o.CacheSize < 0 {
		return fmt.Errorf("%w: negative cache size", ErrInvalidOptions)
	}
	if o.Durability != DurabilityImmediate && o.Durability != DurabilityNone {
		return fmt.Errorf("%w: unknown durability %d", ErrInvalidOptions, o.Durability)
	}
	if o.WriteTimeout < 0 {
		return fmt.Errorf("%w: negative write timeout", ErrInvalidOptions)
	}
	if o.InitialPages <= 0 {
		o.InitialPages = storage.DefaultInitialPages
	}
	if o.MaxSize < 0 {
		return fmt.Errorf("%w: negative max size", ErrInvalidOptions)
	}
	if o.MaxSize > 0 && o.MaxSize < int64(storage.MetaSlots*o.PageSize) {
		return fmt.Errorf("%w: max size %d cannot hold the metapages", ErrInvalidOptions, o.MaxSize)
	}
	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}
	return nil
}

// WithPageSize sets the page size.
func (o Options) WithPageSize(size int) Options {
	o.PageSize = size
	return o
}

// WithCacheSize sets the node cache budget in bytes.
func (o Options) WithCacheSize(bytes int64) Options {
	o.CacheSize = bytes
	return o
}

// WithDurability sets the default durability of write transactions.
func (o Options) WithDurability(d Durability) Options {
	o.Durability = d
	return o
}

// WithWriteTimeout sets how long BeginWrite waits for the writer lease.
func (o Options) WithWriteTimeout(timeout time.Duration) Options {
	o.WriteTimeout = timeout
	return o
}

// WithReadOnly enables or disables read-only mode.
func (o Options) WithReadOnly(readOnly bool) Options {
	o.ReadOnly = readOnly
	return o
}

// WithCreateIfNotExists enables or disables auto-creation.
func (o Options) WithCreateIfNotExists(create bool) Options {
	o.CreateIfNotExists = create
	return o
}

// WithInitialPages sets the size of a new file in pages.
func (o Options) WithInitialPages(pages int) Options {
	o.InitialPages = pages
	return o
}

// WithMaxSize bounds the file size in bytes.
func (o Options) WithMaxSize(bytes int64) Options {
	o.MaxSize = bytes
	return o
}

// WithLogger sets the logger.
func (o Options) WithLogger(l Logger) Options {
	o.Logger = l
	return o
}

// cachedNodes converts the cache budget into a node count.
func (o *Options) cachedNodes(pageSize int) int {
	return int(o.CacheSize / int64(pageSize))
}
