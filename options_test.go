package obakv

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultOptions(t *testing.T) {
	o := DefaultOptions()
	if o.PageSize != 4096 || o.CacheSize != 16<<20 || o.Durability != DurabilityImmediate {
		t.Errorf("DefaultOptions() = %+v", o)
	}
	if !o.CreateIfNotExists || o.ReadOnly {
		t.Errorf("DefaultOptions() open flags = %+v", o)
	}
	if err := o.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if o.Logger == nil {
		t.Error("Validate() did not set a logger")
	}
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"zero value", Options{}, false},
		{"min page", DefaultOptions().WithPageSize(1024), false},
		{"max page", DefaultOptions().WithPageSize(65536), false},
		{"page too small", DefaultOptions().WithPageSize(512), true},
		{"page not power of two", DefaultOptions().WithPageSize(5000), true},
		{"negative cache", DefaultOptions().WithCacheSize(-1), true},
		{"unknown durability", DefaultOptions().WithDurability(Durability(7)), true},
		{"negative timeout", DefaultOptions().WithWriteTimeout(-time.Second), true},
		{"negative max size", DefaultOptions().WithMaxSize(-1), true},
		{"max size below metapages", DefaultOptions().WithMaxSize(4096), true},
		{"max size ok", DefaultOptions().WithMaxSize(1 << 20), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := tt.opts
			err := o.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidOptions) {
					t.Errorf("Validate() error = %v, want ErrInvalidOptions", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() error = %v", err)
			}
		})
	}
}

func TestDurabilityString(t *testing.T) {
	tests := []struct {
		d    Durability
		want string
	}{
		{DurabilityImmediate, "immediate"},
		{DurabilityNone, "none"},
		{Durability(9), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.d.String(); got != tt.want {
			t.Errorf("Durability(%d).String() = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestEngineLogging(t *testing.T) {
	var buf bytes.Buffer
	opts := testOptions().WithLogger(NewLogger(&buf, "debug", "json"))
	db := openTestDB(t, filepath.Join(t.TempDir(), "log.okv"), opts)
	fill(t, db, testTable, 0, 10)
	if err := db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	var msgs []string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("log line %q is not JSON: %v", line, err)
		}
		msgs = append(msgs, entry["component"].(string)+": "+entry["msg"].(string))
	}

	for _, want := range []string{"db: database created", "commit: transaction committed", "db: database closed"} {
		found := false
		for _, m := range msgs {
			if m == want {
				found = true
			}
		}
		if !found {
			t.Errorf("log has no %q; got %v", want, msgs)
		}
	}
}
