package job

import (
	"fmt"
	"os"
	"strings"
)

// Ledger is the append-only record of work items already handled by earlier
// invocations of a job. It persists as a plain text file, one identifier per
// line, and keeps a set index in memory so membership checks stay O(1) as the
// file grows. Identifiers are never removed.
type Ledger struct {
	path string
	seen map[string]struct{}
}

// OpenLedger loads the ledger at path. A missing file yields an empty ledger;
// the file is only created on the first Append.
func OpenLedger(path string) (*Ledger, error) {
	l := &Ledger{path: path, seen: make(map[string]struct{})}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", path, err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		if line != "" {
			l.seen[line] = struct{}{}
		}
	}
	return l, nil
}

// Contains reports whether the identifier was recorded by a previous run.
func (l *Ledger) Contains(id string) bool {
	_, ok := l.seen[id]
	return ok
}

// Len returns the number of recorded identifiers.
func (l *Ledger) Len() int {
	return len(l.seen)
}

// Append records the identifiers, persisting them before updating the index.
// Callers must only append items whose processing actually succeeded.
func (l *Ledger) Append(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger %s: %w", l.path, err)
	}
	for _, id := range ids {
		if _, err := fmt.Fprintln(f, id); err != nil {
			f.Close()
			return fmt.Errorf("append to ledger %s: %w", l.path, err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close ledger %s: %w", l.path, err)
	}
	for _, id := range ids {
		l.seen[id] = struct{}{}
	}
	return nil
}
