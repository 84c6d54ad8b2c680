package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrRunNotFound is returned by Archive.Load for a run id with no rows.
var ErrRunNotFound = errors.New("run not found in archive")

// StoredRow is a row read back from an Archive. The value stays in its
// JSON encoding since the concrete Go type is not recoverable from disk.
type StoredRow struct {
	Tick     int64
	Category Category
	Key      string
	Value    json.RawMessage
}

// Archive persists snapshot rows of finished (or in-progress) runs in an
// embedded Badger database, keyed by run id.
//
// Key layout: run/<run-id>/<tick, zero padded>/<category>/<key>.
// Ticks are padded so lexical key order matches tick order.
type Archive struct {
	db *badger.DB
}

// OpenArchive opens (creating if needed) an archive at path. An empty path
// opens an in-memory archive.
func OpenArchive(path string) (*Archive, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o750); err != nil {
			return nil, fmt.Errorf("create archive directory %s: %w", path, err)
		}
		opts = badger.DefaultOptions(path)
	}
	if logrus.IsLevelEnabled(logrus.DebugLevel) {
		opts = opts.WithLogger(logrus.StandardLogger())
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open snapshot archive: %w", err)
	}
	return &Archive{db: db}, nil
}

// Close releases the underlying database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

func runPrefix(runID string) []byte {
	return []byte("run/" + runID + "/")
}

func rowKey(runID string, r Row) []byte {
	return []byte(fmt.Sprintf("run/%s/%012d/%s/%s", runID, r.Tick, r.Category, r.Key))
}

// Save writes every row of s under runID and returns the number written.
// Rows already present for the run are overwritten with the current value.
func (a *Archive) Save(runID string, s *Store) (int, error) {
	if _, err := uuid.Parse(runID); err != nil {
		return 0, fmt.Errorf("save run %q: invalid run id: %w", runID, err)
	}
	wb := a.db.NewWriteBatch()
	defer wb.Cancel()
	n := 0
	for _, r := range s.Rows() {
		if r.Tick < 0 {
			return n, fmt.Errorf("save run %s: negative tick %d", runID, r.Tick)
		}
		data, err := json.Marshal(r.Value)
		if err != nil {
			return n, fmt.Errorf("encoding %d/%s/%s: %w", r.Tick, r.Category, r.Key, err)
		}
		if err := wb.Set(rowKey(runID, r), data); err != nil {
			return n, fmt.Errorf("writing %d/%s/%s: %w", r.Tick, r.Category, r.Key, err)
		}
		n++
	}
	if err := wb.Flush(); err != nil {
		return n, fmt.Errorf("flushing run %s: %w", runID, err)
	}
	logrus.Debugf("archived %d snapshot rows for run %s", n, runID)
	return n, nil
}

// Load returns the rows stored for runID in tick, category, key order.
func (a *Archive) Load(runID string) ([]StoredRow, error) {
	prefix := runPrefix(runID)
	var rows []StoredRow
	err := a.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			row, err := parseRowKey(strings.TrimPrefix(string(item.Key()), string(prefix)))
			if err != nil {
				return err
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			row.Value = val
			rows = append(rows, row)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", runID, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("loading run %s: %w", runID, ErrRunNotFound)
	}
	return rows, nil
}

// Runs lists the run ids present in the archive in key order.
func (a *Archive) Runs() ([]string, error) {
	var runs []string
	seen := make(map[string]bool)
	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte("run/")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			rest := strings.TrimPrefix(string(it.Item().Key()), "run/")
			id, _, ok := strings.Cut(rest, "/")
			if ok && !seen[id] {
				seen[id] = true
				runs = append(runs, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}

func parseRowKey(rest string) (StoredRow, error) {
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) != 3 {
		return StoredRow{}, fmt.Errorf("malformed archive key %q", rest)
	}
	tick, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return StoredRow{}, fmt.Errorf("malformed tick in archive key %q: %w", rest, err)
	}
	return StoredRow{Tick: tick, Category: Category(parts[1]), Key: parts[2]}, nil
}

// Decode unmarshals a stored value into out.
func (r StoredRow) Decode(out any) error {
	if err := json.Unmarshal(r.Value, out); err != nil {
		return fmt.Errorf("decoding %d/%s/%s: %w", r.Tick, r.Category, r.Key, err)
	}
	return nil
}
