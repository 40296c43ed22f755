package transcript

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/teslashibe/go-talkmode/internal/log"
)

const turnPrefix = "turn:"

// BadgerStore implements Store on BadgerDB v4 with msgpack-encoded
// turns. Keys are zero-padded sequence numbers so iteration order is
// append order.
type BadgerStore struct {
	db *badger.DB

	mu  sync.Mutex
	seq uint64
}

// BadgerOptions configures the BadgerDB store.
type BadgerOptions struct {
	// Dir is the directory for BadgerDB data files. Required unless
	// InMemory is set.
	Dir string

	// InMemory runs BadgerDB in memory-only mode. Useful for tests that
	// want a real engine without disk.
	InMemory bool

	// Logger sets the badger logger. Nil routes badger's warnings and
	// errors through the application logger and drops the rest.
	Logger badger.Logger
}

// NewBadgerStore opens or creates a BadgerDB-backed store.
func NewBadgerStore(opts BadgerOptions) (*BadgerStore, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("transcript: BadgerOptions.Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	if opts.Logger != nil {
		dbOpts = dbOpts.WithLogger(opts.Logger)
	} else {
		dbOpts = dbOpts.WithLogger(quietLogger{})
	}

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("transcript: open badger: %w", err)
	}
	s := &BadgerStore{db: db}
	if err := s.loadSeq(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// loadSeq finds the next sequence number after whatever is already
// stored.
func (s *BadgerStore) loadSeq() error {
	prefix := []byte(turnPrefix)
	return s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		iterOpts.PrefetchValues = false
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			if n, err := strconv.ParseUint(string(key[len(prefix):]), 10, 64); err == nil && n >= s.seq {
				s.seq = n + 1
			}
		}
		return nil
	})
}

func (s *BadgerStore) nextKey() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fmt.Sprintf("%s%016d", turnPrefix, s.seq)
	s.seq++
	return []byte(key)
}

// Append implements Store.
func (s *BadgerStore) Append(_ context.Context, t Turn) error {
	data, err := msgpack.Marshal(t)
	if err != nil {
		return fmt.Errorf("transcript: encode turn: %w", err)
	}
	key := s.nextKey()
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// Load implements Store.
func (s *BadgerStore) Load(_ context.Context) ([]Turn, error) {
	prefix := []byte(turnPrefix)
	var turns []Turn
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var t Turn
			if err := msgpack.Unmarshal(val, &t); err != nil {
				return fmt.Errorf("transcript: decode turn: %w", err)
			}
			turns = append(turns, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return turns, nil
}

// Clear implements Store.
func (s *BadgerStore) Clear(_ context.Context) error {
	prefix := []byte(turnPrefix)
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		iterOpts.PrefetchValues = false
		it := txn.NewIterator(iterOpts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return err
		}
	}
	if err := wb.Flush(); err != nil {
		return err
	}

	s.mu.Lock()
	s.seq = 0
	s.mu.Unlock()
	return nil
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// quietLogger routes badger warnings and errors through the application
// logger and suppresses the chatty levels.
type quietLogger struct{}

func (quietLogger) Errorf(f string, v ...interface{})   { log.Error(fmt.Sprintf("badger: "+f, v...)) }
func (quietLogger) Warningf(f string, v ...interface{}) { log.Warn(fmt.Sprintf("badger: "+f, v...)) }
func (quietLogger) Infof(string, ...interface{})        {}
func (quietLogger) Debugf(string, ...interface{})       {}

var _ Store = (*BadgerStore)(nil)
