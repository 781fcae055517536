package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"git.sr.ht/~rjarry/composerd/lib/bus"
	"git.sr.ht/~rjarry/composerd/lib/log"
	"git.sr.ht/~rjarry/composerd/models"
)

const keyPrefix = "draft."

var (
	// versTag should be incremented when the underlying data structure
	// changes.
	versTag    = []byte("0001")
	versTagKey = []byte("version.tag")
)

func createKey(id string) []byte {
	return []byte(keyPrefix + id)
}

func parseKey(key []byte) string {
	return strings.TrimPrefix(string(key), keyPrefix)
}

// An Entry is an open composer whose draft can be reloaded at startup.
type Entry struct {
	ID     string    `json:"id"`
	Opened time.Time `json:"opened"`
}

// Store remembers the drafts that are open in a composer.
type Store struct {
	mu     sync.Mutex
	db     *leveldb.DB
	logger log.Logger
}

// Open opens the store at path. Data written with another version of the
// store is wiped.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("Unable to open state store: %w", err)
	}
	s := &Store{db: db, logger: log.NewLogger("state", 2)}
	if err := s.checkVersion(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) checkVersion() error {
	vers, err := s.db.Get(versTagKey, nil)
	switch {
	case err == leveldb.ErrNotFound:
	case err != nil:
		return err
	case bytes.Equal(vers, versTag):
		return nil
	default:
		s.logger.Warnf("version mismatch: wipe data")
		if err := s.Reset(); err != nil {
			return err
		}
	}
	s.logger.Infof("set version: %s", string(versTag))
	return s.db.Put(versTagKey, versTag, nil)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Put(id string) error {
	if models.IsPlaceholderID(id) {
		return nil
	}
	data, err := json.Marshal(Entry{ID: id, Opened: time.Now()})
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Put(createKey(id), data, nil)
}

func (s *Store) Remove(id string) error {
	if models.IsPlaceholderID(id) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Delete(createKey(id), nil)
}

// Rename replaces oldID with newID, keeping the opening time.
func (s *Store) Rename(oldID, newID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := Entry{ID: newID, Opened: time.Now()}
	if data, err := s.db.Get(createKey(oldID), nil); err == nil {
		if err := json.Unmarshal(data, &entry); err != nil {
			s.logger.Warnf("%s: %v", oldID, err)
		}
		entry.ID = newID
	}
	batch := new(leveldb.Batch)
	if !models.IsPlaceholderID(oldID) {
		batch.Delete(createKey(oldID))
	}
	if !models.IsPlaceholderID(newID) {
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		batch.Put(createKey(newID), data)
	}
	return s.db.Write(batch, nil)
}

// List returns the entries by opening time.
func (s *Store) List() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var entries []Entry
	iter := s.db.NewIterator(util.BytesPrefix([]byte(keyPrefix)), nil)
	for iter.Next() {
		var e Entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			s.logger.Warnf("%s: %v", parseKey(iter.Key()), err)
			continue
		}
		entries = append(entries, e)
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Opened.Before(entries[j].Opened)
	})
	return entries, nil
}

// Reset removes every entry.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := new(leveldb.Batch)
	iter := s.db.NewIterator(nil, nil)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return err
	}
	return s.db.Write(batch, nil)
}

// Subscribe keeps the store in sync with the open composers.
func (s *Store) Subscribe(b *bus.Bus) func() {
	unsubs := []func(){
		b.Subscribe(bus.TopicSessionLoaded, func(ev bus.Event) error {
			return s.Put(ev.(*bus.SessionLoaded).ID)
		}),
		b.Subscribe(bus.TopicIDChanged, func(ev bus.Event) error {
			e := ev.(*bus.IDChanged)
			return s.Rename(e.OldID, e.NewID)
		}),
		b.Subscribe(bus.TopicSessionClosed, func(ev bus.Event) error {
			return s.Remove(ev.(*bus.SessionClosed).ID)
		}),
	}
	return func() {
		for _, fn := range unsubs {
			fn()
		}
	}
}
