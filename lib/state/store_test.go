package state

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"

	"git.sr.ht/~rjarry/composerd/lib/bus"
	"git.sr.ht/~rjarry/composerd/models"
)

func ids(t *testing.T, s *Store) []string {
	t.Helper()
	entries, err := s.List()
	require.NoError(t, err)
	var res []string
	for _, e := range entries {
		res = append(res, e.ID)
	}
	return res
}

func open(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(path)
	require.NoError(t, err)
	return s
}

func TestStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state")
	s := open(t, path)
	require.NoError(t, s.Put("m1"))
	require.NoError(t, s.Put("m2"))
	require.NoError(t, s.Put(models.NewPlaceholderID()))
	require.NoError(t, s.Remove("m1"))
	require.NoError(t, s.Close())

	s = open(t, path)
	defer s.Close()
	assert.Equal(t, []string{"m2"}, ids(t, s))
}

func TestStoreVersionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state")
	db, err := leveldb.OpenFile(path, nil)
	require.NoError(t, err)
	require.NoError(t, db.Put(versTagKey, []byte("0000"), nil))
	require.NoError(t, db.Put(createKey("old"), []byte(`{"id":"old"}`), nil))
	require.NoError(t, db.Close())

	s := open(t, path)
	defer s.Close()
	assert.Empty(t, ids(t, s))
}

func TestStoreFollowsBus(t *testing.T) {
	s := open(t, filepath.Join(t.TempDir(), "state"))
	defer s.Close()
	b := bus.New()
	unsubscribe := s.Subscribe(b)

	placeholder := models.NewPlaceholderID()
	b.Publish(&bus.SessionLoaded{Handle: 1, ID: "m1"})
	b.Publish(&bus.SessionLoaded{Handle: 2, ID: placeholder})
	assert.Equal(t, []string{"m1"}, ids(t, s))

	b.Publish(&bus.IDChanged{Handle: 2, OldID: placeholder, NewID: "m2"})
	b.Publish(&bus.IDChanged{Handle: 1, OldID: "m1", NewID: "m3"})
	assert.ElementsMatch(t, []string{"m2", "m3"}, ids(t, s))

	b.Publish(&bus.SessionClosed{Handle: 2, ID: "m2"})
	assert.Equal(t, []string{"m3"}, ids(t, s))

	unsubscribe()
	b.Publish(&bus.SessionClosed{Handle: 1, ID: "m3"})
	assert.Equal(t, []string{"m3"}, ids(t, s))

	require.NoError(t, s.Reset())
	assert.Empty(t, ids(t, s))
}
