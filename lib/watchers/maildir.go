package watchers

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"git.sr.ht/~rjarry/composerd/lib/bus"
	"git.sr.ht/~rjarry/composerd/lib/drafts"
	"git.sr.ht/~rjarry/composerd/lib/log"
	"git.sr.ht/~rjarry/composerd/models"
)

// Folders turns changes made by other programs in the Drafts and Sent
// maildir folders into remote events for the composer registry:
//
//   - a message appearing in Sent with the Message-Id of an open draft
//     means the draft was sent elsewhere (remote.active-messages)
//   - an open draft removed from Drafts without a newer copy means it was
//     deleted elsewhere (remote.conversation-deleted)
type Folders struct {
	store  *drafts.Maildir
	drafts string
	sent   string
	// Message-Id of the open drafts by draft id
	open func() map[string]string

	bus    *bus.Bus
	fs     *FSWatcher
	logger log.Logger
}

func NewFolders(
	b *bus.Bus, store *drafts.Maildir, draftsFolder, sentFolder string,
	open func() map[string]string,
) (*Folders, error) {
	fs, err := NewWatcher()
	if err != nil {
		return nil, err
	}
	f := &Folders{
		store:  store,
		drafts: draftsFolder,
		sent:   sentFolder,
		open:   open,
		bus:    b,
		fs:     fs,
		logger: log.NewLogger("watchers", 2),
	}
	for _, folder := range []string{draftsFolder, sentFolder} {
		if folder == "" {
			continue
		}
		// creates the maildir if needed
		if _, err := store.Dir(folder); err != nil {
			fs.Close()
			return nil, err
		}
		for _, sub := range []string{"new", "cur"} {
			if err := fs.Add(filepath.Join(store.Path(folder), sub)); err != nil {
				fs.Close()
				return nil, err
			}
		}
	}
	return f, nil
}

// Run processes file system events until ctx is done.
func (f *Folders) Run(ctx context.Context) {
	defer log.PanicHandler()
	defer f.fs.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-f.fs.Events():
			if !ok {
				return
			}
			f.handle(ev)
		}
	}
}

// folderOf maps <root>/<folder>/{cur,new}/<file> to folder and key.
func (f *Folders) folderOf(path string) (string, string) {
	dir := filepath.Dir(filepath.Dir(path))
	key, _, _ := strings.Cut(filepath.Base(path), ":")
	switch dir {
	case f.store.Path(f.drafts):
		return f.drafts, key
	case f.store.Path(f.sent):
		if f.sent != "" {
			return f.sent, key
		}
	}
	return "", key
}

func (f *Folders) handle(ev *FSEvent) {
	folder, key := f.folderOf(ev.Path)
	switch {
	case folder == "":
	case folder == f.sent && ev.Operation == FSCreate:
		f.sentElsewhere(ev.Path)
	case folder == f.drafts && ev.Operation != FSCreate:
		f.deletedElsewhere(key)
	}
}

func (f *Folders) sentElsewhere(path string) {
	file, err := os.Open(path)
	if err != nil {
		// moved again before we could read it
		f.logger.Debugf("%s: %v", path, err)
		return
	}
	h, err := drafts.ReadHeader(file)
	file.Close()
	if err != nil {
		f.logger.Warnf("%s: %v", path, err)
		return
	}
	msgid, err := h.MessageID()
	if err != nil || msgid == "" {
		return
	}
	date, _ := h.Date()
	var msgs []models.RemoteMessage
	for id, openID := range f.open() {
		if openID == msgid {
			msgs = append(msgs, models.RemoteMessage{
				ID: id, Type: models.TypeSent, Time: date,
			})
		}
	}
	if len(msgs) > 0 {
		f.logger.Debugf("%s appeared in %s", msgid, f.sent)
		f.bus.Publish(&bus.ActiveMessages{Messages: msgs})
	}
}

func (f *Folders) deletedElsewhere(key string) {
	msgid, ok := f.open()[key]
	if !ok {
		return
	}
	// saving a draft writes the new copy before removing the old one
	if newKey, found := f.store.Find(f.drafts, msgid); found {
		f.logger.Tracef("%s replaced by %s", key, newKey)
		return
	}
	f.logger.Debugf("%s removed from %s", key, f.drafts)
	f.bus.Publish(&bus.ConversationDeleted{ID: key})
}
