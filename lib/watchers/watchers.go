package watchers

import (
	"github.com/fsnotify/fsnotify"

	"git.sr.ht/~rjarry/composerd/lib/log"
)

type FSOperation int

const (
	FSCreate FSOperation = iota
	FSRemove
	FSRename
)

type FSEvent struct {
	Operation FSOperation
	Path      string
}

// FSWatcher reports files being created, removed or renamed in the watched
// directories.
type FSWatcher struct {
	w  *fsnotify.Watcher
	ch chan *FSEvent
}

func NewWatcher() (*FSWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	watcher := &FSWatcher{w: w, ch: make(chan *FSEvent)}
	go watcher.watch()
	return watcher, nil
}

func (w *FSWatcher) watch() {
	defer log.PanicHandler()
	defer close(w.ch)
	for {
		select {
		case ev, ok := <-w.w.Events:
			if !ok {
				return
			}
			var op FSOperation
			switch {
			case ev.Has(fsnotify.Create):
				op = FSCreate
			case ev.Has(fsnotify.Remove):
				op = FSRemove
			case ev.Has(fsnotify.Rename):
				op = FSRename
			default:
				continue
			}
			w.ch <- &FSEvent{Operation: op, Path: ev.Name}
		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			log.Errorf("fsnotify: %v", err)
		}
	}
}

// Events is closed after Close.
func (w *FSWatcher) Events() <-chan *FSEvent {
	return w.ch
}

// Add starts watching a directory.
func (w *FSWatcher) Add(p string) error {
	return w.w.Add(p)
}

func (w *FSWatcher) Close() error {
	return w.w.Close()
}
