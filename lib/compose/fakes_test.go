package compose

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/emersion/go-message/mail"

	"git.sr.ht/~rjarry/composerd/lib/bus"
	"git.sr.ht/~rjarry/composerd/models"
)

type fakePreparer struct {
	err error
}

func (f *fakePreparer) GetMessage(ctx context.Context, seed models.Seed) (*models.Draft, error) {
	if f.err != nil {
		return nil, f.err
	}
	d := &models.Draft{MIMEType: models.TextPlain}
	if seed.Type == models.SeedLoad {
		d.ID = seed.ID
		d.ConversationID = "c-" + seed.ID
		d.Subject = "loaded " + seed.ID
	}
	if seed.Defaults != nil {
		d.MIMEType = seed.Defaults.MIMEType
		d.Attachments = seed.Defaults.Attachments
	}
	return d, nil
}

type fakeFrom struct {
	none bool
}

func (f *fakeFrom) Resolve(*models.Draft) (*mail.Address, string) {
	if f.none {
		return nil, ""
	}
	return &mail.Address{Name: "Me", Address: "me@example.com"}, "addr-1"
}

type fakePersister struct {
	mu    sync.Mutex
	calls []*models.Draft
	opts  []PersistOptions
	err   error
	next  int
	block chan struct{}
}

func (f *fakePersister) Persist(
	ctx context.Context, d *models.Draft, opts PersistOptions,
) (*models.Draft, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, d.Clone())
	f.opts = append(f.opts, opts)
	if f.err != nil {
		return nil, f.err
	}
	out := d.Clone()
	if models.IsPlaceholderID(out.ID) {
		f.next++
		out.ID = fmt.Sprintf("srv-%d", f.next)
	}
	return out, nil
}

func (f *fakePersister) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakePersister) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeTransmitter struct {
	mu    sync.Mutex
	sent  []*models.Draft
	err   error
	block chan struct{}
}

func (f *fakeTransmitter) Transmit(ctx context.Context, d *models.Draft) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, d)
	return nil
}

func (f *fakeTransmitter) Sent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeKeys struct {
	mu        sync.Mutex
	attachErr error
	attached  int
	detached  int
	// addresses with a public key, nil means everybody
	known map[string]bool
}

func (f *fakeKeys) Attach(ctx context.Context, d *models.Draft) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attached++
	if f.attachErr != nil {
		return f.attachErr
	}
	if d.Encrypt {
		d.Keys = openpgp.EntityList{&openpgp.Entity{}}
	}
	return nil
}

func (f *fakeKeys) Detach(ctx context.Context, d *models.Draft) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detached++
	d.Keys = nil
	return nil
}

func (f *fakeKeys) HasKey(addr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.known == nil || f.known[addr]
}

type fakeSync struct {
	mu      sync.Mutex
	pauses  int
	resumes int
}

func (f *fakeSync) Pause() {
	f.mu.Lock()
	f.pauses++
	f.mu.Unlock()
}

func (f *fakeSync) Resume() {
	f.mu.Lock()
	f.resumes++
	f.mu.Unlock()
}

func (f *fakeSync) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pauses, f.resumes
}

type fakeNotifier struct {
	mu        sync.Mutex
	infos     []string
	successes []string
	errors    []string
}

func (f *fakeNotifier) Info(msg string) {
	f.mu.Lock()
	f.infos = append(f.infos, msg)
	f.mu.Unlock()
}

func (f *fakeNotifier) Success(msg string) {
	f.mu.Lock()
	f.successes = append(f.successes, msg)
	f.mu.Unlock()
}

func (f *fakeNotifier) Error(msg string) {
	f.mu.Lock()
	f.errors = append(f.errors, msg)
	f.mu.Unlock()
}

func (f *fakeNotifier) Infos() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.infos...)
}

func (f *fakeNotifier) Successes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.successes...)
}

func (f *fakeNotifier) Errors() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.errors...)
}

// recorder collects the outbound events of a bus.
type recorder struct {
	mu     sync.Mutex
	events []bus.Event
}

func record(b *bus.Bus) *recorder {
	r := &recorder{}
	for _, topic := range []bus.Topic{
		bus.TopicSessionLoaded, bus.TopicSessionClosed, bus.TopicSendFailed,
		bus.TopicSendSucceeded, bus.TopicBusyChanged, bus.TopicIDChanged,
		bus.TopicAutosaveFailed, bus.TopicComposerActive, bus.TopicDeleteMessages,
	} {
		b.Subscribe(topic, func(ev bus.Event) error {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
			return nil
		})
	}
	return r
}

func (r *recorder) topics() []bus.Topic {
	r.mu.Lock()
	defer r.mu.Unlock()
	topics := make([]bus.Topic, len(r.events))
	for i, ev := range r.events {
		topics[i] = ev.Topic()
	}
	return topics
}

func (r *recorder) of(topic bus.Topic) []bus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var events []bus.Event
	for _, ev := range r.events {
		if ev.Topic() == topic {
			events = append(events, ev)
		}
	}
	return events
}

type harness struct {
	pool   *Pool
	bus    *bus.Bus
	prep   *fakePreparer
	from   *fakeFrom
	store  *fakePersister
	tx     *fakeTransmitter
	keys   *fakeKeys
	sync   *fakeSync
	notes  *fakeNotifier
	events *recorder
}

func newHarness(t *testing.T, tweaks ...func(*Options)) *harness {
	t.Helper()
	opts := DefaultOptions()
	opts.AutosaveDelay = 20 * time.Millisecond
	for _, tweak := range tweaks {
		tweak(&opts)
	}
	h := &harness{
		bus:   bus.New(),
		prep:  &fakePreparer{},
		from:  &fakeFrom{},
		store: &fakePersister{},
		tx:    &fakeTransmitter{},
		keys:  &fakeKeys{},
		sync:  &fakeSync{},
		notes: &fakeNotifier{},
	}
	h.events = record(h.bus)
	h.pool = NewPool(h.bus, Services{
		Preparer:    h.prep,
		From:        h.from,
		Persister:   h.store,
		Transmitter: h.tx,
		Keys:        h.keys,
		Sync:        h.sync,
		Notifier:    h.notes,
	}, opts)
	t.Cleanup(h.pool.Shutdown)
	return h
}

func (h *harness) open(t *testing.T) models.Handle {
	t.Helper()
	handle, err := h.pool.Open(context.Background(), models.Seed{Type: models.SeedNew})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return handle
}

func (h *harness) session(t *testing.T, handle models.Handle) *Session {
	t.Helper()
	s, ok := h.pool.Get(handle)
	if !ok {
		t.Fatalf("composer %d not open", handle)
	}
	return s
}
