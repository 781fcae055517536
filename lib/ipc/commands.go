package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"git.sr.ht/~sircmpwn/getopt"
	"github.com/lithammer/fuzzysearch/fuzzy"

	"git.sr.ht/~rjarry/composerd/lib/bus"
	"git.sr.ht/~rjarry/composerd/lib/compose"
	"git.sr.ht/~rjarry/composerd/lib/notify"
	"git.sr.ht/~rjarry/composerd/models"
)

// Commands implements Handler on top of a composer pool. Lifecycle
// requests are published on the bus and their reply awaited, the other
// ones are applied to the pool directly.
type Commands struct {
	bus     *bus.Bus
	pool    *compose.Pool
	Timeout time.Duration
	// recent notices, for the messages command
	Notices *notify.Log
	// nil when no keyring could be opened
	Keys KeyImporter
}

// KeyImporter adds the public keys read from r to the keyring used for
// encryption.
type KeyImporter interface {
	Import(r io.Reader) error
}

func NewCommands(b *bus.Bus, pool *compose.Pool) *Commands {
	return &Commands{bus: b, pool: pool, Timeout: 2 * time.Minute}
}

var ErrUnknownCommand = errors.New("command not understood")

func (c *Commands) Command(ctx context.Context, args []string) ([]string, error) {
	if strings.HasPrefix(args[0], "mailto:") {
		u, err := url.Parse(args[0])
		if err != nil {
			return nil, err
		}
		return c.await(ctx, func(reply bus.Reply) bus.Event {
			return &bus.ComposeMailto{URL: u, Reply: reply}
		})
	}

	switch args[0] {
	case "new":
		return c.compose(ctx, models.SeedNew, args, 0)
	case "reply":
		return c.compose(ctx, models.SeedReply, args, 1)
	case "reply-all":
		return c.compose(ctx, models.SeedReplyAll, args, 1)
	case "forward":
		return c.compose(ctx, models.SeedForward, args, 1)
	case "load":
		if len(args) != 2 {
			return nil, fmt.Errorf("Usage: load <id>")
		}
		return c.await(ctx, func(reply bus.Reply) bus.Event {
			return &bus.ComposeLoad{ID: args[1], Reply: reply}
		})
	case "input":
		return nil, c.input(args)
	case "attach":
		return nil, c.attach(args)
	case "detach":
		if len(args) != 3 {
			return nil, fmt.Errorf("Usage: detach <handle> <name>")
		}
		h, err := parseHandle(args[1])
		if err != nil {
			return nil, err
		}
		return nil, c.pool.RemoveAttachment(ctx, h, args[2])
	case "save":
		return c.save(ctx, args)
	case "blur":
		h, err := handleArg(args)
		if err != nil {
			return nil, err
		}
		return nil, c.pool.Blur(ctx, h)
	case "focus":
		h, err := handleArg(args)
		if err != nil {
			return nil, err
		}
		if !c.pool.Focus(h) {
			return nil, fmt.Errorf("no composer %d", h)
		}
		return nil, nil
	case "send":
		return c.send(ctx, args)
	case "close":
		return c.close(ctx, args)
	case "discard":
		h, err := handleArg(args)
		if err != nil {
			return nil, err
		}
		return c.await(ctx, func(reply bus.Reply) bus.Event {
			return &bus.DiscardRequested{Handle: h, Reply: reply}
		})
	case "list":
		return c.list(args[1:]), nil
	case "import-key":
		if len(args) != 2 {
			return nil, fmt.Errorf("Usage: import-key <file>")
		}
		return nil, c.importKey(args[1])
	case "messages":
		if c.Notices == nil {
			return nil, nil
		}
		var lines []string
		for _, m := range c.Notices.Recent() {
			lines = append(lines, m.String())
		}
		return lines, nil
	}
	return nil, ErrUnknownCommand
}

func (c *Commands) importKey(path string) error {
	if c.Keys == nil {
		return errors.New("no keyring available")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return c.Keys.Import(f)
}

func parseHandle(arg string) (models.Handle, error) {
	n, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid composer handle %q", arg)
	}
	return models.Handle(n), nil
}

func handleArg(args []string) (models.Handle, error) {
	if len(args) != 2 {
		return 0, fmt.Errorf("Usage: %s <handle>", args[0])
	}
	return parseHandle(args[1])
}

// await publishes the event built by fn and waits for its reply.
func (c *Commands) await(ctx context.Context, fn func(bus.Reply) bus.Event) ([]string, error) {
	type result struct {
		handle models.Handle
		err    error
	}
	ch := make(chan result, 1)
	c.bus.Publish(fn(func(h models.Handle, err error) {
		ch <- result{h, err}
	}))
	timeout := time.NewTimer(c.Timeout)
	defer timeout.Stop()
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		if r.handle == 0 {
			return nil, nil
		}
		return []string{strconv.FormatInt(int64(r.handle), 10)}, nil
	case <-timeout.C:
		return nil, fmt.Errorf("no reply after %s", c.Timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Commands) compose(
	ctx context.Context, typ models.SeedType, args []string, nargs int,
) ([]string, error) {
	if len(args) != nargs+1 {
		if nargs == 0 {
			return nil, fmt.Errorf("Usage: %s", args[0])
		}
		return nil, fmt.Errorf("Usage: %s <id>", args[0])
	}
	seed := models.Seed{Type: typ}
	if nargs > 0 {
		seed.ID = args[1]
	}
	return c.await(ctx, func(reply bus.Reply) bus.Event {
		return &bus.ComposeNew{Seed: seed, Reply: reply}
	})
}

func (c *Commands) input(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("Usage: input <handle> <field> [value...]")
	}
	h, err := parseHandle(args[1])
	if err != nil {
		return err
	}
	return c.pool.Input(h, args[2], strings.Join(args[3:], " "))
}

func (c *Commands) attach(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("Usage: attach <handle> <path>")
	}
	h, err := parseHandle(args[1])
	if err != nil {
		return err
	}
	path, err := filepath.Abs(args[2])
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return err
	}
	if _, ok := c.pool.Get(h); !ok {
		return fmt.Errorf("no composer %d", h)
	}
	c.bus.Publish(&bus.AttachmentUpload{Handle: h})
	c.bus.Publish(&bus.AttachmentUpload{
		Handle:     h,
		Done:       true,
		Attachment: &models.Attachment{Name: filepath.Base(path), Path: path},
	})
	return nil
}

func (c *Commands) save(ctx context.Context, args []string) ([]string, error) {
	var h models.Handle
	switch len(args) {
	case 1:
	case 2:
		var err error
		if h, err = parseHandle(args[1]); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("Usage: save [<handle>]")
	}
	return c.await(ctx, func(reply bus.Reply) bus.Event {
		return &bus.SaveRequested{Handle: h, Notify: true, Reply: reply}
	})
}

func (c *Commands) send(ctx context.Context, args []string) ([]string, error) {
	var keep, confirm bool
	opts, optind, err := getopt.Getopts(args, "ky")
	if err != nil {
		return nil, err
	}
	for _, opt := range opts {
		switch opt.Option {
		case 'k':
			keep = true
		case 'y':
			confirm = true
		}
	}
	args = args[optind:]
	if len(args) != 1 {
		return nil, fmt.Errorf("Usage: send [-k] [-y] <handle>")
	}
	h, err := parseHandle(args[0])
	if err != nil {
		return nil, err
	}
	var closeOnSuccess *bool
	if keep {
		closeOnSuccess = new(bool)
	}
	return c.await(ctx, func(reply bus.Reply) bus.Event {
		return &bus.SendRequested{
			Handle:              h,
			CloseOnSuccess:      closeOnSuccess,
			ConfirmEmptySubject: confirm,
			Reply:               reply,
		}
	})
}

func (c *Commands) close(ctx context.Context, args []string) ([]string, error) {
	var save, discard bool
	opts, optind, err := getopt.Getopts(args, "sd")
	if err != nil {
		return nil, err
	}
	for _, opt := range opts {
		switch opt.Option {
		case 's':
			if discard {
				return nil, errors.New("-s and -d are mutually exclusive")
			}
			save = true
		case 'd':
			if save {
				return nil, errors.New("-s and -d are mutually exclusive")
			}
			discard = true
		}
	}
	args = args[optind:]
	if len(args) != 1 {
		return nil, fmt.Errorf("Usage: close [-s|-d] <handle>")
	}
	h, err := parseHandle(args[0])
	if err != nil {
		return nil, err
	}
	return c.await(ctx, func(reply bus.Reply) bus.Event {
		return &bus.CloseRequested{Handle: h, Save: save, Discard: discard, Reply: reply}
	})
}

// list prints one line per open composer. With a filter, only the
// composers whose subject or recipients fuzzy match it are listed, best
// matches first.
func (c *Commands) list(filter []string) []string {
	var lines, targets []string
	for _, h := range c.pool.Handles() {
		s, ok := c.pool.Get(h)
		if !ok {
			continue
		}
		d := s.Content()
		rcpts := make([]string, 0, len(d.To))
		for _, addr := range d.To {
			rcpts = append(rcpts, addr.Address)
		}
		lines = append(lines, fmt.Sprintf("%d\t%s\t%s\t%s",
			h, s.ID(), s.State(), d.Subject))
		targets = append(targets, d.Subject+" "+strings.Join(rcpts, " "))
	}
	if len(filter) == 0 {
		return lines
	}
	ranks := fuzzy.RankFindFold(strings.Join(filter, " "), targets)
	sort.Sort(ranks)
	res := make([]string, 0, len(ranks))
	for _, r := range ranks {
		res = append(res, lines[r.OriginalIndex])
	}
	return res
}
