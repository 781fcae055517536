package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"git.sr.ht/~sircmpwn/getopt"

	"git.sr.ht/~rjarry/composerd/config"
	"git.sr.ht/~rjarry/composerd/lib/autoconfig"
	"git.sr.ht/~rjarry/composerd/lib/bus"
	"git.sr.ht/~rjarry/composerd/lib/compose"
	"git.sr.ht/~rjarry/composerd/lib/crypto/pgp"
	"git.sr.ht/~rjarry/composerd/lib/drafts"
	"git.sr.ht/~rjarry/composerd/lib/hooks"
	"git.sr.ht/~rjarry/composerd/lib/inline"
	"git.sr.ht/~rjarry/composerd/lib/ipc"
	"git.sr.ht/~rjarry/composerd/lib/log"
	"git.sr.ht/~rjarry/composerd/lib/notify"
	"git.sr.ht/~rjarry/composerd/lib/prepare"
	"git.sr.ht/~rjarry/composerd/lib/send"
	"git.sr.ht/~rjarry/composerd/lib/state"
	"git.sr.ht/~rjarry/composerd/lib/watchers"
	"git.sr.ht/~rjarry/composerd/models"
)

// set at build time
var Version string

func buildInfo() string {
	return fmt.Sprintf("%s (%s %s %s)",
		Version, runtime.Version(), runtime.GOARCH, runtime.GOOS)
}

func usage(msg string) {
	if msg != "" {
		fmt.Fprintf(os.Stderr, "%s\n", msg)
	}
	fmt.Fprintln(os.Stderr, "usage: composerd [-v] [-c <config>] [-l <level>] [command...]")
	os.Exit(1)
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

// forward runs args in the instance already listening on the socket.
func forward(args []string) error {
	resp, err := ipc.ConnectAndExec("", args)
	if err != nil {
		return err
	}
	for _, line := range resp.Result {
		fmt.Println(line)
	}
	if resp.Error != "" {
		die("%s", resp.Error)
	}
	return nil
}

// restore reopens the composers that were open when the previous instance
// stopped. Entries whose draft is gone are dropped.
func restore(b *bus.Bus, st *state.Store) {
	entries, err := st.List()
	if err != nil {
		log.Warnf("failed to list open composers: %v", err)
		return
	}
	for _, e := range entries {
		id := e.ID
		b.Publish(&bus.ComposeLoad{ID: id, Reply: func(h models.Handle, err error) {
			var capacity *compose.CapacityError
			switch {
			case err == nil:
				log.Debugf("restored composer %d for %s", h, id)
			case errors.As(err, &capacity):
				log.Warnf("cannot restore %s: %v", id, err)
			default:
				log.Warnf("dropping %s: %v", id, err)
				if err := st.Remove(id); err != nil {
					log.Errorf("state: %v", err)
				}
			}
		}})
	}
}

func main() {
	defer log.PanicHandler()

	opts, optind, err := getopt.Getopts(os.Args, "vc:l:")
	if err != nil {
		usage(err.Error())
	}
	var confPath, level string
	for _, opt := range opts {
		switch opt.Option {
		case 'v':
			fmt.Println("composerd " + buildInfo())
			return
		case 'c':
			confPath = opt.Value
		case 'l':
			level = opt.Value
		}
	}
	args := os.Args[optind:]
	retryExec := false
	if len(args) > 0 {
		err := forward(args)
		if err == nil {
			return // other instance takes over
		}
		fmt.Fprintf(os.Stderr, "Failed to communicate to composerd: %v\n", err)
		// continue with setting up a new instance and retry after init
		retryExec = true
	}

	if err := config.LoadConfigFromFile(confPath); err != nil {
		die("failed to load config: %s", err)
	}
	if level != "" {
		l, err := log.ParseLevel(level)
		if err != nil {
			usage(err.Error())
		}
		config.General.LogLevel = l
	}
	if err := config.InitLogging(); err != nil {
		die("%s", err)
	}
	log.Infof("Starting up version %s", buildInfo())

	acct := config.Account
	var sourceCreds func() (string, error)
	if acct.SourceCredentials != nil {
		sourceCreds = acct.SourceCredentials.Password
	}
	backend, err := drafts.NewBackend(acct.Source, acct.Name, sourceCreds)
	if err != nil {
		die("%s: %s", acct.Name, err)
	}
	defer backend.Close()
	if im, ok := backend.(*drafts.IMAP); ok {
		im.KeepalivePeriod = acct.KeepalivePeriod
		im.KeepaliveProbes = acct.KeepaliveProbes
		im.KeepaliveInterval = acct.KeepaliveInterval
	}
	store := drafts.New(backend, acct.Postpone)

	ids := &prepare.Identities{From: acct.From, Aliases: acct.Aliases}
	preparer := prepare.New(store, ids, acct.Inbox)
	preparer.ReplyToSelf = config.Compose.ReplyToSelf
	preparer.AutoSign = acct.PgpAutoSign
	preparer.AutoEncrypt = acct.PgpAutoEncrypt

	outgoing := acct.Outgoing
	if outgoing == nil {
		lookup, done := context.WithTimeout(context.Background(), 10*time.Second)
		outgoing = autoconfig.Outgoing(lookup, acct.From.Address)
		done()
		if outgoing == nil {
			log.Warnf("%s: no outgoing server configured or discovered", acct.Name)
		} else {
			log.Infof("%s: using discovered outgoing server %s", acct.Name, outgoing.Redacted())
		}
	}
	tx := send.NewTransmitter(outgoing, acct.Name)
	tx.Domain = acct.SmtpDomain
	if acct.OutgoingCredentials != nil {
		tx.Credentials = acct.OutgoingCredentials.Password
	}
	tx.Backend = backend
	tx.CopyTo = acct.CopyTo
	tx.AttachKey = acct.PgpAttachKey
	if acct.DkimKey != "" {
		tx.DKIM, err = send.LoadDKIM(acct.DkimDomain, acct.DkimSelector, acct.DkimKey)
		if err != nil {
			die("dkim: %s", err)
		}
	}

	notices := notify.New(50)
	svc := compose.Services{
		Preparer:    preparer,
		From:        ids,
		Persister:   store,
		Transmitter: tx,
		Inline:      inline.New(config.Compose.InlineHostname),
		Notifier:    notices,
	}
	keyring, err := pgp.Open(acct.PgpKeyring)
	if err != nil {
		log.Warnf("failed to open keyring, encryption disabled: %v", err)
	} else {
		defer keyring.Close()
		keyring.Self = acct.From.Address
		tx.Keyring = keyring
		svc.Keys = keyring
	}

	b := bus.New()
	pool := compose.NewPool(b, svc, compose.Options{
		MaxOpenSessions:     config.Compose.MaxOpenSessions,
		Constrained:         config.General.Constrained,
		AutosaveDelay:       config.Compose.AutosaveDelay,
		CloseOnSend:         config.Compose.CloseOnSend,
		EmptySubjectWarning: config.Compose.EmptySubjectWarning,
		MaxExpiration:       config.Compose.MaxExpiration,
		Maximized:           config.Compose.Maximized,
		SaveOnOpen:          config.Compose.SaveOnOpen,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Subscribe(ctx)
	defer store.Subscribe(b)()
	defer hooks.Subscribe(b, acct.Name, store.Folder())()

	st, err := state.Open(config.General.StateDir)
	if err != nil {
		log.Warnf("open composers will not be restored: %v", err)
	} else {
		defer st.Close()
		defer st.Subscribe(b)()
		restore(b, st)
	}

	if md, ok := backend.(*drafts.Maildir); ok {
		folders, err := watchers.NewFolders(b, md, acct.Postpone, acct.CopyTo, pool.MessageIDs)
		if err != nil {
			log.Warnf("cannot watch %s: %v", acct.Source, err)
		} else {
			go folders.Run(ctx)
		}
	}

	cmds := ipc.NewCommands(b, pool)
	cmds.Notices = notices
	if svc.Keys != nil {
		cmds.Keys = keyring
	}
	srv, err := ipc.StartServer("", cmds)
	if err != nil {
		die("failed to start Unix server: %s", err)
	}
	log.PanicCleanup = srv.Close

	if retryExec {
		lines, err := cmds.Command(ctx, args)
		for _, line := range lines {
			fmt.Println(line)
		}
		if err != nil {
			log.Errorf("%v", err)
		}
	}

	go func() {
		defer log.PanicHandler()
		err := hooks.RunHook(&hooks.Startup{Version: Version})
		if err != nil {
			log.Errorf("startup hook: %s", err)
		}
	}()
	defer func(start time.Time) {
		err := hooks.RunHook(&hooks.Shutdown{Lifetime: time.Since(start)})
		if err != nil {
			log.Errorf("shutdown hook: %s", err)
		}
	}(time.Now())

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	log.Infof("%s: saving %d open composers", sig, pool.Len())

	srv.Close()
	saveCtx, done := context.WithTimeout(ctx, 30*time.Second)
	for _, h := range pool.Handles() {
		if err := pool.SaveNow(saveCtx, h, false); err != nil {
			log.Warnf("composer %d: %v", h, err)
		}
	}
	done()
	pool.Shutdown()
	cancel()
	b.Wait()
}
