package send

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os/exec"
	"strings"

	"github.com/emersion/go-message/mail"
	"github.com/google/shlex"
	"github.com/pkg/errors"
)

// sendmailSender pipes the message into a local sendmail compatible
// command which gets the recipients as arguments.
type sendmailSender struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr bytes.Buffer
}

func (s *sendmailSender) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

func (s *sendmailSender) Close() error {
	se := s.stdin.Close()
	ce := s.cmd.Wait()
	if se != nil {
		return se
	}
	if ce != nil {
		if msg := strings.TrimSpace(s.stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w", msg, ce)
		}
		return errors.Wrap(ce, s.cmd.Path)
	}
	return nil
}

func newSendmailSender(ctx context.Context, uri *url.URL, rcpts []*mail.Address) (io.WriteCloser, error) {
	args, err := shlex.Split(uri.Path)
	if err != nil {
		return nil, errors.Wrap(err, "shlex.Split")
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("no command specified")
	}
	for _, rcpt := range rcpts {
		args = append(args, rcpt.Address)
	}
	s := &sendmailSender{cmd: exec.CommandContext(ctx, args[0], args[1:]...)}
	s.cmd.Stderr = &s.stderr
	s.stdin, err = s.cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "cmd.StdinPipe")
	}
	if err := s.cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "cmd.Start")
	}
	return s, nil
}
