package config

import (
	"time"

	"github.com/go-ini/ini"

	"git.sr.ht/~rjarry/composerd/lib/log"
)

type ComposeConfig struct {
	MaxOpenSessions     int           `ini:"max-open-sessions" default:"10"`
	AutosaveDelay       time.Duration `ini:"autosave-delay" default:"3s"`
	CloseOnSend         bool          `ini:"close-on-send" default:"true"`
	EmptySubjectWarning bool          `ini:"empty-subject-warning" default:"true"`
	MaxExpiration       time.Duration `ini:"max-expiration" default:"672h"`
	Maximized           bool          `ini:"maximized"`
	SaveOnOpen          bool          `ini:"save-on-open"`
	ReplyToSelf         bool          `ini:"reply-to-self" default:"true"`
	// host part of the Content-Id of extracted inline images
	InlineHostname string `ini:"inline-hostname" default:"composerd"`
}

var Compose = new(ComposeConfig)

func parseCompose(file *ini.File) error {
	if err := MapToStruct(file.Section("compose"), Compose, true); err != nil {
		return err
	}
	log.Debugf("composerd.conf: [compose] %#v", Compose)
	return nil
}
