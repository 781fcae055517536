package config

import (
	"github.com/go-ini/ini"

	"git.sr.ht/~rjarry/composerd/lib/log"
)

type HooksConfig struct {
	Startup        string `ini:"startup"`
	Shutdown       string `ini:"shutdown"`
	MailSent       string `ini:"mail-sent"`
	DraftDiscarded string `ini:"draft-discarded"`
}

var Hooks HooksConfig

func parseHooks(file *ini.File) error {
	err := MapToStruct(file.Section("hooks"), &Hooks, true)
	if err != nil {
		return err
	}
	log.Debugf("composerd.conf: [hooks] %#v", Hooks)
	return nil
}
