package config

import (
	"fmt"
	"os"

	"github.com/go-ini/ini"
	"github.com/mattn/go-isatty"

	"git.sr.ht/~rjarry/composerd/lib/log"
	"git.sr.ht/~rjarry/composerd/lib/xdg"
)

type GeneralConfig struct {
	LogFile  string       `ini:"log-file"`
	LogLevel log.LogLevel `ini:"log-level" default:"info" parse:"ParseLogLevel"`
	// single composer slot
	Constrained bool `ini:"constrained"`
	// open composers database, defaults to $XDG_STATE_HOME/composerd/state
	StateDir         string `ini:"state-dir"`
	UnsafeConfigFile bool   `ini:"unsafe-config-file"`
}

var General = new(GeneralConfig)

func parseGeneral(file *ini.File) error {
	if err := MapToStruct(file.Section("general"), General, true); err != nil {
		return err
	}
	if General.StateDir == "" {
		General.StateDir = xdg.StatePath("composerd", "state")
	} else {
		General.StateDir = xdg.ExpandHome(General.StateDir)
	}
	log.Debugf("composerd.conf: [general] %#v", General)
	return nil
}

func (gen *GeneralConfig) ParseLogLevel(sec *ini.Section, key *ini.Key) (log.LogLevel, error) {
	return log.ParseLevel(key.String())
}

// InitLogging directs the logs to stdout when it is not a terminal, to the
// configured log-file otherwise.
func InitLogging() error {
	var logFile *os.File
	useStdout := false
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		logFile = os.Stdout
		useStdout = true
	} else if General.LogFile != "" {
		var err error
		path := xdg.ExpandHome(General.LogFile)
		logFile, err = os.OpenFile(path,
			os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("log-file: %w", err)
		}
	}
	return log.Init(logFile, useStdout, General.LogLevel)
}
