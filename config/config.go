package config

import (
	"fmt"

	"github.com/go-ini/ini"

	"git.sr.ht/~rjarry/composerd/lib/xdg"
)

// ConfigPath is the configuration file used when none is given.
func ConfigPath() string {
	return xdg.ConfigPath("composerd", "composerd.conf")
}

// LoadConfigFromFile (re)loads all sections from path. A missing file only
// leaves the defaults, which fail validation for the account section.
func LoadConfigFromFile(path string) error {
	if path == "" {
		path = ConfigPath()
	}
	file, err := ini.LoadSources(ini.LoadOptions{
		KeyValueDelimiters: "=",
		Loose:              true,
	}, path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	General = new(GeneralConfig)
	Compose = new(ComposeConfig)
	Account = new(AccountConfig)
	Hooks = HooksConfig{}

	if err := parseGeneral(file); err != nil {
		return err
	}
	if !General.UnsafeConfigFile && hasSecrets(file.Section("account")) {
		if err := checkConfigPerms(path); err != nil {
			return err
		}
	}
	if err := parseCompose(file); err != nil {
		return err
	}
	if err := parseAccount(file); err != nil {
		return err
	}
	return parseHooks(file)
}
