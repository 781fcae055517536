package xdg

import (
	"errors"
	"os/user"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBasePaths(t *testing.T) {
	t.Setenv("HOME", "/home/user")
	tests := []struct {
		name     string
		env      map[string]string
		fn       func(...string) string
		args     []string
		expected string
	}{
		{
			name:     "config default",
			fn:       ConfigPath,
			args:     []string{"composerd.conf"},
			expected: "/home/user/.config/composerd/composerd.conf",
		},
		{
			name:     "config env",
			env:      map[string]string{"XDG_CONFIG_HOME": "/etc/xdg"},
			fn:       ConfigPath,
			args:     []string{"composerd.conf"},
			expected: "/etc/xdg/composerd/composerd.conf",
		},
		{
			name:     "relative env ignored",
			env:      map[string]string{"XDG_CACHE_HOME": "cache"},
			fn:       CachePath,
			args:     []string{"work-xoauth2.token"},
			expected: "/home/user/.cache/composerd/work-xoauth2.token",
		},
		{
			name:     "data",
			fn:       DataPath,
			args:     []string{"keyring.asc"},
			expected: "/home/user/.local/share/composerd/keyring.asc",
		},
		{
			name:     "state",
			env:      map[string]string{"XDG_STATE_HOME": "/var/state"},
			fn:       StatePath,
			args:     []string{"composers"},
			expected: "/var/state/composerd/composers",
		},
		{
			name:     "absolute",
			fn:       StatePath,
			args:     []string{"/srv/composers"},
			expected: "/srv/composers",
		},
		{
			name:     "runtime",
			env:      map[string]string{"XDG_RUNTIME_DIR": "/run/user/1000"},
			fn:       RuntimePath,
			args:     []string{"composerd.sock"},
			expected: "/run/user/1000/composerd.sock",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			for _, env := range []string{
				"XDG_CONFIG_HOME", "XDG_CACHE_HOME", "XDG_DATA_HOME",
				"XDG_STATE_HOME", "XDG_RUNTIME_DIR",
			} {
				t.Setenv(env, "")
			}
			for key, value := range test.env {
				t.Setenv(key, value)
			}
			assert.Equal(t, test.expected, test.fn(test.args...))
		})
	}
}

func TestRuntimePathFallback(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "")
	orig := userRuntimeDir
	defer func() { userRuntimeDir = orig }()
	userRuntimeDir = func() string { return "/tmp/composerd-1000" }

	assert.Equal(t, "/tmp/composerd-1000/composerd.sock", RuntimePath("composerd.sock"))
}

func TestExpandHome(t *testing.T) {
	t.Setenv("HOME", "/home/user")
	tests := []struct {
		args     []string
		expected string
	}{
		{[]string{"foo"}, "foo"},
		{[]string{"foo", "bar"}, "foo/bar"},
		{[]string{"/foobar/baz"}, "/foobar/baz"},
		{[]string{"~/Mail/Drafts"}, "/home/user/Mail/Drafts"},
		{[]string{"~"}, "/home/user"},
		{[]string{}, ""},
	}
	for _, test := range tests {
		assert.Equal(t, test.expected, ExpandHome(test.args...), "%v", test.args)
	}
}

func TestHomeDirFallback(t *testing.T) {
	t.Setenv("HOME", "")
	orig := currentUser
	defer func() { currentUser = orig }()

	currentUser = func() (*user.User, error) {
		return &user.User{HomeDir: "/home/fallback"}, nil
	}
	assert.Equal(t, "/home/fallback", HomeDir())

	currentUser = func() (*user.User, error) {
		return nil, errors.New("no such user")
	}
	assert.Equal(t, "", HomeDir())
}
