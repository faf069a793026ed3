package mainboilerplate

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/jessevdk/go-flags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopCommand struct{}

func (nopCommand) Execute([]string) error { return nil }

func TestCommandRegistryAttachesNestedCommands(t *testing.T) {
	var parser = flags.NewParser(&struct{}{}, flags.Default)
	var reg = NewCommandRegistry()

	reg.AddCommand("checkpoints.list", "json", "", "", &nopCommand{}) // Registered before its parent.
	reg.AddCommand("", "checkpoints", "Checkpoints", "", &struct{}{})
	reg.AddCommand("checkpoints", "list", "List", "", &nopCommand{})
	reg.AddCommand("checkpoints", "reset", "Reset", "", &nopCommand{})

	require.NoError(t, reg.AddCommands("", parser.Command, true))

	var cp = parser.Find("checkpoints")
	require.NotNil(t, cp)
	require.NotNil(t, cp.Find("reset"))
	require.NotNil(t, cp.Find("list").Find("json"))
}

func TestCommandRegistryNonRecursive(t *testing.T) {
	var parser = flags.NewParser(&struct{}{}, flags.Default)
	var reg = NewCommandRegistry()
	reg.AddCommand("", "checkpoints", "Checkpoints", "", &struct{}{})
	reg.AddCommand("checkpoints", "list", "List", "", &nopCommand{})

	require.NoError(t, reg.AddCommands("", parser.Command, false))
	assert.NotNil(t, parser.Find("checkpoints"))
	assert.Nil(t, parser.Find("checkpoints").Find("list"))
}

func TestConfigSearchPaths(t *testing.T) {
	t.Setenv(ConfigDirEnv, "/etc/docrelay")
	t.Setenv("HOME", "/home/ops")
	t.Setenv("UserProfile", "")

	assert.Equal(t, []string{
		"docrelay.ini",
		filepath.Join("/etc/docrelay", "docrelay.ini"),
		filepath.Join("/home/ops", ".config", "docrelay", "docrelay.ini"),
	}, ConfigSearchPaths("docrelay.ini"))
}

func TestProcessID(t *testing.T) {
	assert.Equal(t, "fixed", ServiceConfig{ID: "fixed"}.ProcessID())

	var generated = ServiceConfig{}.ProcessID()
	assert.NotEmpty(t, generated)
	assert.True(t, strings.Contains(generated, "-"))
}

func TestBuildTLSConfig(t *testing.T) {
	var cfg, err = BuildTLSConfig("", "", "")
	require.NoError(t, err)
	assert.Empty(t, cfg.Certificates)
	assert.Nil(t, cfg.RootCAs)

	_, err = BuildTLSConfig("", "", filepath.Join(t.TempDir(), "missing.pem"))
	assert.ErrorContains(t, err, "reading trusted CA file")
}
