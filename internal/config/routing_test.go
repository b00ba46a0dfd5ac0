package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRouting_MissingFileUsesDefaults(t *testing.T) {
	rc, err := LoadRouting(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultRouting(), rc)
}

func TestLoadRouting_OverridesAndExpandsEnv(t *testing.T) {
	t.Setenv("ADMIN_MAIL", "admin@constat.example")
	path := filepath.Join(t.TempDir(), "routing.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app_name: Constat Pro
admin_addresses:
  - ${ADMIN_MAIL}
time_zone: UTC
links:
  login: https://pro.example/login
`), 0600))

	rc, err := LoadRouting(path)
	require.NoError(t, err)
	assert.Equal(t, "Constat Pro", rc.AppName)
	assert.Equal(t, []string{"admin@constat.example"}, rc.AdminAddresses)
	assert.Equal(t, "https://pro.example/login", rc.Links.Login)
	// Unset keys keep their defaults.
	assert.Equal(t, DefaultRouting().Links.Reports, rc.Links.Reports)
}

func TestLoadRouting_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app_name: [unterminated"), 0600))

	_, err := LoadRouting(path)
	assert.Error(t, err)
}

func TestRoutingConfig_RouterConfig(t *testing.T) {
	rc := DefaultRouting()

	cfg, err := rc.RouterConfig("noreply@constat-tunisie.app")
	require.NoError(t, err)
	assert.Equal(t, "Constat Tunisie", cfg.AppName)
	assert.Equal(t, "noreply@constat-tunisie.app", cfg.OperatorMailbox)
	assert.Equal(t, "Africa/Tunis", cfg.Location.String())
	assert.Equal(t, "https://constat-tunisie.app/login", cfg.LoginURL)
}

func TestRoutingConfig_RouterConfigErrors(t *testing.T) {
	noRecipient := DefaultRouting()
	_, err := noRecipient.RouterConfig("")
	assert.ErrorContains(t, err, "operator_mailbox")

	missingLinks := DefaultRouting()
	missingLinks.Links.Login = ""
	missingLinks.Links.Reports = " "
	_, err = missingLinks.RouterConfig("ops@example.com")
	assert.ErrorContains(t, err, "missing links.login, links.reports")

	badZone := DefaultRouting()
	badZone.TimeZone = "Mars/Olympus"
	_, err = badZone.RouterConfig("ops@example.com")
	assert.Error(t, err)
}
