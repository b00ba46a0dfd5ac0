package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaharia-lab/notifyd/internal/build"
	"github.com/shaharia-lab/notifyd/internal/config"
	"github.com/shaharia-lab/notifyd/internal/service"
)

func TestParseSets(t *testing.T) {
	got, err := parseSets([]string{
		"conducteurEmail=a@b.com",
		"reason=Photo floue = illisible",
		"plates=123 TU 4567",
		"plates=99 TU 1",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"conducteurEmail": "a@b.com",
		"reason":          "Photo floue = illisible",
		"plates":          "123 TU 4567,99 TU 1",
	}, got)
}

func TestParseSets_Invalid(t *testing.T) {
	for _, in := range []string{"novalue", "=x", " =x"} {
		_, err := parseSets([]string{in})
		assert.Error(t, err, in)
	}
}

func TestCurrentVersion(t *testing.T) {
	_, err := currentVersion("dev")
	assert.Error(t, err)
	_, err = currentVersion("not-a-version")
	assert.Error(t, err)

	v, err := currentVersion("v1.2.3")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", v.String())
}

func TestIsNewer(t *testing.T) {
	cur := semver.MustParse("1.2.3")
	tests := []struct {
		latest string
		want   bool
	}{
		{"1.2.4", true},
		{"v2.0.0", true},
		{"1.2.3", false},
		{"1.1.9", false},
		{"1.2.3-rc.1", false},
	}
	for _, tt := range tests {
		t.Run(tt.latest, func(t *testing.T) {
			got, err := isNewer(cur, tt.latest)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := isNewer(cur, "garbage")
	assert.Error(t, err)
}

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	root := NewRootCmd(&config.AppConfig{})
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "notifyd "+build.Version)
}

// newCLIConfig loads a config for the log transport and the sqlite ledger
// rooted in a temp dir, with a routing file naming the operator mailbox.
func newCLIConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	dir := t.TempDir()
	routing := filepath.Join(dir, "routing.yaml")
	require.NoError(t, os.WriteFile(routing, []byte("operator_mailbox: ops@example.com\ntime_zone: UTC\n"), 0600))

	t.Setenv("NOTIFYD_DATA_DIR", dir)
	t.Setenv("NOTIFYD_ROUTING_FILE", routing)
	t.Setenv("NOTIFYD_TRANSPORT", "log")
	t.Setenv("NOTIFYD_LEDGER", "sqlite")
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func runCLI(t *testing.T, cfg *config.AppConfig, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd(cfg)
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestNotifyCmd_DeliversOnceAcrossRuns(t *testing.T) {
	cfg := newCLIConfig(t)
	args := []string{
		"notify", "vehicle.rejected",
		"--subject", "veh-9",
		"--set", "conducteurEmail=a@b.com",
		"--set", "plate=123 TU 4567",
		"--set", "reason=Blurry photo",
	}

	out, err := runCLI(t, cfg, args...)
	require.NoError(t, err)
	assert.Contains(t, out, "vehicle.rejected delivered")
	assert.Contains(t, out, "Delivery ID")

	out, err = runCLI(t, cfg, args...)
	require.NoError(t, err)
	assert.Contains(t, out, "vehicle.rejected already delivered")

	_, err = os.Stat(cfg.SQLitePath())
	assert.NoError(t, err)
}

func TestNotifyCmd_ValidationError(t *testing.T) {
	cfg := newCLIConfig(t)

	out, err := runCLI(t, cfg,
		"notify", "vehicle.rejected",
		"--subject", "veh-9",
		"--set", "conducteurEmail=a@b.com",
		"--set", "plate=123 TU 4567",
	)
	var ve *service.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "reason", ve.Field)
	assert.Contains(t, out, "not delivered")
	assert.Contains(t, out, "reason")
}

func TestNotifyCmd_RequiresSubject(t *testing.T) {
	cfg := newCLIConfig(t)
	_, err := runCLI(t, cfg, "notify", "vehicle.rejected")
	assert.Error(t, err)
}

func TestNotifyCmd_BadOccurredAt(t *testing.T) {
	cfg := newCLIConfig(t)
	_, err := runCLI(t, cfg, "notify", "vehicle.rejected", "--subject", "s", "--occurred-at", "yesterday")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--occurred-at")
}

func TestBuildApp_InvalidConfig(t *testing.T) {
	cfg := newCLIConfig(t)
	cfg.Transport = "carrier-pigeon"
	_, err := buildApp(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestBuildApp_MemoryLedger(t *testing.T) {
	cfg := newCLIConfig(t)
	cfg.Ledger = config.LedgerMemory

	a, err := buildApp(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, a.engine)
	assert.NoError(t, a.Close(context.Background()))
	_, err = os.Stat(cfg.SQLitePath())
	assert.True(t, os.IsNotExist(err))
}
