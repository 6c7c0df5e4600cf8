package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streakline/internal/errs"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10, cfg.Pattern.MaxDailyCommits)
	assert.Equal(t, 0.3, cfg.Pattern.WeekendDampening)
	assert.Equal(t, 30, cfg.Schedule.DaysBack)
	assert.Nil(t, cfg.Schedule.Hour)
	d, err := cfg.HistoryTimeout()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), FileName))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
github:
  token: ghp_x
pattern:
  weekend_dampening: 0.5
schedule:
  hour: 7
  minute: 45
`))
	require.NoError(t, err)
	assert.Equal(t, "ghp_x", cfg.GitHub.Token)
	assert.Equal(t, 0.5, cfg.Pattern.WeekendDampening)
	assert.Equal(t, 10, cfg.Pattern.MaxDailyCommits, "unset keys keep defaults")
	require.NotNil(t, cfg.Schedule.Hour)
	assert.Equal(t, 7, *cfg.Schedule.Hour)
	assert.Equal(t, 45, *cfg.Schedule.Minute)
}

func TestValidateRejectsOutOfDomainValues(t *testing.T) {
	cases := map[string]string{
		"max":       "pattern: {max_daily_commits: 0}",
		"dampening": "pattern: {weekend_dampening: 1.5}",
		"days back": "schedule: {days_back: -3}",
		"hour":      "schedule: {hour: 24}",
		"minute":    "schedule: {minute: -1}",
		"timeout":   "github: {timeout: soon}",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.ErrorIs(t, err, errs.ErrInvalidConfig)
		})
	}

	_, err := FromYAML([]byte("pattern: [not, a, map]"))
	assert.Error(t, err)
}

func TestSaveRoundTripAndPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", FileName)
	cfg := Default()
	cfg.GitHub.Token = "ghp_secret"
	cfg.Preferences.Repo = "/src/notes"
	require.NoError(t, Save(path, cfg))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.GitHub.Token = "ghp_secret"
	cfg.Serve.JWTSecret = "s3cret"
	red := cfg.Redacted()
	assert.NotContains(t, red.GitHub.Token, "secret")
	assert.NotContains(t, red.Serve.JWTSecret, "s3cret")
	assert.Equal(t, "ghp_secret", cfg.GitHub.Token, "original untouched")
}

func TestPathUsesHome(t *testing.T) {
	assert.Equal(t, filepath.Join("/home/me", FileName), Path("/home/me"))
}
