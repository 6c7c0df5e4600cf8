package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streakline/internal/config"
	"streakline/internal/credentials"
	"streakline/internal/db"
	"streakline/internal/errs"
	"streakline/internal/migrate"
	"streakline/internal/repo"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), config.FileName)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func noEnv() *credentials.Store {
	return &credentials.Store{Sources: []credentials.Source{
		credentials.EnvSource{Var: "UNUSED", Lookup: func(string) (string, bool) { return "", false }},
	}}
}

func TestOpenWiresEngineFromConfig(t *testing.T) {
	ws := t.TempDir()
	path := writeConfig(t, `
github:
  token: ghp_test
  username: octo
preferences:
  repo: /src/notes
commit:
  message: "Daily notes"
schedule:
  push: false
`)
	store := credentials.NewStore(path, "ghp_test")
	store.Sources = store.Sources[2:]

	c, err := Open(context.Background(), Options{ConfigPath: path, Workspace: ws, RequireToken: true, Credentials: &store})
	require.NoError(t, err)
	defer c.Close()

	assert.FileExists(t, db.Path(ws))
	v, err := migrate.Version(context.Background(), c.DB)
	require.NoError(t, err)
	latest, err := migrate.Latest()
	require.NoError(t, err)
	assert.Equal(t, latest, v)

	require.NotNil(t, c.GitHub)
	assert.Equal(t, "ghp_test", c.GitHub.Token)
	assert.Equal(t, "octo", c.Engine.Reader.User)
	assert.Equal(t, "/src/notes", c.Engine.Defaults.RepoPath)
	assert.False(t, c.Engine.Defaults.Push)
	assert.Equal(t, "Daily notes", c.Engine.Defaults.Message)
	assert.NotNil(t, c.Engine.Repos)
}

func TestOpenRequiresToken(t *testing.T) {
	path := writeConfig(t, "pattern: {max_daily_commits: 4}\n")
	_, err := Open(context.Background(), Options{ConfigPath: path, Workspace: t.TempDir(), RequireToken: true, Credentials: noEnv()})
	require.ErrorIs(t, err, errs.ErrMissingCredential)

	c, err := Open(context.Background(), Options{ConfigPath: path, Workspace: t.TempDir(), Credentials: noEnv()})
	require.NoError(t, err)
	defer c.Close()
	assert.Nil(t, c.GitHub)
	assert.Nil(t, c.Engine.Reader.Provider)
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, "pattern: {weekend_dampening: 2}\n")
	_, err := Open(context.Background(), Options{ConfigPath: path, Workspace: t.TempDir(), Credentials: noEnv()})
	assert.ErrorIs(t, err, errs.ErrInvalidConfig)
}

func TestOpenRecoversAbandonedRuns(t *testing.T) {
	ws := t.TempDir()
	path := writeConfig(t, "")
	c, err := Open(context.Background(), Options{ConfigPath: path, Workspace: ws, Credentials: noEnv()})
	require.NoError(t, err)
	_, err = c.DB.Exec(`INSERT INTO runs(id,kind,repo_path,status,started_at) VALUES ('r1','bulk','/x','running','2023-09-30T10:00:00Z')`)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	c, err = Open(context.Background(), Options{ConfigPath: path, Workspace: ws, Credentials: noEnv()})
	require.NoError(t, err)
	defer c.Close()
	run, err := repo.Repo{DB: c.DB}.GetRun(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "aborted", run.Status)
}
