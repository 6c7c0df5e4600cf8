// Package credentials resolves the personal access token used for hosting
// calls.
package credentials

import (
	"os"
	"strings"

	"streakline/internal/errs"
)

// Env vars consulted, in order.
const (
	EnvToken       = "STREAKLINE_TOKEN"
	EnvGitHubToken = "GITHUB_TOKEN"
)

// Source yields a token or "".
type Source interface {
	Name() string
	Token() string
}

// EnvSource reads a token from an environment variable.
type EnvSource struct {
	Var    string
	Lookup func(string) (string, bool)
}

func (s EnvSource) Name() string { return "$" + s.Var }

func (s EnvSource) Token() string {
	lookup := s.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, _ := lookup(s.Var)
	return strings.TrimSpace(v)
}

// Static is a token from configuration.
type Static struct {
	Label string
	Value string
}

func (s Static) Name() string  { return s.Label }
func (s Static) Token() string { return strings.TrimSpace(s.Value) }

// Store is an ordered chain of sources; the first non-empty token wins.
type Store struct {
	Sources []Source
}

// NewStore returns the default chain: STREAKLINE_TOKEN, GITHUB_TOKEN, then the
// config file's github.token.
func NewStore(configPath, configToken string) Store {
	return Store{Sources: []Source{
		EnvSource{Var: EnvToken},
		EnvSource{Var: EnvGitHubToken},
		Static{Label: configPath, Value: configToken},
	}}
}

// Token returns the first configured token, or a *errs.MissingCredentialError
// naming every place that was checked.
func (s Store) Token() (string, error) {
	names := make([]string, 0, len(s.Sources))
	for _, src := range s.Sources {
		if tok := src.Token(); tok != "" {
			return tok, nil
		}
		names = append(names, src.Name())
	}
	return "", &errs.MissingCredentialError{Sources: names}
}
