// Package github is a minimal GitHub API client: the authenticated user, the
// user's repositories and contribution calendars.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"streakline/internal/calendar"
	"streakline/internal/domain"
	"streakline/internal/errs"
)

// DefaultBaseURL is the public GitHub API endpoint.
const DefaultBaseURL = "https://api.github.com"

// maxCalendarDays is the widest span contributionsCollection accepts.
const maxCalendarDays = 365

// Client talks to the GitHub REST and GraphQL APIs.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Timeout    time.Duration

	login string
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		Timeout: 10 * time.Second,
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
	// RateLimited is set for 429s and for 403s with an exhausted quota.
	RateLimited bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github api error: status=%d body=%s", e.StatusCode, strings.TrimSpace(e.Body))
}

// GraphQLError is a GraphQL-level failure returned with HTTP 200.
type GraphQLError struct {
	Messages []string
}

func (e *GraphQLError) Error() string {
	return "github graphql error: " + strings.Join(e.Messages, "; ")
}

type viewer struct {
	Login string `json:"login"`
}

// Viewer returns the login of the token's owner.
func (c *Client) Viewer(ctx context.Context) (string, error) {
	if c.login != "" {
		return c.login, nil
	}
	var v viewer
	if err := c.do(ctx, http.MethodGet, "user", nil, &v); err != nil {
		return "", err
	}
	if v.Login == "" {
		return "", errors.New("github api returned an empty login")
	}
	c.login = v.Login
	return v.Login, nil
}

type repoPayload struct {
	Name      string    `json:"name"`
	FullName  string    `json:"full_name"`
	Language  *string   `json:"language"`
	Private   bool      `json:"private"`
	HTMLURL   string    `json:"html_url"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Repositories lists up to 100 repositories of the authenticated user.
func (c *Client) Repositories(ctx context.Context) ([]domain.Repository, error) {
	var payload []repoPayload
	if err := c.do(ctx, http.MethodGet, "user/repos?per_page=100", nil, &payload); err != nil {
		return nil, err
	}
	repos := make([]domain.Repository, 0, len(payload))
	for _, p := range payload {
		r := domain.Repository{
			Name:      p.Name,
			FullName:  p.FullName,
			Private:   p.Private,
			HTMLURL:   p.HTMLURL,
			UpdatedAt: p.UpdatedAt,
		}
		if p.Language != nil {
			r.Language = *p.Language
		}
		repos = append(repos, r)
	}
	return repos, nil
}

// SuggestRepositories filters repos by language (case-insensitive, empty keeps
// all) and sorts the least recently updated first.
func SuggestRepositories(repos []domain.Repository, language string) []domain.Repository {
	out := make([]domain.Repository, 0, len(repos))
	for _, r := range repos {
		if language != "" && !strings.EqualFold(r.Language, language) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out
}

const contributionQuery = `query($login: String!, $from: DateTime!, $to: DateTime!) {
  user(login: $login) {
    contributionsCollection(from: $from, to: $to) {
      contributionCalendar {
        weeks {
          contributionDays {
            date
            contributionCount
          }
        }
      }
    }
  }
}`

type calendarResponse struct {
	User *struct {
		ContributionsCollection struct {
			ContributionCalendar struct {
				Weeks []struct {
					ContributionDays []struct {
						Date              string `json:"date"`
						ContributionCount int    `json:"contributionCount"`
					} `json:"contributionDays"`
				} `json:"weeks"`
			} `json:"contributionCalendar"`
		} `json:"contributionsCollection"`
	} `json:"user"`
}

// ContributionDays returns per-day contribution counts of user over window.
// An empty user means the authenticated user. Windows longer than a year are
// fetched in chunks. Failures are *errs.HistoryUnavailableError.
func (c *Client) ContributionDays(ctx context.Context, user string, window calendar.DateRange) (map[calendar.Date]int, error) {
	login := user
	if login == "" {
		v, err := c.Viewer(ctx)
		if err != nil {
			return nil, unavailable(user, err)
		}
		login = v
	}
	out := make(map[calendar.Date]int, window.Len())
	for _, chunk := range window.Split(maxCalendarDays) {
		vars := map[string]any{
			"login": login,
			"from":  chunk.Start().At(0, 0, 0, time.UTC).Format(time.RFC3339),
			"to":    chunk.End().At(23, 59, 59, time.UTC).Format(time.RFC3339),
		}
		var resp calendarResponse
		if err := c.graphql(ctx, contributionQuery, vars, &resp); err != nil {
			return nil, unavailable(login, err)
		}
		if resp.User == nil {
			return nil, unavailable(login, fmt.Errorf("user %s not found", login))
		}
		for _, week := range resp.User.ContributionsCollection.ContributionCalendar.Weeks {
			for _, day := range week.ContributionDays {
				d, err := calendar.Parse(day.Date)
				if err != nil {
					return nil, unavailable(login, err)
				}
				if chunk.Contains(d) {
					out[d] = day.ContributionCount
				}
			}
		}
	}
	return out, nil
}

func unavailable(user string, err error) error {
	var apiErr *APIError
	return &errs.HistoryUnavailableError{
		User:        user,
		RateLimited: errors.As(err, &apiErr) && apiErr.RateLimited,
		Err:         err,
	}
}

func (c *Client) graphql(ctx context.Context, query string, vars map[string]any, out any) error {
	body := map[string]any{"query": query, "variables": vars}
	var resp struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := c.do(ctx, http.MethodPost, "graphql", body, &resp); err != nil {
		return err
	}
	if len(resp.Errors) > 0 {
		gqlErr := &GraphQLError{}
		for _, e := range resp.Errors {
			gqlErr.Messages = append(gqlErr.Messages, e.Message)
		}
		return gqlErr
	}
	if len(resp.Data) == 0 {
		return errors.New("github graphql response has no data")
	}
	return json.Unmarshal(resp.Data, out)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return &APIError{
			StatusCode:  resp.StatusCode,
			Body:        string(b),
			RateLimited: isRateLimited(resp),
		}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func isRateLimited(resp *http.Response) bool {
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return true
	case http.StatusForbidden:
		return resp.Header.Get("X-RateLimit-Remaining") == "0"
	}
	return false
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
