package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streakline/internal/calendar"
	"streakline/internal/domain"
	"streakline/internal/errs"
)

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type fakeGitHub struct {
	mu       sync.Mutex
	requests []graphqlRequest
	auth     []string
	days     map[string]int
}

func (f *fakeGitHub) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.auth = append(f.auth, r.Header.Get("Authorization"))
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"login": "octocat"})
	})
	mux.HandleFunc("/graphql", func(w http.ResponseWriter, r *http.Request) {
		var req graphqlRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.mu.Unlock()

		from, _ := time.Parse(time.RFC3339, req.Variables["from"].(string))
		to, _ := time.Parse(time.RFC3339, req.Variables["to"].(string))
		type day struct {
			Date              string `json:"date"`
			ContributionCount int    `json:"contributionCount"`
		}
		var days []day
		for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
			key := d.Format(calendar.Layout)
			days = append(days, day{Date: key, ContributionCount: f.days[key]})
		}
		resp := map[string]any{
			"data": map[string]any{
				"user": map[string]any{
					"contributionsCollection": map[string]any{
						"contributionCalendar": map[string]any{
							"weeks": []any{map[string]any{"contributionDays": days}},
						},
					},
				},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/user/repos", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "100", r.URL.Query().Get("per_page"))
		fmt.Fprint(w, `[
			{"name":"new","full_name":"octocat/new","language":"Go","html_url":"https://github.com/octocat/new","updated_at":"2024-05-01T00:00:00Z"},
			{"name":"old","full_name":"octocat/old","language":"go","html_url":"https://github.com/octocat/old","updated_at":"2021-05-01T00:00:00Z"},
			{"name":"docs","full_name":"octocat/docs","language":null,"html_url":"https://github.com/octocat/docs","updated_at":"2022-05-01T00:00:00Z"}
		]`)
	})
	return mux
}

func TestContributionDaysResolvesViewer(t *testing.T) {
	fake := &fakeGitHub{days: map[string]int{"2023-09-02": 5}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	c := New(srv.URL, "tok")
	window, err := calendar.NewRange(calendar.MustParse("2023-09-01"), calendar.MustParse("2023-09-03"))
	require.NoError(t, err)

	days, err := c.ContributionDays(context.Background(), "", window)
	require.NoError(t, err)
	assert.Equal(t, 5, days[calendar.MustParse("2023-09-02")])
	assert.Equal(t, 0, days[calendar.MustParse("2023-09-01")])
	assert.Len(t, days, 3)

	require.Len(t, fake.requests, 1)
	assert.Equal(t, "octocat", fake.requests[0].Variables["login"])
	assert.Equal(t, "2023-09-01T00:00:00Z", fake.requests[0].Variables["from"])
	assert.Equal(t, "2023-09-03T23:59:59Z", fake.requests[0].Variables["to"])
	assert.Equal(t, []string{"Bearer tok"}, fake.auth)
}

func TestContributionDaysSplitsLongWindows(t *testing.T) {
	fake := &fakeGitHub{days: map[string]int{"2022-06-01": 1, "2023-06-01": 2}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	c := New(srv.URL, "tok")
	window, err := calendar.NewRange(calendar.MustParse("2022-01-01"), calendar.MustParse("2023-12-31"))
	require.NoError(t, err)

	days, err := c.ContributionDays(context.Background(), "torvalds", window)
	require.NoError(t, err)
	assert.Len(t, fake.requests, 2)
	assert.Len(t, days, window.Len())
	assert.Equal(t, 1, days[calendar.MustParse("2022-06-01")])
	assert.Equal(t, 2, days[calendar.MustParse("2023-06-01")])
	assert.Empty(t, fake.auth, "explicit user must not hit /user")
}

func TestContributionDaysRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"message":"API rate limit exceeded"}`)
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	_, err := c.ContributionDays(context.Background(), "octocat", calendar.SingleDay(calendar.MustParse("2023-09-01")))
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrHistoryUnavailable)

	var hue *errs.HistoryUnavailableError
	require.ErrorAs(t, err, &hue)
	assert.True(t, hue.RateLimited)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
}

func TestContributionDaysAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message":"Bad credentials"}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "bad").ContributionDays(context.Background(), "", calendar.SingleDay(calendar.MustParse("2023-09-01")))
	assert.ErrorIs(t, err, errs.ErrHistoryUnavailable)
	var hue *errs.HistoryUnavailableError
	require.ErrorAs(t, err, &hue)
	assert.False(t, hue.RateLimited)
}

func TestContributionDaysGraphQLErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":null,"errors":[{"message":"Could not resolve to a User"}]}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "tok").ContributionDays(context.Background(), "ghost", calendar.SingleDay(calendar.MustParse("2023-09-01")))
	assert.ErrorIs(t, err, errs.ErrHistoryUnavailable)
	var gqlErr *GraphQLError
	require.ErrorAs(t, err, &gqlErr)
	assert.Equal(t, []string{"Could not resolve to a User"}, gqlErr.Messages)
}

func TestRepositoriesAndSuggestions(t *testing.T) {
	fake := &fakeGitHub{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	repos, err := New(srv.URL, "tok").Repositories(context.Background())
	require.NoError(t, err)
	require.Len(t, repos, 3)
	assert.Equal(t, "", repos[2].Language)

	suggested := SuggestRepositories(repos, "Go")
	names := make([]string, 0, len(suggested))
	for _, r := range suggested {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"old", "new"}, names)

	all := SuggestRepositories(repos, "")
	assert.Equal(t, []domain.Repository{repos[1], repos[2], repos[0]}, all)
}

func TestViewerIsCached(t *testing.T) {
	fake := &fakeGitHub{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	c := New(srv.URL, "tok")
	for i := 0; i < 3; i++ {
		login, err := c.Viewer(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "octocat", login)
	}
	assert.Len(t, fake.auth, 1)
}
