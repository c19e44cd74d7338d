package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"prevant/internal/config"
	"prevant/internal/domain"
)

// Ticket is one entry of the GET /apps/tickets/ response.
type Ticket struct {
	Link    string `json:"link"`
	Summary string `json:"summary"`
	Status  string `json:"status"`
}

// jiraClient is a minimal Jira Cloud REST v2 search client. This talks the
// documented REST contract directly over net/http rather than introducing
// a third-party dependency for a handful of fields.
type jiraClient struct {
	httpClient *http.Client
	baseURL    string
	username   string
	password   string
}

func newJiraClient(cfg config.JiraConfig) *jiraClient {
	return &jiraClient{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		username:   cfg.Username,
		password:   cfg.Password,
	}
}

type jiraSearchResponse struct {
	Issues []struct {
		Key    string `json:"key"`
		Fields struct {
			Summary string   `json:"summary"`
			Labels  []string `json:"labels"`
			Status  struct {
				Name string `json:"name"`
			} `json:"status"`
		} `json:"fields"`
	} `json:"issues"`
}

// fetchTickets queries Jira for one open issue per app, correlated by a
// label matching the app name (the convention this deployment's Jira
// project is configured to use), and returns the subset it found.
func (c *jiraClient) fetchTickets(ctx context.Context, apps []domain.AppName) (map[domain.AppName]Ticket, error) {
	if len(apps) == 0 {
		return map[domain.AppName]Ticket{}, nil
	}

	labels := make([]string, len(apps))
	for i, a := range apps {
		labels[i] = fmt.Sprintf("%q", string(a))
	}
	jql := fmt.Sprintf("labels in (%s)", strings.Join(labels, ","))

	u := c.baseURL + "/rest/api/2/search?" + url.Values{
		"jql":    {jql},
		"fields": {"summary,status,labels"},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build jira search request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jira search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jira search: unexpected status %d", resp.StatusCode)
	}

	var parsed jiraSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode jira search response: %w", err)
	}

	out := make(map[domain.AppName]Ticket, len(parsed.Issues))
	for _, issue := range parsed.Issues {
		for _, label := range issue.Fields.Labels {
			app := domain.AppName(label)
			if !containsApp(apps, app) {
				continue
			}
			out[app] = Ticket{
				Link:    c.baseURL + "/browse/" + issue.Key,
				Summary: issue.Fields.Summary,
				Status:  issue.Fields.Status.Name,
			}
		}
	}
	return out, nil
}

func containsApp(apps []domain.AppName, target domain.AppName) bool {
	for _, a := range apps {
		if a == target {
			return true
		}
	}
	return false
}

// handleTickets serves GET /apps/tickets/: a map of
// appName -> {link, summary, status}, or 204 if no tracker is configured.
func (s *Server) handleTickets(w http.ResponseWriter, r *http.Request) {
	if s.jira == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	tickets, err := s.jira.fetchTickets(r.Context(), s.apps.FetchAppNames())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tickets)
}
