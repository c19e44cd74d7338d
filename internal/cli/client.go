package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"prevant/internal/domain"
)

// Client is a plain HTTP client against a running prevant server's REST
// surface. It holds no session state: every call resolves an endpoint and
// issues one request, the way the prevant API itself is stateless.
type Client struct {
	Endpoint   string
	HTTPClient *http.Client
}

// NewClient builds a Client against endpoint, using a sensible request
// timeout for anything that isn't an explicit long-poll wait.
func NewClient(endpoint string) *Client {
	return &Client{
		Endpoint:   strings.TrimSuffix(endpoint, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type appView struct {
	Name     domain.AppName   `json:"name"`
	Status   domain.AppStatus `json:"status"`
	Services []domain.Service `json:"services"`
	Owners   []domain.Owner   `json:"owners,omitempty"`
}

// ListApps fetches the current inventory snapshot from GET /apps/.
func (c *Client) ListApps(ctx context.Context) ([]domain.App, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint+"/apps/", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var views []appView
	if err := json.NewDecoder(resp.Body).Decode(&views); err != nil {
		return nil, fmt.Errorf("decode apps response: %w", err)
	}

	apps := make([]domain.App, 0, len(views))
	for _, v := range views {
		apps = append(apps, domain.App{Name: v.Name, Status: v.Status, Services: v.Services, Owners: v.Owners})
	}
	return apps, nil
}

// GetApp fetches the inventory and returns the single named entry.
func (c *Client) GetApp(ctx context.Context, name string) (domain.App, error) {
	apps, err := c.ListApps(ctx)
	if err != nil {
		return domain.App{}, err
	}
	for _, a := range apps {
		if string(a.Name) == name {
			return a, nil
		}
	}
	return domain.App{}, fmt.Errorf("app %q not found", name)
}

// DeployResult is the outcome of a create/update or delete call: either an
// immediate service list (synchronous) or a status-change id to poll
// (asynchronous, per the Prefer: respond-async contract).
type DeployResult struct {
	Services  []domain.Service
	StatusURL string
}

// CreateOrUpdate issues POST /apps/{name} with the given declarative
// service configs, honoring the server's async/sync negotiation.
func (c *Client) CreateOrUpdate(ctx context.Context, name string, configs []domain.ServiceConfig, async bool) (DeployResult, error) {
	body, err := json.Marshal(configs)
	if err != nil {
		return DeployResult{}, fmt.Errorf("marshal service configs: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint+"/apps/"+name, bytes.NewReader(body))
	if err != nil {
		return DeployResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if async {
		req.Header.Set("Prefer", "respond-async")
	}

	return c.doDeploy(req)
}

// DeleteApp issues DELETE /apps/{name}.
func (c *Client) DeleteApp(ctx context.Context, name string, async bool) (DeployResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.Endpoint+"/apps/"+name, nil)
	if err != nil {
		return DeployResult{}, err
	}
	if async {
		req.Header.Set("Prefer", "respond-async")
	}
	return c.doDeploy(req)
}

func (c *Client) doDeploy(req *http.Request) (DeployResult, error) {
	resp, err := c.do(req)
	if err != nil {
		return DeployResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted {
		return DeployResult{StatusURL: resp.Header.Get("Location")}, nil
	}

	var services []domain.Service
	if err := json.NewDecoder(resp.Body).Decode(&services); err != nil {
		return DeployResult{}, fmt.Errorf("decode services response: %w", err)
	}
	return DeployResult{Services: services}, nil
}

// TaskStatus mirrors the three states a polled status-change entry can be
// in: "pending", "ready", or "failed" (see internal/statuschange).
type TaskStatus struct {
	State    string
	Services []domain.Service
	Err      error
}

// PollStatus issues GET against a status-change URL (as returned in a
// Location header) once and reports its current state.
func (c *Client) PollStatus(ctx context.Context, statusURL string) (TaskStatus, error) {
	url := statusURL
	if !strings.HasPrefix(url, "http") {
		url = c.Endpoint + statusURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return TaskStatus{}, err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if connErr := ClassifyConnectionError(err, c.Endpoint); connErr != nil {
			return TaskStatus{}, connErr
		}
		return TaskStatus{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted:
		return TaskStatus{State: "pending"}, nil
	case http.StatusOK:
		var services []domain.Service
		if err := json.NewDecoder(resp.Body).Decode(&services); err != nil {
			return TaskStatus{}, fmt.Errorf("decode status-change result: %w", err)
		}
		return TaskStatus{State: "ready", Services: services}, nil
	default:
		msg, _ := io.ReadAll(resp.Body)
		return TaskStatus{State: "failed", Err: fmt.Errorf("status-change failed (status %d): %s", resp.StatusCode, msg)}, nil
	}
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if connErr := ClassifyConnectionError(err, c.Endpoint); connErr != nil {
			return nil, connErr
		}
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("prevant server returned %d: %s", resp.StatusCode, msg)
	}
	return resp, nil
}
