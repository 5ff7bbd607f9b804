package callerclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go_relay/internal/relay"

	"github.com/hashicorp/go-retryablehttp"
)

// Additional poll attempts granted when a chunked transfer is reported in
// progress, so long transfers are not abandoned mid-stream.
const chunkPatienceAttempts = 30

// Client is the caller-side relay client: it authenticates, dispatches
// commands, and polls for results.
type Client struct {
	http    *retryablehttp.Client
	baseURL string
	token   string
}

// envelope is the broker's standard response wrapper
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// SessionData is the login/signup response payload
type SessionData struct {
	Token     string `json:"token"`
	ExpireAt  string `json:"expireAt"`
	AuthToken string `json:"auth_token"`
	User      struct {
		ID       int    `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
}

// DispatchData is the POST /command response payload
type DispatchData struct {
	CommandIDs []string `json:"command_ids"`
	Results    []struct {
		AgentID   string `json:"agent_id"`
		CommandID string `json:"command_id"`
		Status    string `json:"status"`
	} `json:"results"`
}

// New creates a relay client for the given broker URL
func New(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.Logger = nil

	return &Client{
		http:    rc,
		baseURL: baseURL,
	}
}

// SetToken installs a previously obtained session token
func (c *Client) SetToken(token string) {
	c.token = token
}

// Login authenticates and stores the returned session token
func (c *Client) Login(username, password string) (*SessionData, error) {
	var data SessionData
	if err := c.post("/api/v1/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, nil, &data); err != nil {
		return nil, err
	}
	c.token = data.Token
	return &data, nil
}

// Signup registers a new identity and stores the returned session token
func (c *Client) Signup(username, password string) (*SessionData, error) {
	var data SessionData
	if err := c.post("/api/v1/auth/signup", map[string]string{
		"username": username,
		"password": password,
	}, nil, &data); err != nil {
		return nil, err
	}
	c.token = data.Token
	return &data, nil
}

// Dispatch submits a command for all of the caller's agents. relayContext is
// opaque end-to-end data forwarded untouched.
func (c *Client) Dispatch(command, method, body, relayContext string) (*DispatchData, error) {
	headers := http.Header{}
	if relayContext != "" {
		headers.Set("X-Relay-Context", relayContext)
	}

	var data DispatchData
	if err := c.post("/api/v1/command", map[string]string{
		"command": command,
		"method":  method,
		"body":    body,
	}, headers, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// PollOnce fetches the current state of the given command ids
func (c *Client) PollOnce(commandIDs []string) (map[string]*relay.ResultView, error) {
	url := c.baseURL + "/api/v1/response?"
	for i, id := range commandIDs {
		if i > 0 {
			url += "&"
		}
		url += "command_id=" + id
	}

	req, err := retryablehttp.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload struct {
		Responses map[string]*relay.ResultView `json:"responses"`
	}
	if err := decodeEnvelope(resp, &payload); err != nil {
		return nil, err
	}
	return payload.Responses, nil
}

// Poll retrieves results for the given command ids, sleeping between
// attempts. When a chunked transfer is observed in progress the attempt
// budget is extended once; a still-pending command after the budget runs out
// is returned as-is.
func (c *Client) Poll(commandIDs []string, interval time.Duration, maxAttempts int) (map[string]*relay.ResultView, error) {
	extended := false
	var last map[string]*relay.ResultView

	for attempt := 0; attempt < maxAttempts; attempt++ {
		views, err := c.PollOnce(commandIDs)
		if err != nil {
			return nil, err
		}
		last = views

		pending := false
		chunking := false
		for _, v := range views {
			if v.Status == relay.StatusPending {
				pending = true
				if v.TotalChunks > 0 {
					chunking = true
				}
			}
		}
		if !pending {
			return views, nil
		}
		if chunking && !extended {
			maxAttempts += chunkPatienceAttempts
			extended = true
		}

		time.Sleep(interval)
	}
	return last, nil
}

func (c *Client) post(path string, body interface{}, headers http.Header, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequest("POST", c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for key, values := range headers {
		for _, v := range values {
			req.Header.Set(key, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decodeEnvelope(resp, out)
}

func decodeEnvelope(resp *http.Response, out interface{}) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("malformed broker response (status %d): %w", resp.StatusCode, err)
	}
	if env.Code != 0 {
		return fmt.Errorf("broker error (status %d, code %d): %s", resp.StatusCode, env.Code, env.Message)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}
