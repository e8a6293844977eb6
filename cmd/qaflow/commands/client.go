package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/teranos/qaflow/errors"
	"github.com/teranos/qaflow/jobs"
	"github.com/teranos/qaflow/server"
)

// apiClient talks to a running qaflow server
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Submit posts a question and returns the accepted job handle
func (c *apiClient) Submit(ctx context.Context, question string, jobContext json.RawMessage) (*server.QueryResponse, error) {
	body, err := json.Marshal(server.QueryRequest{Question: question, Context: jobContext})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out server.QueryResponse
	if err := c.do(req, http.StatusAccepted, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status fetches the view of a job. Unknown jobs return ErrNotFound.
func (c *apiClient) Status(ctx context.Context, jobID string) (*jobs.View, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status/"+jobID, nil)
	if err != nil {
		return nil, err
	}
	var view jobs.View
	if err := c.do(req, http.StatusOK, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// Wait polls until the job is terminal or ctx ends
func (c *apiClient) Wait(ctx context.Context, jobID string, interval time.Duration, onPoll func(*jobs.View)) (*jobs.View, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		view, err := c.Status(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if onPoll != nil {
			onPoll(view)
		}
		if view.Status.IsTerminal() {
			return view, nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.Wrapf(ctx.Err(), "gave up waiting for job %s", jobID)
		case <-ticker.C:
		}
	}
}

func (c *apiClient) do(req *http.Request, want int, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "request to %s failed", c.baseURL)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response")
	}
	if resp.StatusCode != want {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &apiErr)
		msg := apiErr.Error
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		switch resp.StatusCode {
		case http.StatusNotFound:
			return errors.NewNotFoundError("%s", msg)
		case http.StatusBadRequest:
			return errors.NewInvalidRequestError("%s", msg)
		default:
			return errors.Newf("server returned %d: %s", resp.StatusCode, msg)
		}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, "failed to decode response")
	}
	return nil
}

// defaultServerURL points at the configured local server
func defaultServerURL(port int) string {
	return fmt.Sprintf("http://localhost:%d", port)
}
