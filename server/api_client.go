package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var ErrUnexpectedStatus = errors.New("unexpected response status")

// apiClient performs the authorized calls shared by the player, stats and roster APIs
type apiClient struct {
	baseUrl string
	authKey string
	client  *http.Client
}

func newApiClient(baseUrl string, authKey string, timeout time.Duration) *apiClient {
	return &apiClient{
		baseUrl: strings.TrimSuffix(baseUrl, "/"),
		authKey: authKey,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *apiClient) get(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *apiClient) postJSON(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *apiClient) do(ctx context.Context, method string, path string, body []byte) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}

	url := c.baseUrl + path
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create request for %s", url)
	}
	if c.authKey != "" {
		req.Header.Set("authorization", c.authKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	logrus.
		WithField("method", method).
		WithField("url", url).
		Trace("Calling API")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s failed", method, url)
	}
	//goland:noinspection GoUnhandledErrorResult
	defer resp.Body.Close()

	content, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read response of %s %s", method, url)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Wrapf(ErrUnexpectedStatus, "%s %s responded with %d", method, url, resp.StatusCode)
	}
	return content, nil
}
