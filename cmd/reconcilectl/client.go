package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	httpd "payment_reconciliation/internal/delivery/http"
)

type client struct {
	base  string
	token string
	http  *http.Client
}

func newClient(base, token string) *client {
	return &client{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("X-Operator-Token", c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (%d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: %s (%d)", method, path, strings.TrimSpace(string(data)), resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *client) ingest(ctx context.Context, text string) (httpd.SummaryResp, error) {
	var out httpd.SummaryResp
	err := c.do(ctx, http.MethodPost, "/api/v1/operator/ingest", httpd.IngestReq{Text: text}, &out)
	return out, err
}

func (c *client) listOpen(ctx context.Context) ([]httpd.TxItem, error) {
	var out []httpd.TxItem
	err := c.do(ctx, http.MethodGet, "/api/v1/operator/transactions/open", nil, &out)
	return out, err
}

// resolve posts to the confirm or reject endpoint of id.
func (c *client) resolve(ctx context.Context, id, action, reason string) (httpd.ResolutionResp, error) {
	var body any
	if action == "reject" {
		body = httpd.RejectReq{Reason: reason}
	}
	var out httpd.ResolutionResp
	err := c.do(ctx, http.MethodPost, "/api/v1/operator/transactions/"+id+"/"+action, body, &out)
	return out, err
}
