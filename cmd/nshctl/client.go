package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/veesix-networks/osvnsh/internal/northbound"
	"github.com/veesix-networks/osvnsh/pkg/controlplane"
)

// APIError is a non-2xx response from the daemon.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d)", e.Message, e.Status)
}

// Client calls the daemon's REST API.
type Client struct {
	base string
	http *http.Client
}

func NewClient(addr string) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{
		base: strings.TrimRight(addr, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e northbound.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) ListDevices(ctx context.Context) ([]controlplane.DeviceInfo, error) {
	var out []controlplane.DeviceInfo
	err := c.do(ctx, http.MethodGet, "/api/devices", nil, &out)
	return out, err
}

func (c *Client) GetDevice(ctx context.Context, name string) (controlplane.DeviceInfo, error) {
	var out controlplane.DeviceInfo
	err := c.do(ctx, http.MethodGet, "/api/devices/"+url.PathEscape(name), nil, &out)
	return out, err
}

func (c *Client) CreateDevice(ctx context.Context, req controlplane.DeviceRequest) (controlplane.DeviceInfo, error) {
	var out controlplane.DeviceInfo
	err := c.do(ctx, http.MethodPost, "/api/devices", req, &out)
	return out, err
}

func (c *Client) DestroyDevice(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/api/devices/"+url.PathEscape(name), nil, nil)
}

func (c *Client) BindDevice(ctx context.Context, name, key string) (controlplane.DeviceInfo, error) {
	var out controlplane.DeviceInfo
	err := c.do(ctx, http.MethodPut, "/api/devices/"+url.PathEscape(name)+"/binding", northbound.BindingRequest{Key: key}, &out)
	return out, err
}

func (c *Client) UnbindDevice(ctx context.Context, name string) (controlplane.DeviceInfo, error) {
	var out controlplane.DeviceInfo
	err := c.do(ctx, http.MethodDelete, "/api/devices/"+url.PathEscape(name)+"/binding", nil, &out)
	return out, err
}

func (c *Client) ListPaths(ctx context.Context) ([]controlplane.PathInfo, error) {
	var out []controlplane.PathInfo
	err := c.do(ctx, http.MethodGet, "/api/paths", nil, &out)
	return out, err
}

func (c *Client) AddPath(ctx context.Context, req controlplane.PathRequest) (controlplane.PathInfo, error) {
	var out controlplane.PathInfo
	err := c.do(ctx, http.MethodPost, "/api/paths", req, &out)
	return out, err
}

func (c *Client) DeletePath(ctx context.Context, spi uint32, si uint8) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/paths/%d/%d", spi, si), nil, nil)
}

func (c *Client) Stats(ctx context.Context) (controlplane.Stats, error) {
	var out controlplane.Stats
	err := c.do(ctx, http.MethodGet, "/api/stats", nil, &out)
	return out, err
}

func (c *Client) Status(ctx context.Context) (northbound.Status, error) {
	var out northbound.Status
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &out)
	return out, err
}
