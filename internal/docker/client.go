package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"
)

// Client is a minimal Docker Engine API client covering the calls dockside
// needs: ping, list running containers, inspect one container and stream
// lifecycle events. It speaks plain HTTP over the daemon's unix socket, or
// over TCP when DOCKER_HOST points at one.
type Client struct {
	http    *http.Client
	baseURL string
	log     zerolog.Logger
}

func NewClient(host string, logger zerolog.Logger) (*Client, error) {
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid docker host %q: %w", host, err)
	}

	var (
		transport = &http.Transport{}
		baseURL   string
	)
	switch u.Scheme {
	case "unix":
		socketPath := u.Path
		transport.DialContext = func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		}
		// The host part of request URLs is ignored once dialing is pinned to
		// the socket, but net/http still requires one.
		baseURL = "http://docker"
	case "tcp", "http":
		baseURL = "http://" + u.Host
	default:
		return nil, fmt.Errorf("unsupported docker host scheme %q", u.Scheme)
	}

	return &Client{
		// No client-level timeout: the event stream must stay open
		// indefinitely. Unary calls are bounded by their context.
		http:    &http.Client{Transport: transport},
		baseURL: baseURL,
		log:     logger.With().Str("component", "docker").Logger(),
	}, nil
}

// Ping verifies the daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.get(ctx, "/_ping", nil)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// ListContainers returns all currently running containers.
func (c *Client) ListContainers(ctx context.Context) ([]ContainerSummary, error) {
	resp, err := c.get(ctx, "/containers/json", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var list []ContainerSummary
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode container list: %w", err)
	}
	return list, nil
}

// InspectContainer fetches the detailed metadata for one container.
func (c *Client) InspectContainer(ctx context.Context, id string) (ContainerDetail, error) {
	resp, err := c.get(ctx, "/containers/"+id+"/json", nil)
	if err != nil {
		return ContainerDetail{}, err
	}
	defer resp.Body.Close()

	var detail ContainerDetail
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		return ContainerDetail{}, fmt.Errorf("failed to decode inspect of %s: %w", id, err)
	}
	return detail, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("docker daemon request %s failed: %w", path, err)
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		return nil, fmt.Errorf("docker daemon returned %s for %s: %s", resp.Status, path, apiError(resp.Body))
	}
	return resp, nil
}

// apiError pulls the message out of the daemon's {"message": ...} error body.
func apiError(r io.Reader) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(r, 4096)).Decode(&body); err != nil || body.Message == "" {
		return "no error detail"
	}
	return body.Message
}
