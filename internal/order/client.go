package order

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/phuslu/log"
)

type ClientConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client looks orders up on the order-detail endpoint. It does one request
// per call and never polls.
type Client struct {
	config ClientConfig
	http   *http.Client
	log    log.Logger
}

func NewClient(config *ClientConfig) *Client {
	c := &Client{}
	c.config = *config
	if c.config.Timeout <= 0 {
		c.config.Timeout = 10 * time.Second
	}
	c.http = &http.Client{Timeout: c.config.Timeout}
	c.log = log.DefaultLogger
	c.log.Context = log.NewContext(nil).Str("module", "order-client").Value()
	return c
}

func (c *Client) endpoint(orderID string) string {
	return strings.TrimRight(c.config.BaseURL, "/") + "/orders/" + url.PathEscape(orderID)
}

func (c *Client) do(req *http.Request, out *Order) error {
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	switch {
	case res.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case res.StatusCode >= 300:
		return fmt.Errorf("order: %s %s: %s", req.Method, req.URL.Path, res.Status)
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("order: decode: %w", err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("order: invalid response: %w", err)
	}
	return nil
}

func (c *Client) Get(ctx context.Context, orderID string) (*Order, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(orderID), nil)
	if err != nil {
		return nil, err
	}
	o := &Order{}
	if err := c.do(req, o); err != nil {
		c.log.Warn().Err(err).Str("order_id", orderID).Msg("order lookup failed")
		return nil, err
	}
	return o, nil
}

// Put applies u to the order and returns the stored result.
func (c *Client) Put(ctx context.Context, orderID string, u *Update) (*Order, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}
	b, err := json.Marshal(u)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.endpoint(orderID), bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	o := &Order{}
	if err := c.do(req, o); err != nil {
		return nil, err
	}
	return o, nil
}

// RiderFor returns the rider assigned to the order, empty if none yet.
func (c *Client) RiderFor(ctx context.Context, orderID string) (string, error) {
	o, err := c.Get(ctx, orderID)
	if err != nil {
		return "", err
	}
	return o.RiderID, nil
}
