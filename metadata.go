package lbclient

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"

	"github.com/little-brother/lbclient/models"
)

// Control loads the client settings the server publishes.
func (c *Client) Control(ctx context.Context) (*models.Control, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	return getObject[models.Control](ctx, c, c.endpoint("/control"))
}

// About loads the server's version and author information. The first
// successful answer is cached for the life of the client.
func (c *Client) About(ctx context.Context) (map[string]any, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	c.aboutMu.Lock()
	defer c.aboutMu.Unlock()

	if c.about != nil {
		return maps.Clone(c.about), nil
	}

	data, err := c.send(ctx, http.MethodGet, c.endpoint("/about"), nil)
	if err != nil {
		return nil, err
	}

	var about map[string]any
	if err := json.Unmarshal(data, &about); err != nil {
		return nil, fmt.Errorf("%w: about: %v", ErrUnexpectedPayload, err)
	}
	if about == nil {
		about = map[string]any{}
	}
	c.about = about
	return maps.Clone(about), nil
}
