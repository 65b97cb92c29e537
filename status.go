package lbclient

import (
	"context"
	"fmt"
	"strconv"

	"github.com/little-brother/lbclient/models"
)

// UserStatus loads the activity status of all monitored users.
func (c *Client) UserStatus(ctx context.Context) ([]*models.UserStatus, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	return getList[models.UserStatus](ctx, c, c.endpoint("/status"))
}

// UserStatusDetails loads one user's status including the per-day details.
func (c *Client) UserStatusDetails(ctx context.Context, userID int) (*models.UserStatus, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if userID <= 0 {
		return nil, fmt.Errorf("%w: user id %d", ErrInvalidArgument, userID)
	}
	return getObject[models.UserStatus](ctx, c, c.endpoint("/status-details", strconv.Itoa(userID)))
}
