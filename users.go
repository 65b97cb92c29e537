package lbclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/little-brother/lbclient/models"
)

// Users loads all users, configured and unconfigured.
func (c *Client) Users(ctx context.Context) ([]*models.User, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	return getList[models.User](ctx, c, c.endpoint("/users"))
}

// User fetches one monitored user with its settings.
func (c *Client) User(ctx context.Context, userID int) (*models.User, error) {
	if err := validUserID(userID); err != nil {
		return nil, err
	}
	if err := c.ready(); err != nil {
		return nil, err
	}
	return getObject[models.User](ctx, c, c.endpoint("/user", strconv.Itoa(userID)))
}

// UpdateUser stores user under its id. A 2xx answer carrying an "error"
// field is reported as ErrRejected.
func (c *Client) UpdateUser(ctx context.Context, user *models.User) error {
	if user == nil {
		return fmt.Errorf("%w: user is nil", ErrInvalidArgument)
	}
	if err := validUserID(user.ID); err != nil {
		return err
	}

	data, err := c.send(ctx, http.MethodPut, c.endpoint("/user", strconv.Itoa(user.ID)), user)
	if err != nil {
		return err
	}
	if err := rejection(data); err != nil {
		return err
	}

	e := c.newEvent(EventUpdateUser)
	e.Metadata = map[string]string{"user_id": strconv.Itoa(user.ID)}
	c.emit(ctx, e)
	return nil
}

// AddUser puts username under monitoring and returns the new id.
func (c *Client) AddUser(ctx context.Context, username string) (*models.UserID, error) {
	if strings.TrimSpace(username) == "" {
		return nil, fmt.Errorf("%w: username is empty", ErrInvalidArgument)
	}

	data, err := c.send(ctx, http.MethodPost, c.endpoint("/user", username), username)
	if err != nil {
		return nil, err
	}
	if err := rejection(data); err != nil {
		return nil, err
	}

	var id models.UserID
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("%w: user id: %v", ErrUnexpectedPayload, err)
	}

	e := c.newEvent(EventUpdateUserList)
	e.Metadata = map[string]string{"username": username, "user_id": strconv.Itoa(id.ID)}
	c.emit(ctx, e)
	return &id, nil
}

// RemoveUser takes username off monitoring.
func (c *Client) RemoveUser(ctx context.Context, username string) error {
	if strings.TrimSpace(username) == "" {
		return fmt.Errorf("%w: username is empty", ErrInvalidArgument)
	}

	data, err := c.send(ctx, http.MethodDelete, c.endpoint("/user", username), nil)
	if err != nil {
		return err
	}
	if err := rejection(data); err != nil {
		return err
	}

	e := c.newEvent(EventUpdateUserList)
	e.Metadata = map[string]string{"username": username}
	c.emit(ctx, e)
	return nil
}

// rejection reports a 2xx body that carries an error document.
func rejection(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var body models.ErrorBody
	if err := json.Unmarshal(data, &body); err != nil {
		// Not an object; nothing to reject.
		return nil
	}
	if body.Error == "" {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrRejected, body.Error)
}
