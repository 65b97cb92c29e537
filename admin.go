package lbclient

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/little-brother/lbclient/models"
)

// UserAdmin loads the administration overview of all users.
func (c *Client) UserAdmin(ctx context.Context) ([]*models.UserAdmin, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	return getList[models.UserAdmin](ctx, c, c.endpoint("/admin"))
}

// UserAdminDetails fetches the admin view of one user: status, rule sets
// and time extension choices per upcoming day.
func (c *Client) UserAdminDetails(ctx context.Context, userID int) (*models.UserAdmin, error) {
	if err := validUserID(userID); err != nil {
		return nil, err
	}
	if err := c.ready(); err != nil {
		return nil, err
	}
	return getObject[models.UserAdmin](ctx, c, c.endpoint("/admin-details", strconv.Itoa(userID)))
}

// TimeExtensions loads the user's admin record carrying the currently
// granted time extensions.
func (c *Client) TimeExtensions(ctx context.Context, userID int) (*models.UserAdmin, error) {
	if err := validUserID(userID); err != nil {
		return nil, err
	}
	if err := c.ready(); err != nil {
		return nil, err
	}
	return getObject[models.UserAdmin](ctx, c, c.endpoint("/admin-time-extensions", strconv.Itoa(userID)))
}

// ExtendTime changes today's time extension of a user by deltaMinutes,
// which may be negative.
func (c *Client) ExtendTime(ctx context.Context, userID, deltaMinutes int) error {
	if err := validUserID(userID); err != nil {
		return err
	}
	target := c.endpoint("/admin-time-extensions", strconv.Itoa(userID), strconv.Itoa(deltaMinutes))
	if _, err := c.send(ctx, http.MethodPost, target, nil); err != nil {
		return err
	}

	e := c.newEvent(EventUpdateUserStatusDetails)
	e.Metadata = map[string]string{"user_id": strconv.Itoa(userID), "delta_minutes": strconv.Itoa(deltaMinutes)}
	c.emit(ctx, e)
	return nil
}

// UpdateRuleOverride stores rules as the override for one day. referenceDate
// is an ISO 8601 date.
func (c *Client) UpdateRuleOverride(ctx context.Context, userID int, referenceDate string, rules *models.RuleSet) error {
	if err := validUserID(userID); err != nil {
		return err
	}
	if strings.TrimSpace(referenceDate) == "" {
		return fmt.Errorf("%w: reference date is empty", ErrInvalidArgument)
	}
	if rules == nil {
		return fmt.Errorf("%w: rule set is nil", ErrInvalidArgument)
	}

	target := c.endpoint("/admin-rule-overrides", strconv.Itoa(userID), referenceDate)
	if _, err := c.send(ctx, http.MethodPost, target, rules); err != nil {
		return err
	}

	e := c.newEvent(EventUpdateUserAdminDetails)
	e.Metadata = map[string]string{"user_id": strconv.Itoa(userID), "reference_date": referenceDate}
	c.emit(ctx, e)
	return nil
}

func validUserID(id int) error {
	if id <= 0 {
		return fmt.Errorf("%w: user id %d", ErrInvalidArgument, id)
	}
	return nil
}
