package drive

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"
)

type aboutResponse struct {
	User struct {
		EmailAddress string `json:"emailAddress"`
		DisplayName  string `json:"displayName"`
		PermissionID string `json:"permissionId"`
	} `json:"user"`
	StorageQuota struct {
		Limit string `json:"limit"`
		Usage string `json:"usage"`
	} `json:"storageQuota"`
	MaxUploadSize string `json:"maxUploadSize"`
}

// About fetches the account identity and storage quota.
func (c *Client) About(ctx context.Context) (*About, error) {
	q := url.Values{}
	q.Set("fields", "user(emailAddress,displayName,permissionId),storageQuota(limit,usage),maxUploadSize")

	var resp aboutResponse
	if err := c.getJSON(ctx, "/about", q, &resp); err != nil {
		return nil, err
	}

	return &About{
		PermissionID:  resp.User.PermissionID,
		Email:         resp.User.EmailAddress,
		DisplayName:   resp.User.DisplayName,
		Usage:         c.parseCount("usage", resp.StorageQuota.Usage),
		Limit:         c.parseCount("limit", resp.StorageQuota.Limit),
		MaxUploadSize: c.parseCount("maxUploadSize", resp.MaxUploadSize),
	}, nil
}

// parseCount decodes an int64 sent as a string. Absent means 0.
func (c *Client) parseCount(field, raw string) int64 {
	if raw == "" {
		return 0
	}

	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.logger.Warn("invalid numeric field",
			slog.String("field", field),
			slog.String("raw", raw),
		)

		return 0
	}

	return n
}
