package drive

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"
	"time"
)

type startPageTokenResponse struct {
	StartPageToken string `json:"startPageToken"`
}

type changeResponse struct {
	FileID  string        `json:"fileId"`
	Removed bool          `json:"removed"`
	Time    string        `json:"time"`
	File    *fileResponse `json:"file"`
}

type changeListResponse struct {
	Changes           []changeResponse `json:"changes"`
	NextPageToken     string           `json:"nextPageToken"`
	NewStartPageToken string           `json:"newStartPageToken"`
}

// StartPageToken returns the change-feed token for "now": changes made
// after this call are reported when listing from it.
func (c *Client) StartPageToken(ctx context.Context) (string, error) {
	q := url.Values{}
	q.Set("supportsAllDrives", "true")

	var resp startPageTokenResponse
	if err := c.getJSON(ctx, "/changes/startPageToken", q, &resp); err != nil {
		return "", err
	}

	c.logger.Debug("fetched start page token", slog.String("token", resp.StartPageToken))

	return resp.StartPageToken, nil
}

// ListChanges fetches one page of the change feed starting at token.
// Removed records are included. NextPageToken is set while more pages
// remain; NewStartPageToken is set on the last page.
func (c *Client) ListChanges(ctx context.Context, token string, pageSize int) (*ChangeList, error) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	q := url.Values{}
	q.Set("pageToken", token)
	q.Set("pageSize", strconv.Itoa(pageSize))
	q.Set("spaces", "drive")
	q.Set("includeRemoved", "true")
	q.Set("supportsAllDrives", "true")
	q.Set("includeItemsFromAllDrives", "true")
	q.Set("fields", "nextPageToken,newStartPageToken,changes(fileId,removed,time,file("+fileFields+"))")

	var resp changeListResponse
	if err := c.getJSON(ctx, "/changes", q, &resp); err != nil {
		return nil, err
	}

	out := &ChangeList{
		Changes:           make([]Change, 0, len(resp.Changes)),
		NextPageToken:     resp.NextPageToken,
		NewStartPageToken: resp.NewStartPageToken,
	}

	for i := range resp.Changes {
		raw := &resp.Changes[i]
		ch := Change{FileID: raw.FileID, Removed: raw.Removed}

		if raw.Time != "" {
			if t, err := time.Parse(time.RFC3339Nano, raw.Time); err == nil {
				ch.Time = t
			}
		}

		if raw.File != nil {
			f := raw.File.toFile(c.logger)
			ch.File = &f
		}

		out.Changes = append(out.Changes, ch)
	}

	c.logger.Debug("fetched change page",
		slog.Int("count", len(out.Changes)),
		slog.Bool("has_next_page", out.NextPageToken != ""),
		slog.Bool("has_new_start", out.NewStartPageToken != ""),
	)

	return out, nil
}
