package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// fileFields is the partial-response field list for a file record.
const fileFields = "id,name,mimeType,md5Checksum,parents,trashed,shared," +
	"capabilities/canEdit,size,modifiedTime,headRevisionId,appProperties"

// defaultPageSize is the pageSize for list calls. 1000 is the service maximum.
const defaultPageSize = 1000

// Timestamps outside this range are replaced with the current time.
const (
	minValidYear = 1970
	maxValidYear = 2100
)

// fileResponse mirrors the Drive file JSON. Unexported; callers get File
// via toFile.
type fileResponse struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	MimeType       string            `json:"mimeType"`
	MD5Checksum    string            `json:"md5Checksum"`
	Parents        []string          `json:"parents"`
	Trashed        bool              `json:"trashed"`
	Shared         bool              `json:"shared"`
	Size           string            `json:"size"`
	ModifiedTime   string            `json:"modifiedTime"`
	HeadRevisionID string            `json:"headRevisionId"`
	AppProperties  map[string]string `json:"appProperties"`
	Capabilities   *struct {
		CanEdit bool `json:"canEdit"`
	} `json:"capabilities"`
}

type fileListResponse struct {
	Files         []fileResponse `json:"files"`
	NextPageToken string         `json:"nextPageToken"`
}

// toFile normalizes a wire record.
func (r *fileResponse) toFile(logger *slog.Logger) File {
	f := File{
		ID:             r.ID,
		Name:           r.Name,
		MimeType:       r.MimeType,
		MD5:            r.MD5Checksum,
		Parents:        r.Parents,
		Trashed:        r.Trashed,
		Shared:         r.Shared,
		CanEdit:        true,
		HeadRevisionID: r.HeadRevisionID,
		AppProperties:  r.AppProperties,
	}

	if r.Capabilities != nil {
		f.CanEdit = r.Capabilities.CanEdit
	}

	// Size is an int64 encoded as a JSON string; absent for folders and
	// Google-native documents.
	if r.Size != "" {
		n, err := strconv.ParseInt(r.Size, 10, 64)
		if err != nil {
			logger.Warn("invalid file size",
				slog.String("file_id", r.ID),
				slog.String("raw", r.Size),
			)
		} else {
			f.Size = n
		}
	}

	if r.ModifiedTime != "" {
		f.ModifiedAt = parseTimestamp(r.ModifiedTime, r.ID, logger)
	}

	return f
}

// parseTimestamp parses an RFC3339 timestamp. Invalid or out-of-range
// values fall back to the current time and are logged.
func parseTimestamp(raw, fileID string, logger *slog.Logger) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		logger.Warn("invalid timestamp, using current time",
			slog.String("file_id", fileID),
			slog.String("raw", raw),
			slog.String("error", err.Error()),
		)

		return time.Now().UTC()
	}

	if t.Year() < minValidYear || t.Year() > maxValidYear {
		logger.Warn("timestamp out of valid range, using current time",
			slog.String("file_id", fileID),
			slog.String("raw", raw),
		)

		return time.Now().UTC()
	}

	return t
}

func filePath(id string) string {
	return "/files/" + url.PathEscape(id)
}

// baseQuery returns the query parameters every files.* call carries.
func baseQuery() url.Values {
	q := url.Values{}
	q.Set("fields", fileFields)
	q.Set("supportsAllDrives", "true")

	return q
}

// GetFile fetches one file record by id.
func (c *Client) GetFile(ctx context.Context, id string) (*File, error) {
	var resp fileResponse
	if err := c.getJSON(ctx, filePath(id), baseQuery(), &resp); err != nil {
		return nil, err
	}

	f := resp.toFile(c.logger)

	return &f, nil
}

// ListFiles fetches one page of files matching q.
func (c *Client) ListFiles(ctx context.Context, q ListQuery) (*FileList, error) {
	params := url.Values{}
	params.Set("fields", "nextPageToken,files("+fileFields+")")
	params.Set("supportsAllDrives", "true")
	params.Set("includeItemsFromAllDrives", "true")
	params.Set("spaces", "drive")

	if expr := buildQuery(q); expr != "" {
		params.Set("q", expr)
	}

	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	params.Set("pageSize", strconv.Itoa(pageSize))

	if q.PageToken != "" {
		params.Set("pageToken", q.PageToken)
	}

	var resp fileListResponse
	if err := c.getJSON(ctx, "/files", params, &resp); err != nil {
		return nil, err
	}

	out := &FileList{
		Files:         make([]File, 0, len(resp.Files)),
		NextPageToken: resp.NextPageToken,
	}

	for i := range resp.Files {
		out.Files = append(out.Files, resp.Files[i].toFile(c.logger))
	}

	c.logger.Debug("listed files",
		slog.String("parent_id", q.ParentID),
		slog.Int("count", len(out.Files)),
		slog.Bool("has_next_page", out.NextPageToken != ""),
	)

	return out, nil
}

// CreateFile creates a file or folder. When content is non-nil the file is
// created with a multipart upload; otherwise only metadata is sent.
func (c *Client) CreateFile(ctx context.Context, meta FileMetadata, content io.Reader) (*File, error) {
	var resp fileResponse

	if content == nil {
		if err := c.sendJSON(ctx, http.MethodPost, "/files", baseQuery(), meta, &resp); err != nil {
			return nil, err
		}
	} else {
		req, err := c.multipartRequest(http.MethodPost, c.uploadURL+"/files", baseQuery(), meta, content)
		if err != nil {
			return nil, err
		}

		if err := c.doJSON(ctx, req, &resp); err != nil {
			return nil, err
		}
	}

	f := resp.toFile(c.logger)

	c.logger.Info("created file",
		slog.String("file_id", f.ID),
		slog.String("name", f.Name),
		slog.Bool("is_folder", f.IsFolder()),
	)

	return &f, nil
}

// UpdateFile patches a file's metadata and parents, and replaces its
// content when content is non-nil.
func (c *Client) UpdateFile(ctx context.Context, id string, meta FileMetadata, opts UpdateOptions, content io.Reader) (*File, error) {
	params := baseQuery()

	if len(opts.AddParents) > 0 {
		params.Set("addParents", strings.Join(opts.AddParents, ","))
	}

	if len(opts.RemoveParents) > 0 {
		params.Set("removeParents", strings.Join(opts.RemoveParents, ","))
	}

	var resp fileResponse

	if content == nil {
		if err := c.sendJSON(ctx, http.MethodPatch, filePath(id), params, meta, &resp); err != nil {
			return nil, err
		}
	} else {
		req, err := c.multipartRequest(http.MethodPatch, c.uploadURL+filePath(id), params, meta, content)
		if err != nil {
			return nil, err
		}

		if err := c.doJSON(ctx, req, &resp); err != nil {
			return nil, err
		}
	}

	f := resp.toFile(c.logger)

	return &f, nil
}

// DeleteFile permanently deletes a file, bypassing the trash.
func (c *Client) DeleteFile(ctx context.Context, id string) error {
	q := url.Values{}
	q.Set("supportsAllDrives", "true")

	if err := c.doJSON(ctx, request{method: http.MethodDelete, url: c.baseURL + filePath(id), query: q}, nil); err != nil {
		return err
	}

	c.logger.Info("deleted file", slog.String("file_id", id))

	return nil
}

// DownloadRange writes up to length bytes of a file's content starting at
// offset. A 416 answer yields ErrRangeDone with nothing written. When the
// service ignores the range and sends the whole body, the bytes before
// offset are discarded, the rest is written, and ErrRangeDone is returned
// alongside the count because the stream is complete.
func (c *Client) DownloadRange(ctx context.Context, id string, offset, length int64, w io.Writer) (int64, error) {
	q := url.Values{}
	q.Set("alt", "media")
	q.Set("supportsAllDrives", "true")

	header := http.Header{}
	header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))

	resp, err := c.do(ctx, request{
		method: http.MethodGet,
		url:    c.baseURL + filePath(id),
		query:  q,
		header: header,
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPartialContent {
		n, copyErr := io.Copy(w, resp.Body)
		if copyErr != nil {
			return n, classifyTransportError(fmt.Errorf("drive: streaming download content: %w", copyErr))
		}

		return n, nil
	}

	c.logger.Debug("range ignored by server, streaming whole body",
		slog.String("file_id", id),
		slog.Int64("offset", offset),
	)

	if offset > 0 {
		if _, err := io.CopyN(io.Discard, resp.Body, offset); err != nil {
			if errors.Is(err, io.EOF) {
				return 0, ErrRangeDone
			}

			return 0, classifyTransportError(fmt.Errorf("drive: skipping download prefix: %w", err))
		}
	}

	n, copyErr := io.Copy(w, resp.Body)
	if copyErr != nil {
		return n, classifyTransportError(fmt.Errorf("drive: streaming download content: %w", copyErr))
	}

	return n, ErrRangeDone
}

// multipartRequest builds a multipart/related upload: a JSON metadata part
// followed by the media part. The body is buffered so it can be replayed
// on retry.
func (c *Client) multipartRequest(method, target string, query url.Values, meta FileMetadata, content io.Reader) (request, error) {
	query.Set("uploadType", "multipart")

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return request{}, fmt.Errorf("drive: encoding upload metadata: %w", err)
	}

	var buf bytes.Buffer

	mw := multipart.NewWriter(&buf)

	part, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"application/json; charset=UTF-8"}})
	if err != nil {
		return request{}, fmt.Errorf("drive: building upload body: %w", err)
	}

	if _, err := part.Write(metaJSON); err != nil {
		return request{}, fmt.Errorf("drive: building upload body: %w", err)
	}

	mediaType := meta.MimeType
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}

	part, err = mw.CreatePart(textproto.MIMEHeader{"Content-Type": {mediaType}})
	if err != nil {
		return request{}, fmt.Errorf("drive: building upload body: %w", err)
	}

	if _, err := io.Copy(part, content); err != nil {
		return request{}, fmt.Errorf("drive: reading upload content: %w", err)
	}

	if err := mw.Close(); err != nil {
		return request{}, fmt.Errorf("drive: building upload body: %w", err)
	}

	return request{
		method:      method,
		url:         target,
		query:       query,
		body:        buf.Bytes(),
		contentType: "multipart/related; boundary=" + mw.Boundary(),
	}, nil
}
