package drive

import (
	"encoding/json"
	"time"
)

// FolderMimeType is the mime type Drive uses for folders.
const FolderMimeType = "application/vnd.google-apps.folder"

// File is a Drive file or folder record. Fields are normalized from the API
// response; callers never see raw JSON.
type File struct {
	ID             string
	Name           string
	MimeType       string
	MD5            string // hex; empty for folders and Google-native documents
	Parents        []string
	Trashed        bool
	Shared         bool
	CanEdit        bool
	Size           int64
	ModifiedAt     time.Time
	HeadRevisionID string
	AppProperties  map[string]string // private to this application
}

// IsFolder reports whether the record is a folder.
func (f *File) IsFolder() bool {
	return f.MimeType == FolderMimeType
}

// FileList is one page of a files.list response.
type FileList struct {
	Files         []File
	NextPageToken string
}

// ListQuery scopes a files.list call. ParentID and Name are combined with
// AND; SharedWithMe widens the parent clause to items shared directly with
// the account.
type ListQuery struct {
	ParentID     string
	Name         string
	SharedWithMe bool
	PageToken    string
	PageSize     int
}

// FileMetadata is the writable subset of a file record, sent on create and
// update. ClearAppProperties names app property keys to delete; Drive
// deletes a key when it is sent with a null value.
type FileMetadata struct {
	Name               string
	MimeType           string
	Parents            []string
	ModifiedTime       time.Time
	AppProperties      map[string]string
	Properties         map[string]string
	ClearAppProperties []string
}

// MarshalJSON renders the metadata, emitting null for cleared app
// properties and omitting zero fields.
func (m FileMetadata) MarshalJSON() ([]byte, error) {
	type wire struct {
		Name          string             `json:"name,omitempty"`
		MimeType      string             `json:"mimeType,omitempty"`
		Parents       []string           `json:"parents,omitempty"`
		ModifiedTime  string             `json:"modifiedTime,omitempty"`
		AppProperties map[string]*string `json:"appProperties,omitempty"`
		Properties    map[string]string  `json:"properties,omitempty"`
	}

	w := wire{
		Name:       m.Name,
		MimeType:   m.MimeType,
		Parents:    m.Parents,
		Properties: m.Properties,
	}

	if !m.ModifiedTime.IsZero() {
		w.ModifiedTime = m.ModifiedTime.UTC().Format(time.RFC3339Nano)
	}

	if len(m.AppProperties) > 0 || len(m.ClearAppProperties) > 0 {
		w.AppProperties = make(map[string]*string, len(m.AppProperties)+len(m.ClearAppProperties))

		for _, k := range m.ClearAppProperties {
			w.AppProperties[k] = nil
		}

		for k, v := range m.AppProperties {
			w.AppProperties[k] = &v
		}
	}

	return json.Marshal(w)
}

// UpdateOptions carries the parent edits of a files.update call.
type UpdateOptions struct {
	AddParents    []string
	RemoveParents []string
}

// Change is one record of the change feed.
type Change struct {
	FileID  string
	Removed bool
	Time    time.Time
	File    *File // nil when the payload was not included (e.g. removed)
}

// ChangeList is one page of the change feed. NewStartPageToken is set only
// on the last page.
type ChangeList struct {
	Changes           []Change
	NextPageToken     string
	NewStartPageToken string
}

// About describes the authenticated account and its storage quota.
type About struct {
	PermissionID  string
	Email         string
	DisplayName   string
	Usage         int64
	Limit         int64 // 0 when the account is unlimited
	MaxUploadSize int64
}
