package provider

import (
	"time"

	"github.com/tonimelisma/gdrive-go/internal/drive"
)

// ObjectType classifies a remote object.
type ObjectType int

const (
	TypeUnknown ObjectType = iota
	TypeFile
	TypeDirectory
)

func (t ObjectType) String() string {
	switch t {
	case TypeFile:
		return "file"
	case TypeDirectory:
		return "directory"
	default:
		return "unknown"
	}
}

// Exists is the three-valued existence flag of a change event. The zero
// value is ExistsUnknown, so a forgotten assignment never claims presence.
type Exists int

const (
	ExistsUnknown Exists = iota
	ExistsFalse
	ExistsTrue
)

func (e Exists) String() string {
	switch e {
	case ExistsFalse:
		return "false"
	case ExistsTrue:
		return "true"
	default:
		return "unknown"
	}
}

// ObjectInfo describes a remote object. Path is empty when it could not be
// resolved; ParentIDs[0] is the primary parent.
type ObjectInfo struct {
	Type      ObjectType
	ID        string
	Hash      string
	Path      string
	Name      string
	ParentIDs []string
	Size      int64
	ModTime   time.Time
	MimeType  string
	Shared    bool
	ReadOnly  bool
}

// Event is one change-feed notification. Path is never resolved here;
// consumers resolve it lazily with InfoID when they need it.
type Event struct {
	Type      ObjectType
	ID        string
	Path      string
	Hash      string
	Exists    Exists
	Time      time.Time
	NewCursor string // set on events from the last page of a poll
}

// Quota is the account's storage usage in bytes.
type Quota struct {
	Used  int64
	Limit int64
	Login string
}

func objectType(f *drive.File) ObjectType {
	if f.IsFolder() {
		return TypeDirectory
	}

	return TypeFile
}
