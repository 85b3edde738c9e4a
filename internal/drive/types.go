package drive

import (
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/text/unicode/norm"
)

// FolderMimeType identifies folders in the Drive API.
const FolderMimeType = "application/vnd.google-apps.folder"

// Media kinds derived from the file's mime type.
const (
	MediaKindImage = "image"
	MediaKindVideo = "video"
)

// exifTimeLayout is the timestamp format Drive uses in image metadata.
const exifTimeLayout = "2006:01:02 15:04:05"

// File is a normalized Drive file or folder. Names are NFC-normalized so
// path building and comparisons are stable regardless of how the remote
// encodes combining characters. Callers never see raw API data.
type File struct {
	ID         string
	Name       string
	MimeType   string
	Size       int64
	MD5        string
	Parents    []string
	Trashed    bool
	CreatedAt  time.Time
	ModifiedAt time.Time
	Media      *MediaInfo // nil for non-media files and folders
}

// MediaInfo carries the photo/video metadata facet of a Drive file.
type MediaInfo struct {
	Kind       string // MediaKindImage or MediaKindVideo
	Width      int
	Height     int
	DurationMS int64     // videos only
	TakenAt    time.Time // capture timestamp, zero if absent
}

// IsFolder reports whether the file is a Drive folder.
func (f *File) IsFolder() bool {
	return f.MimeType == FolderMimeType
}

// FirstParent returns the file's first parent folder id, or "" if none.
// Drive files can technically have multiple parents; the mirror derives the
// origin folder from the first one.
func (f *File) FirstParent() string {
	if len(f.Parents) == 0 {
		return ""
	}

	return f.Parents[0]
}

// Change is one entry from the Drive changes feed, in feed order.
// Removed means the provider explicitly reported deletion or access loss;
// File is nil in that case.
type Change struct {
	FileID  string
	Removed bool
	Time    time.Time
	File    *File
}

// ChangePage is the result of one logical ListChanges pull.
// NewCursor is the newStartPageToken from the final page and represents
// "everything up to this point has been seen".
type ChangePage struct {
	Changes   []Change
	NewCursor string
}

// fileResource mirrors the Drive v3 files resource JSON.
// Unexported — callers receive normalized File values.
type fileResource struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	MimeType       string         `json:"mimeType"`
	Size           int64          `json:"size,string"`
	MD5Checksum    string         `json:"md5Checksum"`
	Parents        []string       `json:"parents"`
	Trashed        bool           `json:"trashed"`
	CreatedTime    string         `json:"createdTime"`
	ModifiedTime   string         `json:"modifiedTime"`
	ImageMetadata  *imageMetadata `json:"imageMediaMetadata"`
	VideoMetadata  *videoMetadata `json:"videoMediaMetadata"`
}

type imageMetadata struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Time   string `json:"time"` // EXIF format, e.g. "2014:10:02 15:49:22"
}

type videoMetadata struct {
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	DurationMillis string `json:"durationMillis"`
}

// toFile normalizes a Drive API file resource into our File type.
func (r *fileResource) toFile(logger *slog.Logger) File {
	f := File{
		ID:       r.ID,
		Name:     norm.NFC.String(r.Name),
		MimeType: r.MimeType,
		Size:     r.Size,
		MD5:      r.MD5Checksum,
		Parents:  r.Parents,
		Trashed:  r.Trashed,
	}

	f.CreatedAt = parseRFC3339(r.CreatedTime, "createdTime", r.ID, logger)
	f.ModifiedAt = parseRFC3339(r.ModifiedTime, "modifiedTime", r.ID, logger)

	switch {
	case r.ImageMetadata != nil:
		f.Media = &MediaInfo{
			Kind:   MediaKindImage,
			Width:  r.ImageMetadata.Width,
			Height: r.ImageMetadata.Height,
		}

		if r.ImageMetadata.Time != "" {
			if t, err := time.Parse(exifTimeLayout, r.ImageMetadata.Time); err == nil {
				f.Media.TakenAt = t
			} else {
				logger.Debug("unparseable capture timestamp",
					slog.String("file_id", r.ID),
					slog.String("value", r.ImageMetadata.Time),
				)
			}
		}
	case r.VideoMetadata != nil:
		f.Media = &MediaInfo{
			Kind:   MediaKindVideo,
			Width:  r.VideoMetadata.Width,
			Height: r.VideoMetadata.Height,
		}

		if r.VideoMetadata.DurationMillis != "" {
			if ms, err := strconv.ParseInt(r.VideoMetadata.DurationMillis, 10, 64); err == nil {
				f.Media.DurationMS = ms
			}
		}
	}

	return f
}

// parseRFC3339 parses a Drive timestamp, logging and returning the zero time
// on failure rather than propagating an error for one bad field.
func parseRFC3339(value, field, fileID string, logger *slog.Logger) time.Time {
	if value == "" {
		return time.Time{}
	}

	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		logger.Warn("unparseable timestamp in file resource",
			slog.String("file_id", fileID),
			slog.String("field", field),
			slog.String("value", value),
		)

		return time.Time{}
	}

	return t
}
