package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
)

// listPageSize is the pageSize for files.list requests. 1000 is the maximum
// allowed by the Drive API.
const listPageSize = 1000

// fileFields is the fields selector for file resources. Requesting only what
// the mirror persists keeps responses small on large folders.
const fileFields = "id,name,mimeType,size,md5Checksum,parents,trashed," +
	"createdTime,modifiedTime,imageMediaMetadata,videoMediaMetadata"

// listFilesResponse mirrors the Drive v3 files.list response JSON.
type listFilesResponse struct {
	Files         []fileResource `json:"files"`
	NextPageToken string         `json:"nextPageToken"`
}

// ListChildren returns all non-trashed children of a folder, handling
// pagination automatically: the returned slice covers every page of the one
// folder. Cross-folder traversal (BFS over the pending queue) belongs to
// the caller.
func (c *Client) ListChildren(ctx context.Context, folderID string) ([]File, error) {
	c.logger.Debug("listing children", slog.String("folder_id", folderID))

	var (
		all       []File
		pageToken string
		page      int
	)

	for {
		page++

		files, next, err := c.listChildrenPage(ctx, folderID, pageToken, page)
		if err != nil {
			return nil, err
		}

		all = append(all, files...)

		if next == "" {
			break
		}

		pageToken = next
	}

	c.logger.Debug("listed children complete",
		slog.String("folder_id", folderID),
		slog.Int("count", len(all)),
		slog.Int("pages", page),
	)

	return all, nil
}

// listChildrenPage fetches a single page of children and returns the files
// and the next page token (empty if no more pages).
func (c *Client) listChildrenPage(ctx context.Context, folderID, pageToken string, page int) ([]File, string, error) {
	q := url.Values{}
	q.Set("q", fmt.Sprintf("'%s' in parents and trashed=false", folderID))
	q.Set("pageSize", fmt.Sprint(listPageSize))
	q.Set("fields", "nextPageToken,files("+fileFields+")")

	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}

	resp, err := c.do(ctx, "/files?"+q.Encode())
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	var lr listFilesResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, "", fmt.Errorf("drive: decoding files.list response: %w", err)
	}

	files := make([]File, 0, len(lr.Files))
	for i := range lr.Files {
		files = append(files, lr.Files[i].toFile(c.logger))
	}

	c.logger.Debug("fetched children page",
		slog.Int("page", page),
		slog.Int("count", len(files)),
	)

	return files, lr.NextPageToken, nil
}

// GetFile fetches a single file's metadata by id.
func (c *Client) GetFile(ctx context.Context, fileID string) (*File, error) {
	q := url.Values{}
	q.Set("fields", fileFields)

	resp, err := c.do(ctx, "/files/"+url.PathEscape(fileID)+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var fr fileResource
	if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
		return nil, fmt.Errorf("drive: decoding file resource: %w", err)
	}

	f := fr.toFile(c.logger)

	return &f, nil
}
