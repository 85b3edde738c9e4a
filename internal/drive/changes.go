package drive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// changeFields is the fields selector for changes.list requests.
const changeFields = "nextPageToken,newStartPageToken," +
	"changes(fileId,removed,time,file(" + fileFields + "))"

// startPageTokenResponse mirrors changes.getStartPageToken JSON.
type startPageTokenResponse struct {
	StartPageToken string `json:"startPageToken"`
}

// changesResponse mirrors one page of the changes.list JSON.
type changesResponse struct {
	Changes           []changeResource `json:"changes"`
	NextPageToken     string           `json:"nextPageToken"`
	NewStartPageToken string           `json:"newStartPageToken"`
}

type changeResource struct {
	FileID  string        `json:"fileId"`
	Removed bool          `json:"removed"`
	Time    string        `json:"time"`
	File    *fileResource `json:"file"`
}

// GetStartPageToken fetches a fresh change cursor. The returned cursor is
// defined as "the first point after which changes must be applied" — the
// handoff from a completed full walk to incremental pulls.
func (c *Client) GetStartPageToken(ctx context.Context) (string, error) {
	resp, err := c.do(ctx, "/changes/startPageToken")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var sr startPageTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", fmt.Errorf("drive: decoding startPageToken response: %w", err)
	}

	if sr.StartPageToken == "" {
		return "", fmt.Errorf("drive: empty startPageToken in response")
	}

	c.logger.Debug("fetched start page token")

	return sr.StartPageToken, nil
}

// ListChanges fetches all pages of changes since the given cursor and
// returns them in feed order together with the new cursor. The new cursor
// only appears on the final page, so a partially consumed pull never yields
// one — callers persist the cursor strictly after applying the batch.
//
// An invalid or expired cursor surfaces as ErrCursorInvalid so the caller
// can re-initialize instead of treating it as a generic failure.
func (c *Client) ListChanges(ctx context.Context, cursor string) (*ChangePage, error) {
	if cursor == "" {
		return nil, fmt.Errorf("drive: ListChanges requires a cursor")
	}

	c.logger.Debug("listing changes")

	var (
		all       []Change
		pageToken = cursor
		page      int
	)

	for {
		page++

		cr, err := c.listChangesPage(ctx, pageToken)
		if err != nil {
			return nil, err
		}

		for i := range cr.Changes {
			all = append(all, cr.Changes[i].toChange(c.logger))
		}

		if cr.NewStartPageToken != "" {
			c.logger.Debug("listed changes complete",
				slog.Int("count", len(all)),
				slog.Int("pages", page),
			)

			return &ChangePage{Changes: all, NewCursor: cr.NewStartPageToken}, nil
		}

		if cr.NextPageToken == "" {
			return nil, fmt.Errorf("drive: changes page has neither nextPageToken nor newStartPageToken")
		}

		pageToken = cr.NextPageToken
	}
}

// listChangesPage fetches a single page of the changes feed.
func (c *Client) listChangesPage(ctx context.Context, pageToken string) (*changesResponse, error) {
	q := url.Values{}
	q.Set("pageToken", pageToken)
	q.Set("pageSize", fmt.Sprint(listPageSize))
	q.Set("fields", changeFields)
	q.Set("includeRemoved", "true")

	resp, err := c.do(ctx, "/changes?"+q.Encode())
	if err != nil {
		return nil, classifyCursorError(err)
	}
	defer resp.Body.Close()

	var cr changesResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("drive: decoding changes response: %w", err)
	}

	return &cr, nil
}

// classifyCursorError converts a rejected page token into ErrCursorInvalid.
// The Drive API reports an expired token as 400 with "pageToken" in the
// message, and some backends as 410 Gone.
func classifyCursorError(err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	if apiErr.StatusCode == http.StatusGone {
		return fmt.Errorf("%w: %s", ErrCursorInvalid, apiErr.Message)
	}

	if apiErr.StatusCode == http.StatusBadRequest && strings.Contains(apiErr.Message, "pageToken") {
		return fmt.Errorf("%w: %s", ErrCursorInvalid, apiErr.Message)
	}

	return err
}

// toChange normalizes a change resource.
func (r *changeResource) toChange(logger *slog.Logger) Change {
	ch := Change{
		FileID:  r.FileID,
		Removed: r.Removed,
		Time:    parseRFC3339(r.Time, "time", r.FileID, logger),
	}

	if r.File != nil {
		f := r.File.toFile(logger)
		ch.File = &f
	}

	return ch
}
