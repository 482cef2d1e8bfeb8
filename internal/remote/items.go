package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/starford/refsync/internal/models"
)

type apiItem struct {
	Key     string `json:"key"`
	Version int64  `json:"version"`
	Meta    struct {
		NumChildren int `json:"numChildren"`
	} `json:"meta"`
	Data map[string]any `json:"data"`
}

type apiTag struct {
	Tag string `json:"tag"`
}

func (it apiItem) record() models.Record {
	rec := models.Record{
		Key:         it.Key,
		Version:     it.Version,
		NumChildren: it.Meta.NumChildren,
		Data:        it.Data,
	}
	if rec.Data == nil {
		rec.Data = map[string]any{}
	}
	rec.ItemType = rec.String("itemType")
	rec.ParentKey = rec.String("parentItem")
	rec.Title = rec.String("title")
	if raw, ok := rec.Data["tags"].([]any); ok {
		for _, t := range raw {
			m, ok := t.(map[string]any)
			if !ok {
				continue
			}
			if s, ok := m["tag"].(string); ok && strings.TrimSpace(s) != "" {
				rec.Tags = append(rec.Tags, s)
			}
		}
	}
	return rec
}

func decodeItems(body []byte) ([]models.Record, error) {
	var items []apiItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("remote: decode items: %w", err)
	}
	out := make([]models.Record, 0, len(items))
	for _, it := range items {
		out = append(out, it.record())
	}
	return out, nil
}

// FetchChangedRecords lists top-level records carrying tag whose version is
// newer than since. With since zero every tagged record is returned. A 304
// answer yields a ChangeSet with NotModified set.
func (c *Client) FetchChangedRecords(ctx context.Context, tag string, since int64) (models.ChangeSet, error) {
	set := models.ChangeSet{}
	start := 0
	for {
		q := url.Values{}
		q.Set("format", "json")
		q.Set("tag", tag)
		q.Set("start", strconv.Itoa(start))
		q.Set("limit", strconv.Itoa(c.pageSize))
		headers := map[string]string{}
		if since > 0 {
			q.Set("since", strconv.FormatInt(since, 10))
			if start == 0 {
				headers["If-Modified-Since-Version"] = strconv.FormatInt(since, 10)
			}
		}

		resp, err := c.do(ctx, http.MethodGet, "/items/top", q, headers, nil)
		if err != nil {
			return models.ChangeSet{}, err
		}
		if resp.status == http.StatusNotModified {
			return models.ChangeSet{LibraryVersion: since, NotModified: true}, nil
		}
		if resp.status != http.StatusOK {
			return models.ChangeSet{}, statusError(resp, "list items")
		}
		page, err := decodeItems(resp.body)
		if err != nil {
			return models.ChangeSet{}, err
		}
		if start == 0 {
			set.LibraryVersion = headerVersion(resp.header)
		}
		set.Records = append(set.Records, page...)

		start += len(page)
		total, convErr := strconv.Atoi(resp.header.Get("Total-Results"))
		if len(page) == 0 || convErr != nil || start >= total {
			break
		}
	}
	c.logger.Debug("remote: listed changed records",
		slog.Int("count", len(set.Records)),
		slog.Int64("since", since),
		slog.Int64("library_version", set.LibraryVersion))
	return set, nil
}

// FetchRecord returns one record by key.
func (c *Client) FetchRecord(ctx context.Context, key string) (models.Record, error) {
	resp, err := c.do(ctx, http.MethodGet, "/items/"+url.PathEscape(key), url.Values{"format": {"json"}}, nil, nil)
	if err != nil {
		return models.Record{}, err
	}
	if resp.status != http.StatusOK {
		return models.Record{}, statusError(resp, "get item "+key)
	}
	var it apiItem
	if err := json.Unmarshal(resp.body, &it); err != nil {
		return models.Record{}, fmt.Errorf("remote: decode item %s: %w", key, err)
	}
	return it.record(), nil
}

// FetchChildren returns the notes, attachments and annotations under key.
func (c *Client) FetchChildren(ctx context.Context, key string) ([]models.Record, error) {
	resp, err := c.do(ctx, http.MethodGet, "/items/"+url.PathEscape(key)+"/children", url.Values{"format": {"json"}}, nil, nil)
	if err != nil {
		return nil, err
	}
	if resp.status != http.StatusOK {
		return nil, statusError(resp, "get children of "+key)
	}
	return decodeItems(resp.body)
}

// PushTags replaces the tag list of key, conditional on the record still
// being at expectedVersion. It returns the record's new version.
// A version mismatch yields apperr.ErrConflict and a rejected write
// apperr.ErrForbidden.
func (c *Client) PushTags(ctx context.Context, key string, tags []string, expectedVersion int64) (int64, error) {
	payload := struct {
		Tags []apiTag `json:"tags"`
	}{Tags: make([]apiTag, 0, len(tags))}
	for _, t := range tags {
		payload.Tags = append(payload.Tags, apiTag{Tag: t})
	}
	headers := map[string]string{
		"If-Unmodified-Since-Version": strconv.FormatInt(expectedVersion, 10),
	}
	resp, err := c.do(ctx, http.MethodPatch, "/items/"+url.PathEscape(key), nil, headers, payload)
	if err != nil {
		return 0, err
	}
	if resp.status != http.StatusNoContent && resp.status != http.StatusOK {
		return 0, statusError(resp, "push tags for "+key)
	}
	version := headerVersion(resp.header)
	if version == 0 {
		version = expectedVersion
	}
	return version, nil
}
