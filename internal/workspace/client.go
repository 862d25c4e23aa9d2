// internal/workspace/client.go

// Package workspace talks to the remote tabular workspace database: schema
// inspection and migration, row queries, and row upserts for grading results.
package workspace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const (
	defaultBaseURL = "https://api.notion.com"
	apiVersion     = "2022-06-28"
)

// ColumnType is a workspace database column type.
type ColumnType string

const (
	TypeTitle    ColumnType = "title"
	TypeURL      ColumnType = "url"
	TypeDate     ColumnType = "date"
	TypeRichText ColumnType = "rich_text"
	TypeCheckbox ColumnType = "checkbox"
	TypeNumber   ColumnType = "number"
)

// Schema maps column names to their types.
type Schema map[string]ColumnType

// RichText is one plain-text run in a rich_text or title property.
type RichText struct {
	Text TextContent `json:"text"`
}

// TextContent holds the literal content of a text run.
type TextContent struct {
	Content string `json:"content"`
}

// DateValue is an ISO-8601 date property payload.
type DateValue struct {
	Start string `json:"start"`
}

// PropertyValue is one column's value in a row write. Exactly one field is
// set, matching the column's type.
type PropertyValue struct {
	Title    []RichText `json:"title,omitempty"`
	RichText []RichText `json:"rich_text,omitempty"`
	URL      string     `json:"url,omitempty"`
	Date     *DateValue `json:"date,omitempty"`
	Checkbox *bool      `json:"checkbox,omitempty"`
	Number   *float64   `json:"number,omitempty"`
}

// Properties is a full row payload keyed by column name.
type Properties map[string]PropertyValue

// TextValue builds a single-run rich_text value. An empty string produces an
// empty run, which clears the column rather than leaving it stale.
func TextValue(s string) PropertyValue {
	return PropertyValue{RichText: []RichText{{Text: TextContent{Content: s}}}}
}

// TitleValue builds a title value.
func TitleValue(s string) PropertyValue {
	return PropertyValue{Title: []RichText{{Text: TextContent{Content: s}}}}
}

// CheckboxValue builds a checkbox value.
func CheckboxValue(b bool) PropertyValue {
	return PropertyValue{Checkbox: &b}
}

// NumberValue builds a number value.
func NumberValue(n float64) PropertyValue {
	return PropertyValue{Number: &n}
}

// Client is a minimal wrapper around the workspace REST API. It covers just
// the endpoints the schema manager and sync engine require.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
	logger  *slog.Logger
}

// NewClient returns a ready-to-use workspace API client.
func NewClient(token string, logger *slog.Logger) *Client {
	return &Client{
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: defaultBaseURL,
		token:   token,
		logger:  logger,
	}
}

// SetBaseURL overrides the API endpoint, used by tests.
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

// databaseResponse is the subset of the database object we read.
type databaseResponse struct {
	Properties map[string]struct {
		Type ColumnType `json:"type"`
	} `json:"properties"`
}

// GetSchema reads a database's column schema.
func (c *Client) GetSchema(ctx context.Context, databaseID string) (Schema, error) {
	var payload databaseResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/databases/%s", databaseID), nil, &payload); err != nil {
		return nil, err
	}

	schema := make(Schema, len(payload.Properties))
	for name, prop := range payload.Properties {
		schema[name] = prop.Type
	}
	return schema, nil
}

// columnDefinition is the schema-update payload for one new column.
type columnDefinition map[string]any

// AddColumns issues one schema-update call adding all given columns at once.
func (c *Client) AddColumns(ctx context.Context, databaseID string, columns Schema) error {
	props := make(map[string]columnDefinition, len(columns))
	for name, typ := range columns {
		// The column type key carries an empty options object.
		props[name] = columnDefinition{string(typ): map[string]any{}}
	}
	body := map[string]any{"properties": props}
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/v1/databases/%s", databaseID), body, nil)
}

// rowPage is one page of query results.
type rowPage struct {
	Results []struct {
		ID         string                     `json:"id"`
		Properties map[string]json.RawMessage `json:"properties"`
	} `json:"results"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor"`
}

// urlProperty extracts a url-type property value from a queried row.
type urlProperty struct {
	URL string `json:"url"`
}

// QueryRowsByURL lists all rows and returns a lookup from the value of the
// given url column to row ID. Rows without a URL are skipped.
func (c *Client) QueryRowsByURL(ctx context.Context, databaseID, urlColumn string) (map[string]string, error) {
	index := make(map[string]string)
	cursor := ""
	for {
		body := map[string]any{"page_size": 100}
		if cursor != "" {
			body["start_cursor"] = cursor
		}
		var page rowPage
		if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/databases/%s/query", databaseID), body, &page); err != nil {
			return nil, err
		}
		for _, row := range page.Results {
			raw, ok := row.Properties[urlColumn]
			if !ok {
				continue
			}
			var prop urlProperty
			if err := json.Unmarshal(raw, &prop); err != nil || prop.URL == "" {
				continue
			}
			index[prop.URL] = row.ID
		}
		if !page.HasMore || page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	return index, nil
}

// createRowResponse carries the new row's ID.
type createRowResponse struct {
	ID string `json:"id"`
}

// CreateRow inserts a new row into the database.
func (c *Client) CreateRow(ctx context.Context, databaseID string, props Properties) (string, error) {
	body := map[string]any{
		"parent":     map[string]string{"database_id": databaseID},
		"properties": props,
	}
	var resp createRowResponse
	if err := c.do(ctx, http.MethodPost, "/v1/pages", body, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// UpdateRow patches an existing row's properties.
func (c *Client) UpdateRow(ctx context.Context, rowID string, props Properties) error {
	body := map[string]any{"properties": props}
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/v1/pages/%s", rowID), body, nil)
}

// do executes one API request, encoding body and decoding the response into v.
func (c *Client) do(ctx context.Context, method, path string, body any, v any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Notion-Version", apiVersion)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("workspace: unexpected status %s: %s", resp.Status, apiErr.Message)
	}

	if v == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
