// internal/workspace/client_test.go
package workspace

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient("test-token", testLogger())
	client.SetBaseURL(server.URL)
	return client
}

func TestClient_GetSchema(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/databases/db-1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, apiVersion, r.Header.Get("Notion-Version"))
		w.Write([]byte(`{"properties":{"Name":{"type":"title"},"Graded At":{"type":"date"}}}`))
	})
	client := setupTestClient(t, mux)

	schema, err := client.GetSchema(context.Background(), "db-1")

	require.NoError(t, err)
	assert.Equal(t, Schema{"Name": TypeTitle, "Graded At": TypeDate}, schema)
}

func TestClient_AddColumns_PayloadShape(t *testing.T) {
	var body map[string]map[string]map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/databases/db-1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Write([]byte(`{}`))
	})
	client := setupTestClient(t, mux)

	err := client.AddColumns(context.Background(), "db-1", Schema{"Summary": TypeRichText})

	require.NoError(t, err)
	require.Contains(t, body, "properties")
	require.Contains(t, body["properties"], "Summary")
	// The column type key carries an empty options object.
	assert.Contains(t, body["properties"]["Summary"], "rich_text")
}

func TestClient_QueryRowsByURL_Paginates(t *testing.T) {
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/databases/db-1/query", func(w http.ResponseWriter, r *http.Request) {
		calls++
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if calls == 1 {
			assert.NotContains(t, body, "start_cursor")
			w.Write([]byte(`{
				"results": [
					{"id": "row-1", "properties": {"GitHub URL": {"url": "https://github.com/owner/repo-1"}}},
					{"id": "row-2", "properties": {"GitHub URL": {"url": null}}}
				],
				"has_more": true,
				"next_cursor": "cursor-2"
			}`))
			return
		}
		assert.Equal(t, "cursor-2", body["start_cursor"])
		w.Write([]byte(`{
			"results": [
				{"id": "row-3", "properties": {"GitHub URL": {"url": "https://github.com/owner/repo-3"}}}
			],
			"has_more": false
		}`))
	})
	client := setupTestClient(t, mux)

	index, err := client.QueryRowsByURL(context.Background(), "db-1", "GitHub URL")

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, map[string]string{
		"https://github.com/owner/repo-1": "row-1",
		"https://github.com/owner/repo-3": "row-3",
	}, index)
}

func TestClient_CreateRow(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/pages", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]any{"database_id": "db-1"}, body["parent"])
		w.Write([]byte(`{"id": "row-9"}`))
	})
	client := setupTestClient(t, mux)

	id, err := client.CreateRow(context.Background(), "db-1", Properties{
		"Name": TitleValue("repo-1"),
	})

	require.NoError(t, err)
	assert.Equal(t, "row-9", id)
}

func TestClient_ErrorStatusSurfacesMessage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/pages/row-1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message": "Could not find page"}`))
	})
	client := setupTestClient(t, mux)

	err := client.UpdateRow(context.Background(), "row-1", Properties{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "Could not find page")
}
