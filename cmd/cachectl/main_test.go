package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/agrodecision-cache/internal/domain"
	"github.com/couchcryptid/agrodecision-cache/internal/store"
)

func seed(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	b, err := store.OpenSQLite(path, store.Options{})
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Put(ctx, store.Entry{Key: "nasa_data_1.0000_2.0000", Value: []byte(`{"temperature":21.5}`), ContentType: "application/json"}))
	require.NoError(t, b.Put(ctx, store.Entry{Key: "http://localhost:3000/", Value: []byte("<html></html>"), ContentType: "text/html"}))
	require.NoError(t, b.Enqueue(ctx, domain.PendingSyncItem{
		ID:        "p1",
		Tag:       domain.SyncTag,
		Kind:      "history",
		Payload:   json.RawMessage(`{"type":"consulta"}`),
		CreatedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, b.Append(ctx, domain.HistoryEntry{ID: "h1", Type: "consulta", Date: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}))
	return path
}

func runCmd(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestStats(t *testing.T) {
	db := seed(t)
	code, out, _ := runCmd(t, "-db", db, "stats")
	require.Equal(t, 0, code)
	assert.Equal(t, "entries: 2\npending: 1\nhistory: 1\n", out)
}

func TestGet(t *testing.T) {
	db := seed(t)
	code, out, _ := runCmd(t, "-db", db, "get", "-key", "nasa_data_1.0000_2.0000")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "content-type: application/json")
	assert.Contains(t, out, `{"temperature":21.5}`)

	code, _, errOut := runCmd(t, "-db", db, "get", "-key", "missing")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "not found")

	code, _, _ = runCmd(t, "-db", db, "get")
	assert.Equal(t, 1, code)
}

func TestKey(t *testing.T) {
	code, out, _ := runCmd(t, "key", "-kind", "news", "-lat", "-12.54381", "-lon", "-55.72111")
	require.Equal(t, 0, code)
	assert.Equal(t, "news_data_-12.54_-55.72\n", out)

	code, _, _ = runCmd(t, "key", "-kind", "weather")
	assert.Equal(t, 1, code)
}

func TestClear(t *testing.T) {
	db := seed(t)
	code, out, _ := runCmd(t, "-db", db, "clear")
	require.Equal(t, 0, code)
	assert.Equal(t, "cleared 2 entries\n", out)

	_, out, _ = runCmd(t, "-db", db, "stats")
	assert.Contains(t, out, "entries: 0\npending: 1\n", "clear keeps the queue")
}

func TestPendingAndHistory(t *testing.T) {
	db := seed(t)

	code, out, _ := runCmd(t, "-db", db, "pending")
	require.Equal(t, 0, code)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	var item domain.PendingSyncItem
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &item))
	assert.Equal(t, "p1", item.ID)

	code, out, _ = runCmd(t, "-db", db, "history", "-limit", "5")
	require.Equal(t, 0, code)
	assert.Contains(t, out, `"id":"h1"`)
}

func TestUsageErrors(t *testing.T) {
	code, _, errOut := runCmd(t)
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "usage")

	code, _, errOut = runCmd(t, "-db", filepath.Join(t.TempDir(), "x.db"), "frobnicate")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "unknown command")

	code, _, errOut = runCmd(t, "tail", "-brokers", "")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "brokers")
}
