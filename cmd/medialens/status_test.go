package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/harutoshi/medialens/internal/model"
)

func TestFetchFilesAppliesFilters(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_ = json.NewEncoder(w).Encode(map[string]any{
			"files": []model.UploadRecord{{ID: "abc", Name: "a.png", Kind: model.KindImage}},
		})
	}))
	defer srv.Close()

	records, err := fetchFiles(context.Background(), srv.URL, "image", "completed")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "kind=image&status=completed", gotQuery)
}

func TestRenderStatusTable(t *testing.T) {
	out := renderStatusTable([]model.UploadRecord{
		{ID: "0123456789", Name: "cat.png", Kind: model.KindImage, Status: model.StatusCompleted, Progress: 100, Size: 2 << 20},
	})
	require.Contains(t, out, "01234567")
	require.Contains(t, out, "cat.png")
	require.Contains(t, out, "100%")
	require.Contains(t, out, "2.0 MiB")
}

func TestFormatSize(t *testing.T) {
	require.Equal(t, "512 B", formatSize(512))
	require.Equal(t, "1.5 KiB", formatSize(1536))
	require.Equal(t, "3.0 MiB", formatSize(3<<20))
}
