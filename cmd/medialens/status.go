package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/harutoshi/medialens/internal/model"
)

func newStatusCmd() *cobra.Command {
	var kind string
	var status string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show tracked uploads on a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := fetchFiles(cmd.Context(), serverURL, kind, status)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no tracked uploads")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderStatusTable(records))
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "Filter by media kind (image, video, audio, document)")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (pending, uploading, processing, completed, error)")
	return cmd
}

func fetchFiles(ctx context.Context, base, kind, status string) ([]model.UploadRecord, error) {
	url := base + "/files"
	sep := "?"
	if kind != "" {
		url += sep + "kind=" + kind
		sep = "&"
	}
	if status != "" {
		url += sep + "status=" + status
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %s", resp.Status)
	}

	var out struct {
		Files []model.UploadRecord `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out.Files, nil
}

func renderStatusTable(records []model.UploadRecord) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"ID", "Name", "Kind", "Status", "Progress", "Size"})
	for _, rec := range records {
		tw.AppendRow(table.Row{
			shortID(rec.ID),
			rec.Name,
			rec.Kind,
			rec.Status,
			fmt.Sprintf("%d%%", rec.Progress),
			formatSize(rec.Size),
		})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 5, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 6, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
