package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/adwski/webrtc-meshrelay/backend/model"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	ErrStats = errors.New("cannot fetch relay stats")
)

func newStatsCmd() *cobra.Command {
	var (
		apiURL  string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:          "stats",
		Short:        "Print rooms and participants of a running relay",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			stats, err := fetchStats(ctx, apiURL)
			if err != nil {
				return err
			}
			renderStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}
	cmd.Flags().StringVarP(&apiURL, "api-url", "u", "http://localhost:8080", "relay api base url")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	return cmd
}

func fetchStats(ctx context.Context, apiURL string) (model.Stats, error) {
	var body struct {
		Data model.Stats `json:"data"`
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(apiURL, "/")+"/api/stats", nil)
	if err != nil {
		return body.Data, errors.Join(ErrStats, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return body.Data, errors.Join(ErrStats, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return body.Data, fmt.Errorf("%w: status %d", ErrStats, resp.StatusCode)
	}
	if err = json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return body.Data, errors.Join(ErrStats, err)
	}
	return body.Data, nil
}

func renderStats(w io.Writer, stats model.Stats) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Room", "Participants", "Private", "Chat messages"})
	for _, room := range stats.Rooms {
		t.AppendRow(table.Row{room.ID, room.Participants, room.Private, room.ChatMessages})
	}
	t.AppendFooter(table.Row{
		fmt.Sprintf("%d rooms", len(stats.Rooms)),
		stats.Participants,
		"",
		fmt.Sprintf("%d connections", stats.Connections),
	})
	t.Render()
}
