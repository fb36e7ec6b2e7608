// SPDX-License-Identifier: MIT

package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ManuGH/vidlint/internal/client"
	"github.com/spf13/cobra"
)

const defaultPrompt = "Review this video for errors. List each issue with its timestamp (HH:MM:SS) and a short description."

// errJobFailed makes the process exit non-zero after the report is printed.
var errJobFailed = errors.New("analysis finished with errors")

func isRemote(arg string) bool {
	u, err := url.Parse(arg)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var prompt, sessionID string

	cmd := &cobra.Command{
		Use:   "submit <file|url>",
		Short: "Upload a video or submit a YouTube URL and stream the analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.client()
			if err != nil {
				return err
			}
			req := client.SubmitRequest{Prompt: strings.TrimSpace(prompt), SessionID: sessionID}
			if isRemote(args[0]) {
				req.URL = args[0]
			} else {
				if _, err := os.Stat(args[0]); err != nil {
					return err
				}
				req.FilePath = args[0]
			}

			r := client.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr())
			sub, err := c.Submit(cmd.Context(), req, r.Handle)
			r.Finish()
			if err != nil {
				if sub.SessionID != "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "Resume with: vidlint status %s\n", sub.SessionID)
				}
				return err
			}
			if r.Failed() {
				return fmt.Errorf("%w (status %s)", errJobFailed, r.Status())
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&prompt, "prompt", "p", defaultPrompt, "analysis instructions")
	cmd.Flags().StringVar(&sessionID, "session", "", "client-chosen session id")
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <sessionId>",
		Short: "Show the status and results of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.client()
			if err != nil {
				return err
			}
			st, err := c.Session(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), client.RenderSession(st, time.Now()))
			return nil
		},
	}
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List or delete finished analyses",
	}

	historyCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List history entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.client()
			if err != nil {
				return err
			}
			entries, err := c.History(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), client.RenderHistory(entries, time.Now()))
			return nil
		},
	})

	historyCmd.AddCommand(&cobra.Command{
		Use:     "rm <id>...",
		Aliases: []string{"delete"},
		Short:   "Delete history entries",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.client()
			if err != nil {
				return err
			}
			var errs []error
			for _, id := range args {
				if err := c.DeleteHistory(cmd.Context(), id); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", id, err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
			}
			return errors.Join(errs...)
		},
	})

	return historyCmd
}

func newStorageCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "storage",
		Short: "Show history disk usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.client()
			if err != nil {
				return err
			}
			stats, err := c.Storage(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), client.RenderStorage(stats))
			return nil
		},
	}
}
