// SPDX-License-Identifier: MIT

package main

import (
	"os"
	"strings"

	"github.com/ManuGH/vidlint/internal/client"
	"github.com/ManuGH/vidlint/internal/version"
	"github.com/spf13/cobra"
)

const serverEnv = "VIDLINT_SERVER"

type commandContext struct {
	server string
}

func (c *commandContext) client() (*client.Client, error) {
	server := strings.TrimSpace(c.server)
	if server == "" {
		server = os.Getenv(serverEnv)
	}
	return client.New(server, client.WithUserAgent("vidlint/"+version.Version))
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "vidlint",
		Short:         "Analyse videos with a vidlint daemon",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&ctx.server, "server", "s", "",
		"daemon URL (default $"+serverEnv+" or "+client.DefaultServer+")")

	rootCmd.AddCommand(newSubmitCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newHistoryCommand(ctx))
	rootCmd.AddCommand(newStorageCommand(ctx))

	return rootCmd
}
