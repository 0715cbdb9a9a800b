package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"voxsync/internal/providers/openai"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Request an ephemeral realtime token and print it",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		client := openai.NewTokenClient(openai.Config{
			APIKey:     cfg.OpenAI.APIKey,
			APIBaseURL: cfg.OpenAI.APIBaseURL,
			Model:      cfg.OpenAI.Model,
			Voice:      cfg.OpenAI.Voice,
		})
		token, err := client.EphemeralToken(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}
