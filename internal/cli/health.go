package cli

import (
	"github.com/spf13/cobra"

	"github.com/mcoot/typerace/internal/api/response"
)

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		Long:  "Report the server's health and the state of each backend it checks.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := getJSON[response.Health](cmd.Context(), client, "/api/v1/health")
			if err != nil {
				return err
			}
			newOutput(cmd).Print(result)
			return nil
		},
	}
}
