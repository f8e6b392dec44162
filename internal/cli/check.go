package cli

import (
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mcoot/typerace/internal/api/response"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <gameId>",
		Short: "Check whether a game exists and can be joined",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.ToUpper(strings.TrimSpace(args[0]))
			result, err := getJSON[response.Game](cmd.Context(), client, "/api/v1/games/"+url.PathEscape(id))
			if err != nil {
				return err
			}
			newOutput(cmd).Print(result)
			return nil
		},
	}
}
