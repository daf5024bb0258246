package token

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/openkcm/pkce-session-manager/internal/business"
	"github.com/openkcm/pkce-session-manager/internal/cmdutils"
	"github.com/openkcm/pkce-session-manager/internal/config"
)

// Cmd prints the access token of a stored session, refreshing it when it is
// about to expire.
func Cmd(buildInfo string) *cobra.Command {
	var tenant, agent string

	tokenMain := func(ctx context.Context, cfg *config.Config) error {
		return business.TokenMain(ctx, cfg, os.Stdout, tenant, agent)
	}

	cmd := cmdutils.CobraCommand(
		"token",
		"Print a current access token",
		"Prints the access token of the session stored for the given tenant and agent, refreshing it first when needed.",
		buildInfo,
		cmdutils.RunAsJob,
		tokenMain,
	)

	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant name or a context containing one of its markers")
	cmd.Flags().StringVar(&agent, "agent", "", "agent id the session belongs to")
	_ = cmd.MarkFlagRequired("agent")

	return cmd
}
