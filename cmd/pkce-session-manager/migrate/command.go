package migrate

import (
	"github.com/spf13/cobra"

	"github.com/openkcm/pkce-session-manager/internal/business"
	"github.com/openkcm/pkce-session-manager/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"migrate",
		"PKCE Session Manager database migrations",
		"Applies the session storage schema to the configured postgres database.",
		buildInfo,
		cmdutils.RunAsJob,
		business.MigrateMain,
	)
}
