package serve

import (
	"github.com/spf13/cobra"

	"github.com/openkcm/pkce-session-manager/internal/business"
	"github.com/openkcm/pkce-session-manager/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"serve",
		"PKCE Session Manager gate server",
		"Serves the login, callback and logout flow in front of the protected application and proxies authenticated requests to it.",
		buildInfo,
		cmdutils.RunAsService,
		business.Main,
	)
}
