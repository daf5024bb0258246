package housekeeper

import (
	"github.com/spf13/cobra"

	"github.com/openkcm/pkce-session-manager/internal/business"
	"github.com/openkcm/pkce-session-manager/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"housekeeper",
		"PKCE Session Manager housekeeping job",
		"Periodically purges expired login attempts and sessions from backends without native expiry.",
		buildInfo,
		cmdutils.RunAsService,
		business.HousekeeperMain,
	)
}
