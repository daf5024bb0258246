package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd(t *testing.T) {
	cmd := rootCmd()

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"version", "serve", "housekeeper", "migrate", "token"}, names)

	flag := cmd.PersistentFlags().Lookup("graceful-shutdown")
	require.NotNil(t, flag)
	assert.Equal(t, "1s", flag.DefValue)
}

func TestTokenCmdFlags(t *testing.T) {
	cmd, _, err := rootCmd().Find([]string{"token"})
	require.NoError(t, err)

	assert.NotNil(t, cmd.Flags().Lookup("tenant"))
	assert.NotNil(t, cmd.Flags().Lookup("agent"))
}
