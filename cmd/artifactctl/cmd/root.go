package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "artifactctl",
	Short: "Inspect and exercise a verifiable composite artifact store",
	Long: `artifactctl operates on archives produced by the save pipeline:
checking a trust keyring for keys nearing expiry, and verifying an
archive's signature and entry hashes without fully decoding it.`,
}

// Execute adds all child commands to the root command and runs it. Called
// once from main.
func Execute() error {
	return rootCmd.Execute()
}
