package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forestrie/go-verifiable-artifact/archive"
	"github.com/forestrie/go-verifiable-artifact/load"
	"github.com/forestrie/go-verifiable-artifact/manifest"
	"github.com/forestrie/go-verifiable-artifact/sign"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <archive-path>",
	Short: "Check an archive's signature and entry hashes without decoding attributes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := cmd.Flags().GetString("trusted-keys-dir")
		if err != nil {
			return err
		}
		allowExpired, err := cmd.Flags().GetBool("allow-expired-signing-key")
		if err != nil {
			return err
		}

		keyring, err := sign.LoadKeyring(dir)
		if err != nil {
			return err
		}
		verifier := sign.NewVerifier(keyring, sign.WithAllowExpiredSigningKey(allowExpired))

		bundle, err := archive.ReadFile(args[0])
		if err != nil {
			return err
		}
		if err := verifier.CheckManifest(bundle.Manifest, bundle.Signature); err != nil {
			return err
		}

		m, err := manifest.Parse(bundle.Manifest)
		if err != nil {
			return err
		}

		verified, err := load.VerifyEntries(m, bundle)
		if err != nil {
			return err
		}

		fmt.Printf("ok: %s (%s), %d verified entries\n", m.ArtifactName, args[0], len(verified))
		return nil
	},
}

func init() {
	verifyCmd.Flags().Bool("allow-expired-signing-key", false, "accept a signature made with an expired key")
	rootCmd.AddCommand(verifyCmd)
}
