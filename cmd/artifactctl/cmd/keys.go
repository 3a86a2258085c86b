package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/forestrie/go-verifiable-artifact/sign"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Inspect the trusted signing keyring",
}

var daysBeforeWarning int

var keysExpiryCmd = &cobra.Command{
	Use:   "expiry",
	Short: "List trusted keys expired or expiring within the warning window",
	Long: `expiry exits 0 if every trusted key has more than
--days-before-warning days left before expiry, and non-zero (printing
the affected fingerprints) otherwise.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := cmd.Flags().GetString("trusted-keys-dir")
		if err != nil {
			return err
		}
		keyring, err := sign.LoadKeyring(dir)
		if err != nil {
			return err
		}

		window := time.Duration(daysBeforeWarning) * 24 * time.Hour
		fingerprints := keyring.ExpiringWithin(window, time.Now())
		if len(fingerprints) == 0 {
			fmt.Println("no trusted keys expire within the warning window")
			return nil
		}

		for _, fp := range fingerprints {
			fmt.Println(fp)
		}
		return fmt.Errorf("%d trusted key(s) expired or expiring within %d day(s)", len(fingerprints), daysBeforeWarning)
	},
}

func init() {
	rootCmd.PersistentFlags().String("trusted-keys-dir", "", "path to the trusted keyring directory")
	keysExpiryCmd.Flags().IntVar(&daysBeforeWarning, "days-before-warning", 30, "warn when a key expires within this many days")
	keysCmd.AddCommand(keysExpiryCmd)
	rootCmd.AddCommand(keysCmd)
}
