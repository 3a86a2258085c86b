// Command artifactctl inspects and exercises the verifiable artifact
// store from the shell: checking a keyring for keys nearing expiry, and
// verifying an archive's signature and entry hashes without decoding its
// attributes.
package main

import (
	"fmt"
	"os"

	"github.com/forestrie/go-verifiable-artifact/cmd/artifactctl/cmd"
	"github.com/forestrie/go-verifiable-artifact/internal/logger"
)

func main() {
	defer logger.OnExit()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
