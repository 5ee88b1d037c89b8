package main

import (
	"fmt"
	"os"

	"github.com/GoCodeAlone/mastobot/cmd/mastobot/cmd"

	_ "github.com/GoCodeAlone/mastobot/modules/foldermemes"
	_ "github.com/GoCodeAlone/mastobot/modules/scheduledimages"
	_ "github.com/GoCodeAlone/mastobot/services/localdir"
	_ "github.com/GoCodeAlone/mastobot/services/mega"
)

func main() {
	rootCmd := cmd.NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
