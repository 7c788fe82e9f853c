package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opencoder-agent/memcore/pkg/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print memcored's version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Get().String())
	},
}
