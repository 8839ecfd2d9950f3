package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"strato-hq/aegis/pkg/server"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("aegis %s (%s, %s/%s)\n",
			server.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}
