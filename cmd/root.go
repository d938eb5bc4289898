package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "slateroom",
	Short: "SlateRoom is a shared whiteboard with voice calling.",
	Run: func(cmd *cobra.Command, args []string) {
		runAgent()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
