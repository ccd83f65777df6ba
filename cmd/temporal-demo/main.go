package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const appName = "temporal-demo"

func main() {
	command := NewDemoCommand()
	if err := command.Execute(); err != nil {
		os.Exit(1)
	}
}

func NewDemoCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   fmt.Sprintf("%s [command] [flags]", appName),
		Short: fmt.Sprintf("%s keeps a history of a sample device table in the configured database.", appName),
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
			os.Exit(1)
		},
	}
	cmd.PersistentFlags().Bool("full", false, "Archive every version instead of only replaced ones")
	cmd.AddCommand(NewCmdMigrate())
	cmd.AddCommand(NewCmdRun())
	cmd.AddCommand(NewCmdHistory())
	return cmd
}
