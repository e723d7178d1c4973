package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the switchboard gateway
var rootCmd = &cobra.Command{
	Use:   "switchboard",
	Short: "Connection and request gateway for Braid",
	Long: `switchboard terminates HTTP requests and persistent websocket
connections for the Braid chat application: it routes each request or
message to the right handler, keeps a per-user registry of open
connections for real-time delivery, and runs the Google account-linking
flow for sub-services such as mail and drive.`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "switchboard version %s\n" .Version}}`)

	// If no subcommand is provided, run the gateway by default
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Display version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("switchboard version %s\n", version)
		},
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
}
