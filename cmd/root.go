package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	configx "github.com/neohoods/portal-assistant/pkg/config"
)

// Version is set at build time.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "assistant",
	Short: "Conversational assistant of the NeoHoods residents portal",
	Long: `assistant routes resident messages to the portal workflows (general
questions, resident information, help and space reservations) and drives
reservations through to payment.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		if env, _ := cmd.Flags().GetString("env"); env != "" {
			configx.SetEnvFile(env)
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("env", "", "Path of the .env file to load")
	rootCmd.PersistentFlags().String("seed", "", "Portal seed file (spaces and users); the embedded demo seed when empty")
}
