package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   "billboard-proxy",
		Short: "Analysis proxy for the billboard readability dashboard",
		Long: `billboard-proxy accepts analyze and validate requests from the dashboard,
applies the per-action model defaults, attaches the server-held OpenAI key and
relays the chat completion back to the browser.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cfgFile)
		},
	}

	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (YAML)")

	root.AddCommand(
		newServeCmd(&cfgFile),
		newTokenCmd(&cfgFile),
		newHashPasswordCmd(),
		newConfigCmd(&cfgFile),
	)
	return root
}
