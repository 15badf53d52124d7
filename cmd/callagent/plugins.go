package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chriscow/livekit-call-agent/pkg/plugin"
)

var pluginCmd = &cobra.Command{
	Use:   "plugin",
	Short: "Provider plugin commands",
}

var pluginListCmd = &cobra.Command{
	Use:   "list [kind]",
	Short: "List registered plugins",
	Long: `List all registered plugins or plugins of a specific kind.
Available kinds: stt, llm, tts`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := ""
		if len(args) > 0 {
			kind = args[0]
		}

		plugins := plugin.List(kind)
		if len(plugins) == 0 {
			if kind == "" {
				fmt.Println("No plugins registered")
			} else {
				fmt.Printf("No plugins registered for kind: %s\n", kind)
			}
			return nil
		}

		fmt.Printf("%-6s %-10s %-10s %s\n", "KIND", "NAME", "VERSION", "DESCRIPTION")
		for _, p := range plugins {
			version := p.Version
			if version == "" {
				version = "N/A"
			}
			fmt.Printf("%-6s %-10s %-10s %s\n", p.Kind, p.Name, version, p.Description)
		}
		return nil
	},
}

func init() {
	pluginCmd.AddCommand(pluginListCmd)
}
