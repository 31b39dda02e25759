package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pluginauth/core"
)

var checkConfigCmd = &cobra.Command{
	Use:   "check-config [realms-file]",
	Short: "Validate a realms file and its policies",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := core.Load().RealmsFile
		if len(args) == 1 {
			path = args[0]
		}
		rf, err := core.LoadRealmsFile(path)
		if err != nil {
			return err
		}
		if _, err := core.NewAuthorizer(rf.Policies); err != nil {
			return err
		}
		for _, r := range rf.Realms {
			fmt.Fprintf(cmd.OutOrStdout(), "realm %-20s plugin=%-10s cache=%-5t cacheable=%-5t users=%d\n",
				r.Name, r.Plugin, r.CacheEnabled(), r.Cacheable, len(r.Users))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d policies OK\n", len(rf.Policies))
		return nil
	},
}
