package main

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentgate/seed"
)

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Load players, agents, actions and rules from a YAML fixture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			fx, err := seed.ParseFile(args[0])
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := seed.Load(cmd.Context(), a.store, a.gate.Conditions(), fx)
			if err != nil {
				return err
			}
			printIDs(cmd, "player", res.Players)
			printIDs(cmd, "agent", res.Agents)
			printIDs(cmd, "action", res.Actions)
			return nil
		},
	}
}

func printIDs(cmd *cobra.Command, kind string, ids map[string]int64) {
	names := make([]string, 0, len(ids))
	for name := range ids {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cmd.Printf("%s\t%d\t%s\n", kind, ids[name], name)
	}
}
