package main

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentgate/core"
	"github.com/hupe1980/agentgate/dispatch"
)

func queryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <agent-id> <text>",
		Short: "Send a query to an agent and print the events as JSON lines",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runQuery,
	}
	cmd.Flags().Int64("player", 0, "Id of the querying player")
	cmd.Flags().Int64("caller-agent", 0, "Id of the querying agent")
	return cmd
}

func runQuery(cmd *cobra.Command, args []string) error {
	agentID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return core.Validationf("agent id %q is not a number", args[0])
	}

	player, _ := cmd.Flags().GetInt64("player")
	callerAgent, _ := cmd.Flags().GetInt64("caller-agent")
	var caller core.CallerRef
	switch {
	case player != 0 && callerAgent != 0:
		return errors.New("--player and --caller-agent are mutually exclusive")
	case player != 0:
		caller = core.PlayerRef(player)
	case callerAgent != 0:
		caller = core.AgentRef(callerAgent)
	default:
		return errors.New("one of --player or --caller-agent is required")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	events, done := a.gate.QueryStream(cmd.Context(), dispatch.Request{
		AgentID: agentID,
		Caller:  caller,
		Query:   strings.Join(args[1:], " "),
	})
	enc := json.NewEncoder(cmd.OutOrStdout())
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}
	res := <-done
	if res.Err != nil {
		return res.Err
	}
	if !res.Result.Success {
		return errors.New("query finished with errors")
	}
	return nil
}
