package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var publishCmd = &cobra.Command{
	Use:   "publish <session-id> <event-type> [event-data-json]",
	Short: "Publish an event to a session (DM only)",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, err := sessionArg(args, 0)
		if err != nil {
			return err
		}

		var data json.RawMessage
		if len(args) == 3 {
			if !json.Valid([]byte(args[2])) {
				return fmt.Errorf("event data is not valid JSON")
			}
			data = json.RawMessage(args[2])
		}

		resp, err := api.Publish(cmd.Context(), sessionID, args[1], data)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), resp)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "published %s as event %d in session %d\n", resp.EventType, resp.EventID, resp.SessionID)
		return nil
	},
}
