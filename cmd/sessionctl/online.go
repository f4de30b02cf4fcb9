package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var onlineCmd = &cobra.Command{
	Use:   "online [session-id]",
	Short: "List users currently polling a session",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, err := sessionArg(args, 0)
		if err != nil {
			return err
		}
		resp, err := api.Online(cmd.Context(), sessionID)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), resp)
		}
		fmt.Fprintln(cmd.OutOrStdout(), formatOnline(resp.OnlineUsers))
		if resp.StreamCount > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "%d websocket stream(s) open\n", resp.StreamCount)
		}
		return nil
	},
}
