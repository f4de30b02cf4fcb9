package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage saved server profiles",
}

var profileAddCmd = &cobra.Command{
	Use:   "add <name> <url>",
	Short: "Add or replace a profile",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := profilesPath()
		if err != nil {
			return err
		}
		cfg, err := loadProfiles(path)
		if err != nil {
			return err
		}

		tok, _ := cmd.Flags().GetString("with-token")
		session, _ := cmd.Flags().GetInt64("session")
		cfg.Profiles[args[0]] = Profile{URL: args[1], Token: tok, Session: session}
		if cfg.Active == "" {
			cfg.Active = args[0]
		}
		if err := saveProfiles(path, cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "saved profile %s\n", args[0])
		return nil
	},
}

var profileUseCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Make a profile the default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := profilesPath()
		if err != nil {
			return err
		}
		cfg, err := loadProfiles(path)
		if err != nil {
			return err
		}
		if _, ok := cfg.Profiles[args[0]]; !ok {
			return fmt.Errorf("unknown profile %q", args[0])
		}
		cfg.Active = args[0]
		return saveProfiles(path, cfg)
	},
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved profiles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := profilesPath()
		if err != nil {
			return err
		}
		cfg, err := loadProfiles(path)
		if err != nil {
			return err
		}

		names := make([]string, 0, len(cfg.Profiles))
		for n := range cfg.Profiles {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			marker := " "
			if n == cfg.Active {
				marker = "*"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %-12s %s\n", marker, n, cfg.Profiles[n].URL)
		}
		return nil
	},
}

func init() {
	profileAddCmd.Flags().String("with-token", "", "bearer token to store with the profile")
	profileAddCmd.Flags().Int64("session", 0, "default session ID")

	profileCmd.AddCommand(profileAddCmd)
	profileCmd.AddCommand(profileUseCmd)
	profileCmd.AddCommand(profileListCmd)
}
