package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/dmscreen/sessionfeed/internal/client"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const defaultServerURL = "http://localhost:8080"

var (
	serverURL   string
	token       string
	profileName string
	configPath  string
	jsonOutput  bool
	verbose     bool

	// Resolved in PersistentPreRunE.
	active Profile
	api    *client.HTTPClient
)

var rootCmd = &cobra.Command{
	Use:           "sessionctl",
	Short:         "Watch and publish session events on a sessionfeed server",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		path, err := profilesPath()
		if err != nil {
			return err
		}
		cfg, err := loadProfiles(path)
		if err != nil {
			return err
		}
		p, ok := cfg.selected(profileName)
		if profileName != "" && !ok {
			return fmt.Errorf("unknown profile %q", profileName)
		}

		active = resolveProfile(p, cmd.Flags().Changed("server"), cmd.Flags().Changed("token"))
		api = client.NewHTTPClient(active.URL, active.Token, nil)
		return nil
	},
}

// resolveProfile applies explicit flags over the environment over the
// profile file.
func resolveProfile(p Profile, serverSet, tokenSet bool) Profile {
	switch {
	case serverSet:
		p.URL = serverURL
	case os.Getenv("SESSIONFEED_SERVER") != "":
		p.URL = os.Getenv("SESSIONFEED_SERVER")
	case p.URL == "":
		p.URL = defaultServerURL
	}
	switch {
	case tokenSet:
		p.Token = token
	case os.Getenv("SESSIONFEED_TOKEN") != "":
		p.Token = os.Getenv("SESSIONFEED_TOKEN")
	}
	return p
}

// sessionArg reads a session ID from args[i], falling back to the
// profile's default session.
func sessionArg(args []string, i int) (int64, error) {
	if len(args) > i {
		id, err := strconv.ParseInt(args[i], 10, 64)
		if err != nil || id <= 0 {
			return 0, fmt.Errorf("invalid session id %q", args[i])
		}
		return id, nil
	}
	if active.Session > 0 {
		return active.Session, nil
	}
	return 0, fmt.Errorf("session id required")
}

func cliLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServerURL, "sessionfeed server URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "bearer token")
	rootCmd.PersistentFlags().StringVar(&profileName, "profile", "", "profile name (default: active profile)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "profile file (default ~/.config/sessionfeed/profiles.toml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log poller activity to stderr")

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(onlineCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(profileCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
