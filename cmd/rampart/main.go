// Rampart - game server sidecar.
//
// Rampart sits next to a game engine's server module and speaks a small UDP
// packet protocol with it: admin chat commands are parsed, authorised and
// audited, player connects are checked against bans and mutes, and players'
// MP3 clips are downloaded, transcoded to Opus and streamed back as voice.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	AppName    = "Rampart"
	AppVersion = "1.0.0"
	Banner     = `
  ____                                  _
 |  _ \ __ _ _ __ ___  _ __   __ _ _ __| |_
 | |_) / _' | '_ ' _ \| '_ \ / _' | '__| __|
 |  _ < (_| | | | | | | |_) | (_| | |  | |_
 |_| \_\__,_|_| |_| |_| .__/ \__,_|_|   \__|
                      |_|  v%s
 Game Server Sidecar
`
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "rampart",
	Short: "Rampart - game server admin and voice sidecar",
	Long: `Rampart runs beside the game engine's server module. It handles admin
commands, enforces bans and mutes on connect, and streams players' sound
clips as Opus voice frames.`,
	Version:       AppVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sidecar",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%s v%s\n", AppName, AppVersion)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file (.json, .toml or .yaml)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(overrideCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
