// Package cli holds the syncwave participant commands.
package cli

import (
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/syncwave/internal/config"
	"github.com/BioHazard786/syncwave/internal/transfer"
	"github.com/BioHazard786/syncwave/internal/ui"
	"github.com/BioHazard786/syncwave/internal/version"
)

var opts config.Options

var rootCmd = &cobra.Command{
	Use:   "syncwave",
	Short: "Listen to the same song at the same moment, peer to peer",
	Long: `syncwave connects everyone in a room directly over WebRTC. One person shares a
song, every peer receives the whole file, and playback starts only once all of
them are ready.`,
	Version: version.Version,
}

// Execute runs the root command. Called once by main.
func Execute() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		os.Exit(0)
	}()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, transfer.NewError("load config", err)
	}
	return cfg, nil
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&opts.ConfigFile, "config", "", "YAML config file")
	f.StringVarP(&opts.Server, "server", "d", "", "Signaling server domain or ws(s):// URL")
	f.StringVarP(&opts.STUNServer, "stun", "s", "", "Custom STUN server")
	f.StringVarP(&opts.TURNServer, "turn", "t", "", "Custom TURN server")
	f.StringVarP(&opts.TURNUser, "turn-user", "u", "", "TURN username")
	f.StringVarP(&opts.TURNPass, "turn-pass", "p", "", "TURN password")
	f.BoolVarP(&opts.ForceRelay, "relay", "r", false, "Force relay mode")
	f.StringVarP(&opts.OutputDir, "output", "o", "", "Directory to save tracks")
	f.StringVar(&opts.PlayerCommand, "player", "", "Command used to play a track, e.g. \"mpv --no-video\"")
	f.DurationVar(&opts.HandshakeTimeout, "handshake-timeout", 0, "Give up on a peer not connected within this long")
}
