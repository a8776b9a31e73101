package cli

import (
	"github.com/spf13/cobra"
)

var flagHostFile string

var hostCmd = &cobra.Command{
	Use:     "host",
	Aliases: []string{"h"},
	Short:   "Create a room and invite others",
	Long: `Create a room on the signaling server and wait for peers to join.

Examples:
  syncwave host
  syncwave host --file song.m4a
  syncwave host --server wave.example.com --player "mpv --no-video"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runRoom(cmd.Context(), cfg, "", flagHostFile)
	},
}

func init() {
	rootCmd.AddCommand(hostCmd)
	hostCmd.Flags().StringVarP(&flagHostFile, "file", "f", "", "Local audio file to share with /share")
}
