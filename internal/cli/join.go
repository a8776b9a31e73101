package cli

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/syncwave/internal/transfer"
)

var joinCmd = &cobra.Command{
	Use:     "join <room-id|url>",
	Aliases: []string{"j"},
	Short:   "Join an existing room",
	Long: `Join a room by its ID or by the link the host shared.

Examples:
  syncwave join K7QX
  syncwave join https://wave.example.com/r/K7QX
  syncwave join k7qx --relay`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID, err := parseRoomInput(args[0])
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runRoom(cmd.Context(), cfg, roomID, "")
	},
}

// parseRoomInput accepts a bare room ID in any case or a room link.
func parseRoomInput(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("room ID cannot be empty")
	}

	if strings.Contains(input, "://") || strings.Contains(input, "/") {
		roomID, err := extractRoomIDFromURL(input)
		if err != nil {
			return "", err
		}
		input = roomID
	}
	return strings.ToUpper(input), nil
}

func extractRoomIDFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", transfer.NewError("parse URL", err)
	}

	parts := strings.Split(strings.TrimSuffix(u.Path, "/"), "/")
	for i, part := range parts {
		if part == "r" && i+1 < len(parts) && parts[i+1] != "" {
			return parts[i+1], nil
		}
	}
	return "", fmt.Errorf("could not extract room ID from URL: %s", raw)
}

func init() {
	rootCmd.AddCommand(joinCmd)
}
