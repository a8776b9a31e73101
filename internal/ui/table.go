package ui

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/BioHazard786/syncwave/internal/peer"
	"github.com/BioHazard786/syncwave/internal/utils"
)

// PeersView renders the participant's sessions as a table.
func PeersView(peers []peer.PeerInfo) string {
	if len(peers) == 0 {
		return MutedStyle.Render("No peers yet.")
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Header = text.FormatDefault
	t.Style().Format.Footer = text.FormatDefault
	t.Style().Color.Header = text.Colors{text.Bold, text.FgHiMagenta}
	t.AppendHeader(table.Row{"#", "Peer", "State", "Role", "In pool"})

	ready := 0
	for i, p := range peers {
		role := "responder"
		if p.Initiator {
			role = "initiator"
		}
		pooled := "no"
		if p.Registered {
			pooled = "yes"
			ready++
		}
		t.AppendRow(table.Row{i + 1, utils.TruncateString(p.Member, 12), p.State.String(), role, pooled})
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d connected", ready), "", "", ""})
	return t.Render()
}

// RoomInfoView is the box shown to the host after the room is created.
func RoomInfoView(roomID, roomLink string) string {
	content := fmt.Sprintf("%s Room Created!\n\n%s Room ID:    %s\n%s Room Link:  %s",
		IconSuccess,
		IconCopy, BoldStyle.Foreground(Primary).Render(roomID),
		IconWeb, MutedStyle.Render(roomLink),
	)
	return RoomBoxStyle.Render(content)
}

func RenderRoomInfo(roomID, roomLink string) {
	fmt.Println(RoomInfoView(roomID, roomLink))
}
