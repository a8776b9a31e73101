package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BioHazard786/syncwave/internal/peer"
	"github.com/BioHazard786/syncwave/internal/ui"
	"github.com/BioHazard786/syncwave/internal/utils"
)

const helpText = `/download <url>  fetch a song on the server and share it
/share [path]    share a local file (defaults to --file)
/play            start playback everywhere without waiting
/peers           list peer sessions
/quit            leave the room
anything else is sent as chat`

type mesh interface {
	Distribute(title string, payload []byte)
	Chat(text string)
	PlayNow()
	Peers() []peer.PeerInfo
}

type downloader interface {
	RequestDownload(reference string) error
}

type screen interface {
	Status(text string)
	Println(text string)
	Say(text string)
	Quit()
}

// commands interprets lines typed into the room screen.
type commands struct {
	node       mesh
	relay      downloader
	screen     screen
	sharePath  string
	maxPayload int64
}

func splitCommand(line string) (name, arg string) {
	if !strings.HasPrefix(line, "/") {
		return "", line
	}
	name, arg, _ = strings.Cut(line, " ")
	return strings.ToLower(name), strings.TrimSpace(arg)
}

func (c *commands) handle(line string) {
	name, arg := splitCommand(line)
	switch name {
	case "":
		c.node.Chat(arg)
		c.screen.Say(arg)

	case "/download", "/dl":
		if arg == "" {
			c.screen.Status("Usage: /download <url>")
			return
		}
		if err := c.relay.RequestDownload(arg); err != nil {
			c.screen.Status("Could not reach the server.")
		}

	case "/share":
		c.share(arg)

	case "/play":
		c.node.PlayNow()

	case "/peers":
		c.screen.Println(ui.PeersView(c.node.Peers()))

	case "/help":
		c.screen.Println(helpText)

	case "/quit", "/leave", "/exit":
		c.screen.Quit()

	default:
		c.screen.Status(fmt.Sprintf("Unknown command %s. Try /help.", name))
	}
}

func (c *commands) share(path string) {
	if path == "" {
		path = c.sharePath
	}
	if path == "" {
		c.screen.Status("Usage: /share <path>")
		return
	}

	info, err := os.Stat(path)
	switch {
	case err != nil:
		c.screen.Status("Cannot open " + filepath.Base(path) + ".")
		return
	case info.IsDir():
		c.screen.Status(filepath.Base(path) + " is a directory.")
		return
	case c.maxPayload > 0 && info.Size() > c.maxPayload:
		c.screen.Status(fmt.Sprintf("%s is larger than %s.", filepath.Base(path), utils.FormatSize(c.maxPayload)))
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		c.screen.Status("Cannot read " + filepath.Base(path) + ".")
		return
	}
	c.node.Distribute(filepath.Base(path), data)
}
