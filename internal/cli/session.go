package cli

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BioHazard786/syncwave/internal/acquire"
	"github.com/BioHazard786/syncwave/internal/config"
	"github.com/BioHazard786/syncwave/internal/logging"
	"github.com/BioHazard786/syncwave/internal/peer"
	"github.com/BioHazard786/syncwave/internal/player"
	"github.com/BioHazard786/syncwave/internal/sigclient"
	"github.com/BioHazard786/syncwave/internal/signaling"
	"github.com/BioHazard786/syncwave/internal/transfer"
	"github.com/BioHazard786/syncwave/internal/ui"
)

const relayReplyTimeout = 15 * time.Second

// runRoom connects to the relay, creates the room (roomID empty) or joins
// it, and runs the room screen until the user leaves.
func runRoom(ctx context.Context, cfg *config.Config, roomID, sharePath string) error {
	logger, err := logging.NewCLI()
	if err != nil {
		return transfer.NewError("init logger", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stopSpinner := ui.RunConnectionSpinner("Connecting to server...")
	client := sigclient.NewClient(cfg.WebSocketURL, uint64(cfg.MaxPayloadBytes), logger)
	err = client.Connect(ctx)
	stopSpinner()
	if err != nil {
		return transfer.NewError("connect to server", err)
	}
	defer client.Close()

	cmds := &commands{relay: client, sharePath: sharePath, maxPayload: cfg.MaxPayloadBytes}
	screen := ui.NewRoomScreen("syncwave", cmds.handle)
	cmds.screen = screen

	sink := player.New(cfg.OutputDir, cfg.PlayerCommand, logger)
	defer sink.Stop()

	node := peer.NewNode(peer.Config{
		Signaler:         client,
		Factory:          peer.NewPionFactory(peer.ICEConfigFrom(cfg)),
		Player:           sink,
		Observer:         screen,
		HandshakeTimeout: cfg.HandshakeTimeout,
		MaxPayloadBytes:  uint64(cfg.MaxPayloadBytes),
		Logger:           logger,
	})
	cmds.node = node
	defer node.Close()
	go node.Run(ctx)

	handler := sigclient.NewHandler(client, logger)
	go handler.Start(node)

	self, err := await(handler, handler.Connected, "connect")
	if err != nil {
		return err
	}
	logger.Debug("connected", zap.String("member", self))

	if roomID == "" {
		if roomID, err = createRoom(client, handler); err != nil {
			return err
		}
		ui.RenderRoomInfo(roomID, cfg.GetRoomLink(roomID))
	} else {
		members, err := joinRoom(client, handler, roomID)
		if err != nil {
			return err
		}
		ui.PrintSuccessf("Joined room %s with %d other member(s)", roomID, len(members))
	}

	screen.SetTitle("room " + roomID)
	if sharePath != "" {
		screen.Println(ui.MutedStyle.Render("Type /share to send " + sharePath + " to everyone."))
	}
	go watchRelay(ctx, handler, node, screen)

	if err := screen.Run(); err != nil {
		return transfer.NewError("room screen", err)
	}
	return nil
}

func createRoom(client *sigclient.Client, handler *sigclient.Handler) (string, error) {
	if err := client.CreateRoom(); err != nil {
		return "", transfer.NewError("create room", err)
	}
	return await(handler, handler.RoomCreated, "create room")
}

func joinRoom(client *sigclient.Client, handler *sigclient.Handler, roomID string) ([]string, error) {
	stopSpinner := ui.RunWaitingSpinner("Joining room " + roomID + "...")
	defer stopSpinner()

	if err := client.JoinRoom(roomID); err != nil {
		return nil, transfer.NewError("join room", err)
	}

	select {
	case members := <-handler.RoomJoined:
		return members, nil
	case <-handler.NotFound:
		return nil, fmt.Errorf("room %s: %w", roomID, signaling.ErrRoomNotFound)
	case msg := <-handler.Error:
		return nil, transfer.WrapError("join room", transfer.ErrSignalingError, msg)
	case <-handler.Disconnected:
		return nil, transfer.NewError("join room", transfer.ErrChannelClosed)
	case <-time.After(relayReplyTimeout):
		return nil, transfer.NewError("join room", transfer.ErrTimeout)
	}
}

// await waits for the relay's answer to op on ch.
func await[T any](handler *sigclient.Handler, ch <-chan T, op string) (T, error) {
	var zero T
	select {
	case v := <-ch:
		return v, nil
	case msg := <-handler.Error:
		return zero, transfer.WrapError(op, transfer.ErrSignalingError, msg)
	case <-handler.Disconnected:
		return zero, transfer.NewError(op, transfer.ErrChannelClosed)
	case <-time.After(relayReplyTimeout):
		return zero, transfer.NewError(op, transfer.ErrTimeout)
	}
}

// watchRelay turns download outcomes into distributions and status lines.
func watchRelay(ctx context.Context, handler *sigclient.Handler, node *peer.Node, screen *ui.RoomScreen) {
	for {
		select {
		case <-ctx.Done():
			return

		case title := <-handler.DownloadStart:
			screen.Status(fmt.Sprintf("Downloading %s...", title))

		case track := <-handler.Downloaded:
			node.Distribute(track.Title, track.Audio)

		case msg := <-handler.DownloadError:
			if msg == "" {
				msg = acquire.UserMessage(acquire.ErrFetchFailed)
			}
			screen.Status(msg)

		case msg := <-handler.Error:
			screen.Status(msg)

		case <-handler.Disconnected:
			screen.Status("Disconnected from server.")
			return
		}
	}
}
