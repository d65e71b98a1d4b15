package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/realxtend/cloudrender/config"
	"github.com/realxtend/cloudrender/internal/protocol"
	"github.com/realxtend/cloudrender/internal/rtc"
	"github.com/realxtend/cloudrender/internal/session"
)

func main() {
	cfg := config.Load()

	var (
		rendererRole = flag.Bool("renderer", false, "run as a cloud renderer")
		clientRole   = flag.Bool("client", false, "run as a rendering client")
		host         = flag.String("host", cfg.Peer.ServiceHost, "relay websocket endpoint")
		roomID       = flag.String("room", cfg.Peer.RoomID, "room to join (client only)")
		webCamera    = flag.Bool("send-web-camera", cfg.Peer.SendWebCamera, "send the local camera instead of the rendered view (renderer only)")
		privateRoom  = flag.Bool("private-room", cfg.Peer.CreatePrivateRoom, "request a room closed to auto-assignment (renderer only)")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if *rendererRole == *clientRole {
		log.Error("exactly one of -renderer or -client is required")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	transports := session.NewWSTransportFactory()
	engines := rtc.NewPionEngineFactory(cfg.Peer.ICEServers, log)

	if *rendererRole {
		renderer := session.NewRenderer(transports, engines, session.RendererOptions{
			SendWebCamera:     *webCamera,
			CreatePrivateRoom: *privateRoom,
			InputEvent: func(peerID, kind string, payload protocol.Document) {
				log.Info("input event", "peer", peerID, "kind", kind)
			},
			ApplicationMessage: func(peerID string, payload protocol.Document) {
				log.Info("application message", "peer", peerID)
			},
		}, log)
		renderer.Run(ctx, *host)
		return
	}

	client := session.NewClient(transports, engines, session.ClientOptions{
		RoomID: *roomID,
		ApplicationMessage: func(payload protocol.Document) {
			log.Info("application message")
		},
	}, log)
	client.Run(ctx, *host)
}
