// Command p2pd is a demo node: it loads a TOML config, brings up a
// Service with the secio handshake, yamux multiplexing and snappy
// codec collaborators wired in, and runs until interrupted.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"

	"github.com/nodenet/p2p/codec"
	"github.com/nodenet/p2p/muxsession"
	"github.com/nodenet/p2p/p2p"
	"github.com/nodenet/p2p/p2plog"
	"github.com/nodenet/p2p/secio"
)

var pingProtocolID p2p.ProtocolID = 1

func main() {
	app := &cli.App{
		Name:  "p2pd",
		Usage: "run a peer-to-peer networking node",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to a TOML config file"},
			&cli.StringSliceFlag{Name: "listen", Usage: "TCP address to listen on, repeatable"},
			&cli.StringSliceFlag{Name: "dial", Usage: "TCP address to dial at startup, repeatable"},
			&cli.BoolFlag{Name: "forever", Usage: "keep the node alive with no sessions"},
			&cli.BoolFlag{Name: "insecure", Usage: "disable the handshake (plaintext sessions)"},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "trace|debug|info|warn|error"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "p2pd:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	p2plog.SetLevel(parseLevel(c.String("log-level")))
	log := p2plog.Root()

	var cfg p2p.Config
	if path := c.String("config"); path != "" {
		loaded, err := p2p.LoadConfig(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = *loaded
	}
	cfg.Listen = append(cfg.Listen, c.StringSlice("listen")...)
	cfg.Dial = append(cfg.Dial, c.StringSlice("dial")...)
	cfg.Forever = cfg.Forever || c.Bool("forever")

	var handshaker p2p.Handshaker
	if !c.Bool("insecure") {
		kp, err := secio.NewKeypair()
		if err != nil {
			return fmt.Errorf("generating identity key: %w", err)
		}
		handshaker = &secio.Handshaker{Static: kp, ClientVersion: "p2pd/0.1"}
	}

	protocols := []p2p.ProtocolMeta{
		{
			ID:                pingProtocolID,
			Name:              "ping",
			SupportedVersions: []string{"1.0.0"},
			Codec:             codec.Snappy{},
			GlobalHandler:     func() p2p.GlobalHandler { return &pingHandler{log: log} },
		},
	}
	svc := p2p.NewService(protocols, loggingHandle{log: log}, p2p.ServiceConfig{
		Forever:    cfg.Forever,
		Crypto:     handshaker,
		NewSession: muxsession.New(),
		Log:        log,
	})

	if err := cfg.Apply(svc); err != nil {
		return fmt.Errorf("applying config: %w", err)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Info("Shutting down")
		svc.Shutdown()
	}()

	svc.Run()
	return nil
}

func parseLevel(s string) p2plog.Level {
	switch s {
	case "trace":
		return p2plog.LevelTrace
	case "debug":
		return p2plog.LevelDebug
	case "warn":
		return p2plog.LevelWarn
	case "error":
		return p2plog.LevelError
	default:
		return p2plog.LevelInfo
	}
}

// loggingHandle is the demo's ServiceHandle: it just logs every
// lifecycle event.
type loggingHandle struct {
	log p2plog.Logger
}

func (h loggingHandle) HandleError(ctx *p2p.ServiceContext, ev p2p.ServiceEvent) {
	switch e := ev.(type) {
	case p2p.DialerError:
		h.log.Warn("Dial failed", "addr", e.Addr, "err", e.Err)
	case p2p.ListenError:
		h.log.Error("Listener failed", "addr", e.Addr, "err", e.Err)
	}
}

func (h loggingHandle) HandleEvent(ctx *p2p.ServiceContext, ev p2p.ServiceEvent) {
	switch e := ev.(type) {
	case p2p.SessionOpenEvent:
		h.log.Info("Session open", "id", e.SessionID, "addr", e.Addr, "dir", e.Direction)
	case p2p.SessionCloseEvent:
		h.log.Info("Session closed", "id", e.SessionID)
	}
}

// pingHandler logs every inbound ping message it receives.
type pingHandler struct {
	log p2plog.Logger
}

func (h *pingHandler) Init(ctx *p2p.ServiceContext) {}

func (h *pingHandler) Connected(ctx *p2p.ServiceContext, sid p2p.SessionID, addr net.Addr, dir p2p.Direction, key p2p.PublicKey, version string) {
	h.log.Debug("Ping protocol open", "session", sid, "version", version)
}

func (h *pingHandler) Received(ctx *p2p.ServiceContext, msg p2p.ReceivedMessage) {
	h.log.Info("Ping received", "session", msg.SessionID, "bytes", len(msg.Data))
}

func (h *pingHandler) Disconnected(ctx *p2p.ServiceContext, sid p2p.SessionID) {
	h.log.Debug("Ping protocol closed", "session", sid)
}

func (h *pingHandler) Notify(ctx *p2p.ServiceContext, token uint64) {}
