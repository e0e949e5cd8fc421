package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"chatgo/internal/api"
	"chatgo/internal/app"
	"chatgo/internal/config"
	"chatgo/internal/domain"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, api.UserMessage(err, err.Error()))
		slog.Error("run chatgo", "error", err)
		os.Exit(1)
	}
}

func run() error {
	server := flag.String("server", "", "REST API base URL, e.g. http://localhost:5001/api")
	pushURL := flag.String("push", "", "push channel websocket URL (default derived from --server)")
	email := flag.String("email", "", "login email (session check only when empty)")
	password := flag.String("password", "", "login password")
	peerID := flag.String("peer", "", "peer id to open a conversation with")
	send := flag.String("send", "", "message text to send after selecting the peer")
	listenFor := flag.Duration("listen-for", 0, "keep printing presence/message events, e.g. 30s")
	logLevel := flag.String("log-level", "", "log level override (debug, info, warn, error)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(app.VersionString())

		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	paths, err := app.ResolvePaths()
	if err != nil {
		return fmt.Errorf("resolve paths: %w", err)
	}
	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if strings.TrimSpace(*server) != "" {
		cfg.Server.APIBaseURL = strings.TrimSpace(*server)
		cfg.Server.PushURL = ""
	}
	if strings.TrimSpace(*pushURL) != "" {
		cfg.Server.PushURL = strings.TrimSpace(*pushURL)
	}
	if strings.TrimSpace(*logLevel) != "" {
		cfg.Logging.Level = strings.TrimSpace(*logLevel)
	}
	cfg.Logging.LogToFile = false
	cfg.FillMissingDefaults()
	if strings.TrimSpace(cfg.Server.APIBaseURL) == "" {
		return errors.New("missing server url: set --server or save it in config")
	}

	rt, err := app.InitializeWithConfig(ctx, paths, cfg)
	if err != nil {
		return fmt.Errorf("initialize runtime: %w", err)
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			slog.Warn("close runtime", "error", closeErr)
		}
	}()
	logger := rt.LogManager.Logger("cli")
	logger.Info("starting chatgo", "version", app.BuildVersion(), "server", cfg.Server.APIBaseURL)

	if err := rt.Session.CheckSession(ctx); err != nil {
		if api.IsNetworkFailure(err) {
			return fmt.Errorf("server unreachable: %w", err)
		}
		logger.Warn("session check failed", "error", err)
	}
	if !rt.Session.IsAuthenticated() && *email != "" {
		if err := rt.Session.Login(ctx, api.Credentials{Email: *email, Password: *password}); err != nil {
			return err
		}
	}
	if !rt.Session.IsAuthenticated() {
		return errors.New("not authenticated: pass --email and --password")
	}
	identity := rt.Session.Identity()
	fmt.Printf("logged in as %s <%s>\n", identity.DisplayName, identity.Email)

	if err := rt.Conversations.LoadPeers(ctx); err != nil {
		return err
	}
	peers := rt.Conversations.Peers()
	fmt.Printf("%d contacts, %d online\n", len(peers), rt.Presence.OnlineCount())
	for _, peer := range peers {
		marker := " "
		if rt.Presence.IsOnline(peer.ID) {
			marker = "*"
		}
		fmt.Printf("  %s %s %s\n", marker, peer.ID, peer.DisplayName)
	}

	target := strings.TrimSpace(*peerID)
	if target == "" {
		target = cfg.UI.LastSelectedPeer
	}
	if target != "" {
		peer, ok := rt.Conversations.PeerByID(target)
		if !ok {
			return fmt.Errorf("unknown peer id: %s", target)
		}
		if err := rt.Conversations.SelectPeer(ctx, &peer); err != nil {
			return err
		}
		rt.Config.UI.LastSelectedPeer = peer.ID
		if err := rt.SaveConfig(); err != nil {
			logger.Warn("save config", "error", err)
		}
		printHistory(rt.Conversations.History(), identity.ID)

		if strings.TrimSpace(*send) != "" {
			msg, err := rt.Conversations.SendMessage(ctx, domain.Draft{Text: *send})
			if err != nil {
				return err
			}
			fmt.Printf("sent %s\n", msg.ID)
		}
	}

	if *listenFor > 0 {
		listen(ctx, rt, identity.ID, *listenFor)
	}

	return nil
}

func listen(ctx context.Context, rt *app.Runtime, selfID string, duration time.Duration) {
	deadline := time.NewTimer(duration)
	defer deadline.Stop()
	lastPrinted := len(rt.Conversations.History())

	fmt.Printf("listening for %s...\n", duration)
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-rt.Presence.Changes():
			fmt.Printf("online now: %s\n", strings.Join(rt.Presence.OnlineIDs(), ", "))
		case <-rt.Conversations.Changes():
			history := rt.Conversations.History()
			if len(history) > lastPrinted {
				printHistory(history[lastPrinted:], selfID)
			}
			lastPrinted = len(history)
		}
	}
}

func printHistory(history []domain.Message, selfID string) {
	for _, msg := range history {
		direction := "<-"
		if msg.SenderID == selfID {
			direction = "->"
		}
		text := msg.Text
		if text == "" && msg.ImageRef != "" {
			text = "[image]"
		}
		fmt.Printf("%s %s %s\n", msg.CreatedAt.Format("2006-01-02 15:04"), direction, text)
	}
}
