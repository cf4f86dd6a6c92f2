package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pulsefeed/pulsefeed/internal/api"
	"github.com/pulsefeed/pulsefeed/internal/app"
	"github.com/pulsefeed/pulsefeed/internal/config"
	"github.com/pulsefeed/pulsefeed/internal/feed"
	"github.com/pulsefeed/pulsefeed/internal/realtime"
)

func main() {
	wsURL := flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL of the pulsefeed backend")
	token := flag.String("token", "", "Auth token (if backend requires it)")
	configPath := flag.String("config", "", "Optional config file")
	targetType := flag.String("target-type", "", "Subscription target type (post or activity)")
	targetID := flag.String("target-id", "", "Subscription target ID")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *token == "" {
		*token = cfg.Server.Token
	}
	if *targetType == "" {
		*targetType = cfg.Subscribe.TargetType
	}
	if *targetID == "" {
		*targetID = cfg.Subscribe.TargetID
	}

	target := feed.Target{Type: feed.TargetType(*targetType), ID: *targetID}
	if !target.Valid() {
		fmt.Fprintln(os.Stderr, "A target is required: -target-type and -target-id (or config)")
		os.Exit(1)
	}

	httpBase, probeAddr := deriveHTTPBase(*wsURL)
	client := api.NewClient(httpBase, *token)
	transport := realtime.NewWSTransport(*wsURL, *token)
	watcher := realtime.NewNetWatcher(realtime.DialProbe(probeAddr, 0), cfg.Subscribe.ProbeInterval)

	bridge := app.NewBridge()
	orch := realtime.New(transport, realtime.GateFunc(client.CheckSession), realtime.Options{
		Target:       target,
		Enabled:      true,
		OnInsert:     bridge.OnInsert,
		OnRemove:     bridge.OnRemove,
		OnTransition: bridge.OnTransition,
		PollFetch:    pollFetch(client, target),
		PollInterval: cfg.Subscribe.PollInterval,
		RetryBase:    cfg.Subscribe.RetryBase,
		RetryMax:     cfg.Subscribe.RetryMax,
	})
	orch.Bind(watcher)
	watcher.Start()
	defer watcher.Stop()

	m := app.New(orch, bridge, target)
	p := tea.NewProgram(m, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// pollFetch re-reads current server state for the target while degraded.
func pollFetch(client *api.Client, target feed.Target) realtime.FetchFunc {
	return func(ctx context.Context) error {
		var err error
		if target.Type == feed.TargetActivity {
			_, err = client.GetNotifications(ctx, target.ID)
		} else {
			_, err = client.GetLikes(ctx, target.ID)
		}
		return err
	}
}

// deriveHTTPBase converts ws://host:port/ws → ("http://host:port", "host:port").
func deriveHTTPBase(wsURL string) (string, string) {
	u, err := url.Parse(wsURL)
	if err != nil || u.Host == "" {
		return "http://127.0.0.1:8080", "127.0.0.1:8080"
	}
	scheme := "http"
	if strings.HasPrefix(u.Scheme, "wss") {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, u.Host), u.Host
}
