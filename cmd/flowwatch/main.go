// flowwatch tails the workflow stream and prints updates, logs and
// notifications to the console.
//
// Usage:
//
//	go run ./cmd/flowwatch --url wss://flows.example.com --token $FLOW_TOKEN --task abc
//	go run ./cmd/flowwatch --config configs/recorder.yaml --topics user:u1
//
// With --task the process exits once the task reaches a terminal status,
// unless --follow is set.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rickgao/flowstream/internal/config"
	"github.com/rickgao/flowstream/internal/connection"
	"github.com/rickgao/flowstream/internal/envelope"
	"github.com/rickgao/flowstream/internal/router"
	"github.com/rickgao/flowstream/internal/stream"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	url := flag.String("url", "", "stream base URL, overrides config")
	token := flag.String("token", os.Getenv("FLOW_TOKEN"), "bearer token, overrides config")
	cookie := flag.String("cookie", "", "session cookie, overrides config")
	task := flag.String("task", "", "task id to follow")
	topics := flag.String("topics", "", "comma-separated extra topics")
	follow := flag.Bool("follow", false, "keep running after the task completes")
	verbose := flag.Bool("verbose", false, "print full message JSON")
	logLevel := flag.String("log-level", "info", "debug, info, warn or error")
	flag.Parse()

	logger := config.LogConfig{Level: *logLevel, Format: "text"}.NewLogger(os.Stderr)

	cfg, err := managerConfig(*configPath, *url, *token, *cookie)
	if err != nil {
		logger.Error("failed to build configuration", "error", err)
		os.Exit(1)
	}

	wanted := splitTopics(*topics)
	if *task == "" && len(wanted) == 0 {
		logger.Error("nothing to watch: set --task or --topics")
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	client := stream.New(cfg, logger)
	p := printer{verbose: *verbose}

	client.OnHistoryUpdate(p.history)
	client.OnNewTask(p.notification)
	client.OnAuxLog(p.auxLog)
	client.OnAuxComplete(p.auxComplete)

	if *task != "" {
		client.OnTaskLog(*task, p.log)
		client.OnTaskUpdate(*task, func(u router.TaskUpdate) {
			if u.IsComplete && !*follow {
				logger.Info("task finished", "task", *task, "status", u.Update.Status)
				cancel()
			}
		})
	}

	connectCtx, connectCancel := context.WithTimeout(ctx, cfg.ConnectTimeout+time.Second)
	if len(wanted) > 0 {
		err = client.Connect(connectCtx, wanted...)
	}
	if err == nil && *task != "" {
		err = client.ConnectToTask(connectCtx, *task)
	}
	connectCancel()
	if err != nil {
		logger.Error("failed to connect", "url", cfg.URL, "error", err)
		os.Exit(1)
	}

	logger.Info("streaming started - press Ctrl+C to stop",
		"client_id", client.Identity(),
		"task", *task,
		"topics", wanted,
	)

	// Stats printer
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s := client.Stats()
				logger.Debug("stats",
					"state", s.Connection.State,
					"confirmed", s.Connection.Confirmed,
					"pending", s.Connection.Pending,
					"received", s.Router.MessagesReceived,
					"routed", s.Router.MessagesRouted,
					"unknown", s.Router.UnknownMessages,
					"handler_faults", s.Router.HandlerFaults,
				)
			}
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := client.Disconnect(shutdownCtx); err != nil {
		logger.Warn("disconnect failed", "error", err)
	}
}

// managerConfig starts from the config file when one is given, otherwise
// from defaults, and applies the command-line overrides.
func managerConfig(path, url, token, cookie string) (connection.ManagerConfig, error) {
	cfg := connection.DefaultManagerConfig()

	if path != "" {
		fileCfg, err := config.LoadWithDefaults(path)
		if err != nil {
			return cfg, err
		}
		if token != "" || cookie != "" {
			fileCfg.Auth = config.AuthConfig{Token: token, Cookie: cookie}
		}
		cfg, err = stream.ManagerConfig(fileCfg, "flowwatch")
		if err != nil {
			return cfg, err
		}
	} else {
		cfg.Header = stream.Header(token, cookie, "flowwatch")
	}

	if url != "" {
		cfg.URL = url
	}
	if cfg.URL == "" {
		return cfg, fmt.Errorf("stream url is required (--url or stream.url)")
	}
	return cfg, nil
}

func splitTopics(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

type printer struct {
	verbose bool
}

func (p printer) dump(tag string, v any) bool {
	if !p.verbose {
		return false
	}
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Printf("[%s] %s\n", tag, data)
	return true
}

func (p printer) history(h envelope.HistoryUpdate) {
	if p.dump("UPDATE", h) {
		return
	}
	line := fmt.Sprintf("[UPDATE] task=%s status=%s workflow=%s", h.ExecutionID, h.Status, h.WorkflowName)
	if h.DurationMs != nil {
		line += fmt.Sprintf(" duration=%s", time.Duration(*h.DurationMs*float64(time.Millisecond)))
	}
	if h.IsComplete {
		line += " (complete)"
	}
	fmt.Println(line)
}

func (p printer) log(l envelope.ExecutionLog) {
	if p.dump("LOG", l) {
		return
	}
	fmt.Printf("[LOG] task=%s level=%s %s\n", l.TaskID(), l.Level, l.Message)
}

func (p printer) notification(n envelope.Notification) {
	if p.dump("NOTIFY", n) {
		return
	}
	fmt.Printf("[NOTIFY] level=%s title=%q task=%s %s\n", n.Level, n.Title, n.ExecutionID, n.Message)
}

func (p printer) auxLog(l envelope.AuxLog) {
	if p.dump("AUX", l) {
		return
	}
	fmt.Printf("[AUX] level=%s %s\n", l.Level, l.Message)
}

func (p printer) auxComplete(c envelope.AuxComplete) {
	if p.dump("AUX DONE", c) {
		return
	}
	fmt.Printf("[AUX DONE] status=%s %s\n", c.Status, c.Message)
}
