// EMPI Dialog Recorder
//
// Interactive conversation driver: reads user lines from stdin, asks a
// chat provider for replies, and records both sides as hash-chained
// protocol envelopes.
//
// Usage:
//
//	go run ./cmd/dialog-recorder -echo                    # No model, echo replies
//	go run ./cmd/dialog-recorder -provider openai         # Real model via gollm
//	go run ./cmd/dialog-recorder -db dialog.db -session s1
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/empi-systems/agentcore/commbus"
	"github.com/empi-systems/agentcore/coreengine/config"
	"github.com/empi-systems/agentcore/dialog"
)

// stdLogger writes leveled lifecycle logs via the standard library log.
type stdLogger struct{}

func (l *stdLogger) Info(msg string, keysAndValues ...any) {
	log.Printf("[INFO] %s %v", msg, keysAndValues)
}

func (l *stdLogger) Error(msg string, keysAndValues ...any) {
	log.Printf("[ERROR] %s %v", msg, keysAndValues)
}

func main() {
	sessionID := flag.String("session", "", "session id (generated when empty)")
	dbPath := flag.String("db", "", "SQLite database path (in-memory store when empty)")
	providerName := flag.String("provider", "", "chat provider (openai, anthropic, ollama, ...)")
	model := flag.String("model", "", "model override for the provider")
	echo := flag.Bool("echo", false, "run without a model, echoing user input")
	output := flag.String("output", "", "write the full history envelope to this file on exit")
	flag.Parse()

	logger := &stdLogger{}
	cfg := config.GetCoreConfig()

	// Pick the store.
	var store dialog.Store
	if *dbPath != "" {
		s, err := dialog.OpenSQLite(*dbPath)
		if err != nil {
			log.Fatalf("Failed to open store: %v", err)
		}
		store = s
	} else {
		store = dialog.NewMemoryStore()
	}
	defer store.Close()

	// Pick the provider.
	var provider dialog.ChatProvider
	switch {
	case *echo:
		provider = dialog.EchoProvider{}
	case *providerName != "":
		opts := []dialog.GollmOption{}
		if *model != "" {
			opts = append(opts, dialog.WithModel(*model))
		}
		p, err := dialog.NewGollmProvider(*providerName, opts...)
		if err != nil {
			log.Fatalf("Failed to create provider: %v", err)
		}
		provider = p
	default:
		fmt.Fprintln(os.Stderr, "Error: either -provider or -echo is required")
		os.Exit(1)
	}

	// Every recorded turn flows over the bus; the clear command comes
	// back in over it.
	bus := commbus.NewInMemoryCommBus(time.Duration(cfg.DelegateTimeout) * time.Second)
	bus.Subscribe("DialogMessageRecorded", func(ctx context.Context, msg commbus.Message) (any, error) {
		event := msg.(*commbus.DialogMessageRecorded)
		logger.Info("turn_recorded",
			"role", event.Role, "message_id", event.MessageID, "length", event.Length)
		return nil, nil
	})

	recorder, err := dialog.NewRecorder(*sessionID, store,
		dialog.WithHistoryLimit(cfg.DialogHistoryLimit),
		dialog.WithBus(bus))
	if err != nil {
		log.Fatalf("Failed to create recorder: %v", err)
	}

	err = commbus.RegisterDialogClearHandler(bus, func(ctx context.Context, session *string) error {
		if session == nil || *session == recorder.SessionID() {
			return recorder.Clear(ctx)
		}
		return store.Clear(ctx, *session)
	})
	if err != nil {
		log.Fatalf("Failed to register clear handler: %v", err)
	}

	logger.Info("dialog_recorder_starting",
		"session", recorder.SessionID(),
		"store", store.Name(),
		"provider", provider.Name())

	fmt.Println("=========================================")
	fmt.Println("EMPI Dialog Recorder")
	fmt.Println("Session ID:", recorder.SessionID())
	fmt.Println("Store:", store.Name())
	fmt.Println("Provider:", provider.Name())
	fmt.Println("=========================================")
	fmt.Println()
	fmt.Println("Ready for conversation. Type 'quit' to exit, '/clear' to drop history.")

	// Cancel in-flight provider calls on Ctrl+C and fall out of the
	// loop at the next prompt.
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutdown_signal_received", "signal", sig.String())
		cancel()
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for ctx.Err() == nil {
		fmt.Print("\n[User] > ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line == "quit" || line == "exit" {
			break
		}
		if line == "/clear" {
			session := recorder.SessionID()
			if err := bus.Send(ctx, &commbus.ClearDialogSession{SessionID: &session}); err != nil {
				logger.Error("clear_failed", "error", err)
			} else {
				fmt.Println("--- [history cleared]")
			}
			continue
		}

		reply, err := recorder.Exchange(ctx, provider, line)
		if err != nil {
			logger.Error("exchange_failed", "error", err)
			continue
		}
		fmt.Println("[Assistant] >", reply)
		fmt.Printf("--- [%d message pairs recorded]\n", recorder.MessageCount()/2)
	}

	if *output != "" {
		if err := saveHistory(recorder, *output); err != nil {
			logger.Error("history_save_failed", "error", err)
		} else {
			fmt.Println("History saved to:", *output)
		}
	}

	logger.Info("dialog_recorder_stopped",
		"session", recorder.SessionID(),
		"messages", recorder.MessageCount())
}

// saveHistory writes the full history envelope and a flat simple view
// next to it.
func saveHistory(recorder *dialog.Recorder, path string) error {
	ctx := context.Background()

	full, err := recorder.FullHistory(ctx)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(full.ToMap(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return err
	}

	simple, err := recorder.SimpleHistory(ctx)
	if err != nil {
		return err
	}
	raw, err = json.MarshalIndent(simple, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(simpleHistoryPath(path), raw, 0o644)
}

// simpleHistoryPath derives the flat view's file name next to the
// full history file, keeping any directory prefix intact.
func simpleHistoryPath(path string) string {
	return filepath.Join(filepath.Dir(path), "simple_"+filepath.Base(path))
}
