/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"healthnet/pkg/bus"
	"healthnet/pkg/config"
	"healthnet/pkg/logger"
	"healthnet/pkg/offline"
	"healthnet/pkg/realtime"
	"healthnet/pkg/ui/chat"

	"github.com/spf13/cobra"
)

var (
	promptText string
	plainChat  bool
)

// chatCmd represents the chat command
var chatCmd = &cobra.Command{
	Use:   "chat [prompt]",
	Short: "Ask the network assistant a question or start an interactive chat",
	Long:  "Connects to the HealthNetAI backend over a websocket and sends one question or starts an interactive chat. The connection is retried automatically when it drops.",
	Run: func(_ *cobra.Command, args []string) {
		prompt := resolvePrompt(args)

		cfg, err := config.LoadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		dataDir, err := offline.ResolveDataDir(cfg.Offline.DataDir)
		if err != nil {
			fmt.Printf("failed to prepare data directory: %v\n", err)
			return
		}

		// The TUI owns the terminal, so logs go to a file.
		appLogger, logFile, err := logger.NewFile(cfg.Logging, offline.ChatLogPath(dataDir))
		if err != nil {
			fmt.Printf("failed to initialize logger: %v\n", err)
			return
		}
		defer logFile.Close()
		slog.SetDefault(appLogger)
		log := slog.Default().With("component", "cmd.chat")

		endpoint, err := realtime.Endpoint(cfg.Backend.URL, cfg.Session.ChatPath)
		if err != nil {
			fmt.Printf("invalid backend url: %v\n", err)
			return
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		eventBus := bus.New()
		defer eventBus.Close()
		go bus.Observe(ctx, eventBus, log)

		session, err := realtime.NewSession(realtime.Options{
			Endpoint:       endpoint,
			ReconnectDelay: time.Duration(cfg.Session.ReconnectDelayMS) * time.Millisecond,
			MaxAttempts:    cfg.Session.MaxReconnectAttempts,
			Bus:            eventBus,
			Logger:         log,
			SkipWelcome:    prompt != "",
		})
		if err != nil {
			fmt.Printf("failed to create session: %v\n", err)
			return
		}
		defer session.Close()

		if err := session.Open(); err != nil {
			fmt.Printf("failed to open session: %v\n", err)
			return
		}

		info := chat.SessionInfo{SessionID: session.ID(), Endpoint: endpoint}
		log.Info("Chat session started", "session_id", session.ID(), "endpoint", endpoint, "one_shot", prompt != "")

		switch {
		case prompt != "":
			answer, err := chat.RunOneShot(ctx, session, info, prompt)
			if err != nil {
				fmt.Printf("prompt failed: %v\n", err)
				return
			}
			printAssistantMessage(os.Stdout, answer)
		case plainChat:
			runPlain(ctx, session, os.Stdin, os.Stdout)
		default:
			if err := chat.RunInteractive(ctx, session, info); err != nil {
				fmt.Printf("chat failed: %v\n", err)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVarP(&promptText, "prompt", "p", "", "question to send")
	chatCmd.Flags().BoolVar(&plainChat, "plain", false, "use a line-based prompt instead of the full-screen UI")
}

func resolvePrompt(args []string) string {
	if value := strings.TrimSpace(promptText); value != "" {
		return value
	}

	if len(args) == 0 {
		return ""
	}

	return strings.TrimSpace(strings.Join(args, " "))
}

// runPlain is a line-oriented chat loop for terminals without TUI support.
// Replies are printed as they arrive, independently of the input loop.
func runPlain(ctx context.Context, session chat.EventSource, in io.Reader, out io.Writer) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, unsubscribe := session.Subscribe(ctx, 64)
	defer unsubscribe()

	printed := 0
	printNew := func() {
		messages := session.Messages()
		for ; printed < len(messages); printed++ {
			if messages[printed].Role == realtime.RoleAssistant {
				printAssistantMessage(out, messages[printed].Content)
			}
		}
	}
	printNew()

	go func() {
		for event := range events {
			switch event.Type {
			case bus.EventMessageAppended:
				printNew()
			case bus.EventSessionState:
				fmt.Fprintf(out, "· %s\n", event.Payload["state"])
			case bus.EventReconnectExhausted:
				fmt.Fprintln(out, "· backend unreachable, type /reconnect to try again")
			}
		}
	}()

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		prompt := strings.TrimSpace(scanner.Text())
		if prompt == "" {
			continue
		}
		if isExitCommand(prompt) {
			return
		}
		switch prompt {
		case "/reconnect":
			_ = session.Open()
			continue
		case "/disconnect":
			_ = session.Suspend()
			continue
		}

		if err := session.Send(prompt); err != nil {
			fmt.Fprintf(out, "not sent: %v\n", err)
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(out, "input error: %v\n", err)
	}
}

func printAssistantMessage(out io.Writer, message string) {
	lines := assistantLines(message)
	for _, line := range lines {
		fmt.Fprintf(out, "🏥 %s\n", line)
	}
	if len(lines) > 0 {
		fmt.Fprintln(out)
	}
}

func assistantLines(message string) []string {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return nil
	}

	return strings.Split(trimmed, "\n")
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "/exit", "quit", ":q":
		return true
	default:
		return false
	}
}
