// Command chatwatch runs the chat widget controller against a live messages
// service and Redis transport, rendering its events in a terminal. It exists
// for operating and debugging deployments; the same controller is what web
// hosts embed.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"hostelhub/internal/cache"
	"hostelhub/internal/chat"
	"hostelhub/internal/history"
	"hostelhub/internal/models"
	"hostelhub/internal/observability/logging"
)

type channelFlag map[string]string

func (cf *channelFlag) String() string {
	if cf == nil || len(*cf) == 0 {
		return ""
	}
	parts := make([]string, 0, len(*cf))
	for id, label := range *cf {
		parts = append(parts, id+"="+label)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func (cf *channelFlag) Set(value string) error {
	parts := strings.SplitN(value, "=", 2)
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" {
		return fmt.Errorf("invalid format %q, expected id=label", value)
	}
	if *cf == nil {
		*cf = make(map[string]string)
	}
	(*cf)[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	return nil
}

// consoleEvents renders controller events as terminal lines.
type consoleEvents struct{}

func (consoleEvents) MessagesChanged(channelID string, messages []models.Message) {
	fmt.Printf("-- %s (%d messages) --\n", channelID, len(messages))
	for _, msg := range messages {
		sender := msg.SenderID
		if sender == "" {
			sender = "anonymous"
		}
		fmt.Printf("  [%s] %s: %s\n", msg.CreatedAt.Local().Format("15:04:05"), sender, msg.Body)
	}
}

func (consoleEvents) UnreadChanged(channelID string, count int) {
	fmt.Printf("** unread on %s: %d\n", channelID, count)
}

func (consoleEvents) ToastShown(channelLabel string) {
	fmt.Printf("** new message in %s\n", channelLabel)
}

func (consoleEvents) ToastCleared() {
	fmt.Println("** toast cleared")
}

func main() {
	apiBase := flag.String("api", "http://localhost:8080", "messages service base URL")
	token := flag.String("token", "", "bearer token for the messages service")
	userID := flag.String("user", "", "user id for self-echo detection")
	redisAddr := flag.String("redis-addr", "localhost:6379", "Redis address for the live transport")
	redisPassword := flag.String("redis-password", "", "Redis password")
	redisPrefix := flag.String("redis-prefix", "", "Redis channel name prefix")
	cacheDir := flag.String("cache-dir", "", "directory for the local message cache (empty disables it)")
	logLevel := flag.String("log-level", "warn", "log level (debug, info, warn, error)")
	channels := channelFlag{}
	flag.Var(&channels, "channel", "channel registry entry as id=label (repeatable)")
	flag.Parse()

	if strings.TrimSpace(*userID) == "" {
		fmt.Fprintln(os.Stderr, "error: -user is required")
		flag.Usage()
		os.Exit(2)
	}

	logger := logging.Init(logging.Config{Level: *logLevel, Format: "text", Writer: os.Stderr})

	registryEntries := make([]models.Channel, 0, len(channels))
	ids := make([]string, 0, len(channels))
	for id := range channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		registryEntries = append(registryEntries, models.Channel{ID: id, Label: channels[id]})
	}
	if len(registryEntries) == 0 {
		registryEntries = []models.Channel{
			{ID: "ops-admin", Label: "Operations"},
			{ID: "warden-admin", Label: "Warden"},
		}
	}
	registry := chat.NewRegistry(registryEntries)

	transport, err := chat.NewRedisTransport(chat.RedisTransportConfig{
		Addr:          *redisAddr,
		Password:      *redisPassword,
		ChannelPrefix: *redisPrefix,
		Logger:        logging.WithComponent(logger, "transport"),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: redis transport: %v\n", err)
		os.Exit(1)
	}
	defer transport.Close()

	var localCache cache.Store
	if *cacheDir != "" {
		fileStore, err := cache.NewFileStore(*cacheDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: local cache: %v\n", err)
			os.Exit(1)
		}
		localCache = fileStore
	}

	var historyAPI chat.HistoryAPI
	if *token != "" {
		client, err := history.NewClient(history.Config{
			BaseURL: *apiBase,
			Token:   *token,
			Logger:  logging.WithComponent(logger, "history"),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: history client: %v\n", err)
			os.Exit(1)
		}
		historyAPI = client
	} else {
		fmt.Fprintln(os.Stderr, "warning: no -token given, running without history reconciliation or persistence")
	}

	controller, err := chat.NewController(chat.ControllerConfig{
		Registry:  registry,
		Transport: transport,
		Store: chat.NewMessageStore(chat.MessageStoreConfig{
			Cache:  localCache,
			Logger: logging.WithComponent(logger, "store"),
		}),
		History: historyAPI,
		Events:  consoleEvents{},
		UserID:  *userID,
		Logger:  logging.WithComponent(logger, "controller"),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: controller: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	controller.Start(ctx)
	defer controller.Dispose()

	fmt.Println("chatwatch ready. commands: /open [channel], /switch <channel>, /close, /unread, /quit")
	fmt.Println("any other input is sent to the active channel")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("shutting down")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !handleLine(ctx, controller, line) {
				return
			}
		}
	}
}

func handleLine(ctx context.Context, controller *chat.Controller, line string) bool {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "":
		return true
	case trimmed == "/quit":
		return false
	case trimmed == "/close":
		controller.Close()
		fmt.Printf("widget closed, %d unread total\n", controller.TotalUnread())
		return true
	case trimmed == "/unread":
		fmt.Printf("%d unread total\n", controller.TotalUnread())
		return true
	case strings.HasPrefix(trimmed, "/open"):
		target := strings.TrimSpace(strings.TrimPrefix(trimmed, "/open"))
		controller.Open(target)
		if active, ok := controller.ActiveChannel(); ok {
			fmt.Printf("widget open on %s\n", active)
		}
		return true
	case strings.HasPrefix(trimmed, "/switch"):
		target := strings.TrimSpace(strings.TrimPrefix(trimmed, "/switch"))
		if target == "" {
			fmt.Println("usage: /switch <channel>")
			return true
		}
		controller.SwitchChannel(target)
		if active, ok := controller.ActiveChannel(); ok {
			fmt.Printf("widget open on %s\n", active)
		}
		return true
	case strings.HasPrefix(trimmed, "/"):
		fmt.Printf("unknown command %s\n", trimmed)
		return true
	default:
		sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		controller.Send(sendCtx, trimmed)
		cancel()
		return true
	}
}
