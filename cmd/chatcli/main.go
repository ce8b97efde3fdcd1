/*
Command chatcli is a terminal client for StudySphere chat rooms.

	chatcli -server http://localhost:8080 -room math -token "$(devtoken -id u1 -name Ada)"

Plain lines are sent as messages. Commands:

	/react <messageId> <emoji>   toggle a reaction
	/retry <tempId>              resend a failed message
	/quit                        leave the room and exit
*/
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"studysphere/internal/client"
	"studysphere/internal/pkg/auth/jwt"
	"studysphere/internal/pkg/logx"
)

func main() {
	_ = godotenv.Load()

	server := flag.String("server", "http://localhost:8080", "chat server base url")
	room := flag.String("room", "general", "room to open")
	token := flag.String("token", os.Getenv("STUDYSPHERE_TOKEN"), "bearer token (defaults to $STUDYSPHERE_TOKEN)")
	name := flag.String("name", "", "display name (defaults to the token's name)")
	logFile := flag.String("log", "", "write debug logs to this file")
	flag.Parse()

	if err := initLogging(*logFile); err != nil {
		fmt.Fprintf(os.Stderr, "chatcli: %v\n", err)
		os.Exit(1)
	}

	if *token == "" {
		fmt.Fprintln(os.Stderr, "chatcli: -token or STUDYSPHERE_TOKEN is required")
		os.Exit(2)
	}
	claims, err := jwt.PeekToken(*token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chatcli: unreadable token: %v\n", err)
		os.Exit(2)
	}
	if *name == "" {
		*name = claims.Name
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *server, *room, *token, claims.ID, *name); err != nil {
		fmt.Fprintf(os.Stderr, "chatcli: %v\n", err)
		os.Exit(1)
	}
}

func initLogging(path string) error {
	if path == "" {
		logx.InitGlobalLoggerTo(io.Discard, zerolog.Disabled)
		return nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	logx.InitGlobalLoggerTo(f, zerolog.DebugLevel)
	return nil
}

func run(ctx context.Context, serverURL, roomID, token, userID, name string) error {
	session := client.NewSession(token)
	session.OnClear(func() {
		fmt.Println("*** session rejected by the server, log in again")
	})

	conn, err := client.NewConn(serverURL, session, client.ConnOptions{})
	if err != nil {
		return err
	}
	defer conn.Disconnect()

	conn.OnStateChange(func(s client.ConnState) {
		switch s {
		case client.StateReconnecting:
			fmt.Println("*** disconnected, reconnecting...")
		case client.StateFailed:
			fmt.Println("*** connection failed, messages will be sent over HTTP")
		case client.StateConnected:
			fmt.Println("*** connected")
		}
	})

	view := client.NewRoomView(roomID, client.NewAPI(serverURL, session), conn, client.ViewOptions{
		UserID: userID,
		Name:   name,
	})
	if err := view.Open(ctx); err != nil {
		return fmt.Errorf("open room %s: %w", roomID, err)
	}
	defer view.Close()

	fmt.Printf("*** room %s, you are %s (%s)\n", roomID, name, userID)

	p := &printer{seen: make(map[string]printed)}
	p.render(view)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-view.Updates():
				p.render(view)
			}
		}
	}()

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
			<-done
			return nil
		case line, ok := <-lines:
			if !ok || !handleLine(view, line) {
				return nil
			}
		}
	}
}

// handleLine executes one input line and reports whether to keep going.
func handleLine(view *client.RoomView, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		view.Typing()
		return true
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit":
		return false
	case "/react":
		if len(fields) != 3 {
			fmt.Println("usage: /react <messageId> <emoji>")
			return true
		}
		if err := view.React(fields[1], fields[2]); err != nil {
			fmt.Printf("*** %v\n", err)
		}
		return true
	case "/retry":
		if len(fields) != 2 {
			fmt.Println("usage: /retry <tempId>")
			return true
		}
		if err := view.Resend(fields[1]); err != nil {
			fmt.Printf("*** %v\n", err)
		}
		return true
	}

	view.Typing()
	if _, err := view.Send(line, ""); err != nil {
		fmt.Printf("*** %v\n", err)
	}
	return true
}

type printed struct {
	status    client.Status
	reactions int
}

type printer struct {
	mu     sync.Mutex
	seen   map[string]printed
	typing string
}

// render prints entries that are new, changed status or changed reactions
// since the last call, then the typing line when it changed.
func (p *printer) render(view *client.RoomView) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, e := range view.Messages() {
		key := e.TempID
		if key == "" {
			key = e.Message.ID
		}

		now := printed{status: e.Status, reactions: len(e.Message.Reactions)}
		if p.seen[key] == now {
			continue
		}
		p.seen[key] = now

		switch e.Status {
		case client.StatusPending:
			fmt.Printf("  %s: %s (sending)\n", e.Message.SenderName, e.Message.Text)
		case client.StatusFailed:
			fmt.Printf("! %s: %s (failed, /retry %s)\n", e.Message.SenderName, e.Message.Text, e.TempID)
		default:
			fmt.Printf("[%s] %s: %s  (%s)%s\n",
				e.Message.CreatedAt.Local().Format("15:04"),
				e.Message.Sender().DisplayName(),
				e.Message.Text,
				e.Message.ID,
				reactionSummary(e),
			)
		}
	}

	typing := strings.Join(view.TypingUsers(), ", ")
	if typing != p.typing {
		p.typing = typing
		if typing != "" {
			fmt.Printf("  ... %s typing\n", typing)
		}
	}
}

func reactionSummary(e client.Entry) string {
	if len(e.Message.Reactions) == 0 {
		return ""
	}

	counts := make(map[string]int)
	var order []string
	for _, r := range e.Message.Reactions {
		if counts[r.Emoji] == 0 {
			order = append(order, r.Emoji)
		}
		counts[r.Emoji]++
	}

	var b strings.Builder
	for _, emoji := range order {
		fmt.Fprintf(&b, " %s%d", emoji, counts[emoji])
	}
	return b.String()
}
