// Command chatclient is an interactive terminal client for chatserver.
//
// It asks for a nickname until the server accepts one, then prints incoming
// lines and sends every line typed on stdin. Typing QUIT or pressing Ctrl-C
// leaves the chat.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/cyberinferno/go-chat/chat"
	"github.com/cyberinferno/go-chat/chatclient"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		addr     string
		nickname string
	)
	flag.StringVar(&addr, "addr", "localhost:12347", "Chat server address (host:port)")
	flag.StringVar(&nickname, "nick", "", "Nickname to try first")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := chatclient.New(chatclient.DefaultConfig(addr))
	defer client.Close()

	out := bufio.NewWriter(os.Stdout)
	client.OnMessage(func(msg chatclient.Message) {
		fmt.Fprintln(out, msg.Raw)
		_ = out.Flush()
	})

	if err := client.Connect(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	lines := readLines(os.Stdin)

	if err := join(ctx, client, nickname, lines); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Fprintf(os.Stderr, "Joined as %s. Type %s to leave.\n", client.Nickname(), chat.QuitCommand)

	for {
		select {
		case <-ctx.Done():
			_ = client.Quit()
			return 0
		case <-client.Done():
			fmt.Fprintln(os.Stderr, "Disconnected by server.")
			return 1
		case line, ok := <-lines:
			if !ok || chat.IsQuit(line) {
				_ = client.Quit()
				return 0
			}
			if err := client.Send(line); err != nil {
				fmt.Fprintln(os.Stderr, err)
				return 1
			}
		}
	}
}

// join proposes nicknames until one is accepted. first is tried before
// prompting when set.
func join(ctx context.Context, client *chatclient.Client, first string, lines <-chan string) error {
	candidate := first
	for {
		if candidate == "" {
			fmt.Fprint(os.Stderr, "Enter your nickname: ")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case line, ok := <-lines:
				if !ok {
					return io.EOF
				}
				candidate = line
			}
		}

		err := client.Join(ctx, candidate)
		var rejected *chatclient.RejectedError
		switch {
		case err == nil:
			return nil
		case errors.As(err, &rejected):
			fmt.Fprintln(os.Stderr, rejected.Reason)
			candidate = ""
		default:
			return err
		}
	}
}

// readLines feeds stdin lines into a channel closed at EOF.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	return lines
}
