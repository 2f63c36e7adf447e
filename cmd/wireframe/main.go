// Command wireframe is a demo CLI exercising the wireframe module over a
// WebSocket transport: a serve subcommand echoes every event it receives on
// the "echo" channel back to the sender, and a dial subcommand connects and
// sends one such event.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wireframe-go/wireframe"
	"github.com/wireframe-go/wireframe/transport/ws"
)

func main() {
	root := &cobra.Command{
		Use:   "wireframe",
		Short: "wireframe demo CLI",
	}
	root.AddCommand(newServeCmd(), newDialCmd())

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	var addr, path string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Listen for connections and echo every \"echo\" event back to the sender",
		RunE: func(cmd *cobra.Command, args []string) error {
			transport := ws.NewServer(addr, path)
			server := wireframe.NewServer(transport)

			server.OnConnection(func(conn *wireframe.Controller) {
				slog.Info("client connected", "remote_addr", conn.RemoteAddr())

				conn.Emitter().OnEvent("echo", func(args []json.RawMessage) {
					if _, err := conn.Emitter().SendEvent("echo", rawArgsToAny(args)...); err != nil {
						slog.Error("echo failed", "error", err)
					}
				})

				conn.OnDisconnected(func(intentional bool, err error) {
					slog.Info("client disconnected", "remote_addr", conn.RemoteAddr(), "intentional", intentional, "error", err)
				})
			})

			ctx, cancel := signalContext()
			defer cancel()

			slog.Info("listening", "addr", addr, "path", path)
			return server.Serve(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "address to listen on")
	cmd.Flags().StringVar(&path, "path", "/ws", "WebSocket upgrade path")
	return cmd
}

func newDialCmd() *cobra.Command {
	var url, message string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "dial",
		Short: "Connect to a server and send a single echo event",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := wireframe.NewClient(ws.NewClient(url))

			done := make(chan struct{})
			client.OnEvent("echo", func(args []json.RawMessage) {
				fmt.Println("received:", rawArgsToAny(args))
				close(done)
			})

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			if err := client.Connect(ctx); err != nil {
				return err
			}
			defer func() { _ = client.Disconnect(context.Background()) }()

			if _, err := client.SendEvent("echo", message); err != nil {
				return err
			}

			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}

	cmd.Flags().StringVar(&url, "url", "ws://127.0.0.1:8080/ws", "server URL to dial")
	cmd.Flags().StringVar(&message, "message", "hello", "message to send")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "overall operation timeout")
	return cmd
}

func rawArgsToAny(args []json.RawMessage) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a
	}
	return out
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}
