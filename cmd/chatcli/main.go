// Package main provides a command-line chat client for the assistant engine.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var addr string

	rootCmd := &cobra.Command{
		Use:           "chatcli",
		Short:         "Chat with the assistant engine over HTTP, SSE or WebSocket",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "http://localhost:8080", "Assistant engine base URL")

	rootCmd.AddCommand(
		buildStartCmd(&addr),
		buildSendCmd(&addr),
		buildSSECmd(&addr),
		buildWSCmd(&addr),
	)
	return rootCmd
}

func buildStartCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Create a new conversation thread",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := newClient(*addr).Start(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("thread_id: %s\n", start.ThreadID)
			fmt.Printf("assistant: %s\n", start.InitialMessage)
			return nil
		},
	}
}

func buildSendCmd(addr *string) *cobra.Command {
	var threadID string
	cmd := &cobra.Command{
		Use:   "send [message]",
		Short: "Send one message and print the assistant responses",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(*addr)
			ctx := cmd.Context()
			if threadID == "" {
				start, err := c.Start(ctx)
				if err != nil {
					return err
				}
				threadID = start.ThreadID
				fmt.Printf("thread_id: %s\n", threadID)
			}
			responses, err := c.Chat(ctx, threadID, strings.Join(args, " "))
			if err != nil {
				return err
			}
			for _, r := range responses {
				fmt.Printf("assistant: %s\n", r)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&threadID, "thread", "t", "", "Existing thread id (a new thread is created when empty)")
	return cmd
}

func buildSSECmd(addr *string) *cobra.Command {
	var threadID string
	cmd := &cobra.Command{
		Use:   "sse",
		Short: "Interactive chat streamed over server-sent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(*addr)
			ctx := cmd.Context()
			id, err := c.ensureThread(ctx, threadID)
			if err != nil {
				return err
			}
			return prompt(func(line string) error {
				return c.ChatSSE(ctx, id, line, os.Stdout)
			})
		},
	}
	cmd.Flags().StringVarP(&threadID, "thread", "t", "", "Existing thread id (a new thread is created when empty)")
	return cmd
}

func buildWSCmd(addr *string) *cobra.Command {
	var threadID string
	cmd := &cobra.Command{
		Use:   "ws",
		Short: "Interactive chat over a WebSocket connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(*addr)
			ctx := cmd.Context()
			id, err := c.ensureThread(ctx, threadID)
			if err != nil {
				return err
			}

			conn, err := dialWS(*addr)
			if err != nil {
				return err
			}
			defer conn.Close()

			return prompt(func(line string) error {
				return conn.Chat(id, line, os.Stdout)
			})
		},
	}
	cmd.Flags().StringVarP(&threadID, "thread", "t", "", "Existing thread id (a new thread is created when empty)")
	return cmd
}

// prompt reads lines from stdin until EOF or /quit and passes each to send.
func prompt(send func(line string) error) error {
	fmt.Println("Type a message and press Enter to send.")
	fmt.Println("Commands: /quit to exit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "/quit" {
			fmt.Println("Bye!")
			return nil
		}
		if err := send(input); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}
