package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/urfave/cli/v3"

	"potluck/internal/client"
)

func ChatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "chats",
		Usage: "List chats with unread counts",
		Action: func(ctx context.Context, c *cli.Command) error {
			api := client.NewHTTPAPI(c.String("server"), c.String("token"))
			chats, err := api.ListChats(ctx)
			if err != nil {
				return fmt.Errorf("list chats: %w", err)
			}
			for _, chat := range chats {
				name := chat.Name
				if name == "" {
					name = "(private)"
				}
				fmt.Printf("%6d  %-24s  unread=%d  last=%s\n", chat.ID, name, chat.UnreadCount,
					chat.LastActivity.Local().Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
}

func SendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Send a text message",
		ArgsUsage: "<chat-id> <text>",
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.NArg() != 2 {
				return fmt.Errorf("usage: potluck send <chat-id> <text>")
			}
			chatID, err := strconv.ParseInt(c.Args().Get(0), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid chat id %q", c.Args().Get(0))
			}

			api := client.NewHTTPAPI(c.String("server"), c.String("token"))
			msg, err := api.SendMessage(ctx, chatID, c.Args().Get(1))
			if err != nil {
				return fmt.Errorf("send: %w", err)
			}
			return json.NewEncoder(os.Stdout).Encode(msg)
		},
	}
}
