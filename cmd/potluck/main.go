package main

import (
	"context"
	"log"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "potluck",
		Usage: "Command line client for the potluck chat server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Usage:   "Chat server base URL",
				Value:   "http://localhost:8080",
				Sources: cli.EnvVars("POTLUCK_SERVER"),
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Bearer token (see the token command)",
				Sources: cli.EnvVars("POTLUCK_TOKEN"),
			},
		},
		Commands: []*cli.Command{
			TailCommand(),
			ChatsCommand(),
			SendCommand(),
			TokenCommand(),
		},
	}
}
