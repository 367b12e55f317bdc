package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"potluck/internal/auth"
	"potluck/internal/config"
)

// TokenCommand mints a development token with the server's secret.
func TokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Issue a bearer token for a user",
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:     "user",
				Usage:    "User id the token authenticates",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "secret",
				Usage:   "HMAC secret shared with the server",
				Value:   config.DevJWTSecret,
				Sources: cli.EnvVars("JWT_SECRET"),
			},
			&cli.DurationFlag{
				Name:  "ttl",
				Usage: "Token lifetime",
				Value: 24 * time.Hour,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Int64("user") <= 0 {
				return errors.New("--user must be positive")
			}
			token, err := auth.NewJWT(c.String("secret")).GenerateToken(c.Int64("user"), c.Duration("ttl"))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(c.Root().Writer, token)
			return err
		},
	}
}
