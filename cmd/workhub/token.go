package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/lirancohen/workhub/internal/db"
)

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Mint an access token for a user",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Usage: "User id or email", Required: true},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			ref := cmd.String("user")
			u, err := st.db.GetUser(ctx, ref)
			if errors.Is(err, db.ErrNotFound) {
				u, err = st.db.GetUserByEmail(ctx, ref)
			}
			if errors.Is(err, db.ErrNotFound) {
				return fmt.Errorf("no user %q", ref)
			}
			if err != nil {
				return err
			}

			token, err := st.issuer.Mint(u.ID)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.Root().Writer, token)
			return err
		},
	}
}
