package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/lirancohen/workhub/internal/db"
)

func userCommand() *cli.Command {
	return &cli.Command{
		Name:  "user",
		Usage: "Manage user accounts",
		Commands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Create a user and print its id",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email", Required: true},
					&cli.StringFlag{Name: "name"},
					&cli.BoolFlag{Name: "admin", Usage: "Grant instance admin rights (SSO settings)"},
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

					name := cmd.String("name")
					if name == "" {
						name = cmd.String("email")
					}
					u, err := st.db.CreateUser(ctx, cmd.String("email"), name, cmd.Bool("admin"))
					if errors.Is(err, db.ErrConflict) {
						return fmt.Errorf("a user with email %s already exists", cmd.String("email"))
					}
					if err != nil {
						return err
					}
					_, err = fmt.Fprintln(cmd.Root().Writer, u.ID)
					return err
				},
			},
		},
	}
}
