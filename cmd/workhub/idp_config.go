package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/lirancohen/workhub/internal/api/core"
	"github.com/lirancohen/workhub/internal/idp"
)

func idpConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "idp-config",
		Usage: "Print the identity provider configuration built from the saved SSO settings",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "write",
				Usage: "Also write it to the provider data directory",
			},
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

			sso, err := core.SSOSource{Store: st.sso}.EnabledSSOConfig(ctx)
			if err != nil {
				return err
			}
			builder := idp.NewConfigBuilder(idp.SettingsFrom(cfg))
			doc, err := builder.Build(sso)
			if err != nil {
				if errors.Is(err, idp.ErrSSODisabled) {
					return fmt.Errorf("%w: enable SSO before rendering the provider config", err)
				}
				return err
			}
			out, err := builder.Render(doc)
			if err != nil {
				return err
			}
			if _, err := cmd.Root().Writer.Write(out); err != nil {
				return err
			}
			if cmd.Bool("write") {
				path, err := builder.WriteFile(sso)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.Root().ErrWriter, "wrote %s\n", path)
				return err
			}
			return nil
		},
	}
}
