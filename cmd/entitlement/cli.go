package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"

	"github.com/magabrotheeeer/entitlement/internal/app/entitlement"
	"github.com/magabrotheeeer/entitlement/internal/apperr"
	"github.com/magabrotheeeer/entitlement/internal/config"
	"github.com/magabrotheeeer/entitlement/internal/lib/sl"
)

type cli struct {
	out        io.Writer
	configPath string
	lang       language.Tag
	app        *entitlement.App
}

func newCLI(out io.Writer) *cli {
	return &cli{
		out:        out,
		configPath: os.Getenv("CONFIG_PATH"),
		lang:       language.Chinese,
	}
}

func (c *cli) root() *cobra.Command {
	root := &cobra.Command{
		Use:           "entitlement",
		Short:         "Клиент подписок: сессия, покупки и офлайн-доступ",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.open(cmd)
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", c.configPath, "путь к конфигу (env CONFIG_PATH)")

	root.AddCommand(
		c.signInCmd(),
		c.validateCmd(),
		c.signOutCmd(),
		c.productsCmd(),
		c.purchaseCmd(),
		c.statusCmd(),
		c.offlineCmd(),
		c.checkCmd(),
		c.restoreCmd(),
		c.syncCmd(),
		c.upgradeQuoteCmd(),
		c.upgradeCmd(),
		c.agentCmd(),
	)
	return root
}

func (c *cli) open(cmd *cobra.Command) error {
	if c.configPath == "" {
		return errors.New("CONFIG_PATH is not set, pass --config")
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	c.lang = language.Make(cfg.Language)

	logger := sl.New(cfg.Env, os.Stderr)
	logger.Debug("config loaded", slog.String("config", cfg.String()))

	c.app, err = entitlement.New(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	if cmd.Name() != "agent" {
		c.app.Start(cmd.Context())
	}
	return nil
}

func (c *cli) close() {
	if c.app != nil {
		_ = c.app.Close()
	}
}

// describe переводит ошибки сессии и подписки, остальные выводит как есть.
func (c *cli) describe(err error) string {
	var authErr *apperr.AuthError
	var subErr *apperr.SubscriptionError
	if errors.As(err, &authErr) || errors.As(err, &subErr) {
		return apperr.Message(err, c.lang)
	}
	return err.Error()
}

func (c *cli) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("print: %w", err)
	}
	return nil
}
