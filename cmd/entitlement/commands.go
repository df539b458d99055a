package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/magabrotheeeer/entitlement/internal/apperr"
	"github.com/magabrotheeeer/entitlement/internal/clients/payment"
	"github.com/magabrotheeeer/entitlement/internal/models"
)

func (c *cli) signInCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "signin <apple|wechat|alipay>",
		Short:     "Войти через OAuth-провайдера",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"apple", "wechat", "alipay"},
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := models.ParseProvider(args[0])
			if err != nil {
				return err
			}
			user, err := c.app.Session.SignIn(cmd.Context(), p)
			if err != nil {
				return err
			}
			return c.print(user)
		},
	}
}

func (c *cli) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Проверить сессию на бэкенде",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			valid, err := c.app.Session.ValidateSession(cmd.Context())
			if err != nil {
				return err
			}
			return c.print(map[string]any{
				"valid": valid,
				"state": c.app.Session.State().String(),
				"user":  c.app.Session.CurrentUser(),
			})
		},
	}
}

func (c *cli) signOutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Выйти и очистить кэш подписки",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.app.Session.SignOut(cmd.Context())
		},
	}
}

func (c *cli) productsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "products",
		Short: "Показать каталог подписок",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			products, err := c.app.Coordinator.FetchAvailableProducts(cmd.Context())
			if err != nil {
				return err
			}
			return c.print(products)
		},
	}
}

func (c *cli) purchaseCmd() *cobra.Command {
	var outcome string
	cmd := &cobra.Command{
		Use:   "purchase <pro|max> <monthly|yearly>",
		Short: "Купить подписку в песочнице",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.setOutcome(outcome); err != nil {
				return err
			}
			product, err := c.findProduct(cmd, args[0], args[1])
			if err != nil {
				return err
			}
			result, err := c.app.Coordinator.Purchase(cmd.Context(), product)
			if err != nil {
				return err
			}
			return c.print(result)
		},
	}
	cmd.Flags().StringVar(&outcome, "outcome", "", "исход покупки в песочнице: cancel|decline")
	return cmd
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Текущая подписка: кэш, затем бэкенд, затем восстановление покупок",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sub, err := c.app.Coordinator.GetCurrentSubscription(cmd.Context())
			if err != nil {
				return err
			}
			return c.print(sub)
		},
	}
}

func (c *cli) offlineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "offline",
		Short: "Подписка из кэша, если он моложе 24 часов",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.print(c.app.Coordinator.GetCurrentSubscriptionOffline(cmd.Context()))
		},
	}
}

func (c *cli) checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Проверить доступ и истечение подписки",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			expired, err := c.app.Coordinator.CheckAndHandleExpiration(cmd.Context())
			if err != nil {
				return err
			}
			active, err := c.app.Coordinator.ValidateSubscription(cmd.Context())
			if err != nil {
				return err
			}
			return c.print(map[string]bool{"expired": expired, "active": active})
		},
	}
}

func (c *cli) restoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Восстановить покупки платёжного провайдера",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			subs, err := c.app.Coordinator.RestorePurchases(cmd.Context())
			if err != nil {
				return err
			}
			return c.print(subs)
		},
	}
}

func (c *cli) syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Сверить подписку так же, как после восстановления сети",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.app.Coordinator.SyncSubscriptionOnNetworkRestore(cmd.Context())
		},
	}
}

func (c *cli) upgradeQuoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade-quote <max>",
		Short: "Рассчитать доплату за повышение уровня",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tier, err := models.ParseTier(args[0])
			if err != nil {
				return err
			}
			quote, err := c.app.Coordinator.QuoteUpgrade(cmd.Context(), tier)
			if err != nil {
				return err
			}
			return c.print(quote)
		},
	}
}

func (c *cli) upgradeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade <max>",
		Short: "Повысить уровень подписки с доплатой",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tier, err := models.ParseTier(args[0])
			if err != nil {
				return err
			}
			result, quote, err := c.app.Coordinator.UpgradeSubscription(cmd.Context(), tier)
			if err != nil {
				return err
			}
			return c.print(map[string]any{"quote": quote, "result": result})
		},
	}
}

func (c *cli) agentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agent",
		Short: "Фоновый режим: монитор сети, проверка истечения и метрики",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.app.RunAgent(cmd.Context())
		},
	}
}

func (c *cli) findProduct(cmd *cobra.Command, tierArg, periodArg string) (models.Product, error) {
	tier, err := models.ParseTier(tierArg)
	if err != nil {
		return models.Product{}, err
	}
	period, err := models.ParseBillingPeriod(periodArg)
	if err != nil {
		return models.Product{}, err
	}
	products, err := c.app.Coordinator.FetchAvailableProducts(cmd.Context())
	if err != nil {
		return models.Product{}, err
	}
	product, ok := models.FindProduct(products, tier, period)
	if !ok {
		return models.Product{}, apperr.ErrProductNotFound
	}
	return product, nil
}

func (c *cli) setOutcome(outcome string) error {
	switch outcome {
	case "":
	case "cancel":
		c.app.Payment.SetNextOutcome(payment.OutcomeCancel)
	case "decline":
		c.app.Payment.SetNextOutcome(payment.OutcomeDecline)
	default:
		return fmt.Errorf("unknown outcome %q", outcome)
	}
	return nil
}
