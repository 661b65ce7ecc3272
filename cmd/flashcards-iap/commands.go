package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/KayKostadinov/Go-Flashcards/internal/catalog"
	"github.com/KayKostadinov/Go-Flashcards/internal/entitlements"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const commandTimeout = 2 * time.Minute

// withApp builds the service graph for a one-shot command and drains
// background jobs before returning.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	defer cancel()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Shutdown did not complete cleanly")
		}
	}()
	return fn(ctx, a)
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the receipt and refresh cached entitlements",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				active, err := a.orch.VerifyActiveSubscription(ctx).Await(ctx)
				if err != nil {
					return fmt.Errorf("verify subscription: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "active: %t\n", active)
				return nil
			})
		},
	}
}

func newProductsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "products",
		Short: "List Public Library products from the storefront",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				products, err := a.orch.Products(ctx).Await(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "PRODUCT\tTITLE\tPRICE")
				for _, p := range products {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", p.ID, p.Title, p.LocalizedPrice)
				}
				return tw.Flush()
			})
		},
	}
}

func newPurchaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "purchase <tier>",
		Short:     "Buy a Public Library tier (six_months or one_year)",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(catalog.SixMonths), string(catalog.OneYear)},
		RunE: func(cmd *cobra.Command, args []string) error {
			tier, err := catalog.ParseTier(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				ok, err := a.orch.Buy(ctx, tier).Await(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "purchased %s: %t\n", tier.ProductID(), ok)
				return nil
			})
		},
	}
}

func newEntitlementsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "entitlements",
		Short: "Show cached expirations without contacting the validation endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				snapshot, err := a.store.Snapshot(ctx)
				if err != nil {
					return err
				}
				now := time.Now()
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TIER\tPRODUCT\tEXPIRES\tVALID")
				for _, tier := range catalog.AllTiers() {
					exp := snapshot[tier]
					expires := "-"
					if exp != nil {
						expires = exp.UTC().Format(time.RFC3339)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", tier, tier.ProductID(), expires, entitlements.IsValid(exp, now))
				}
				return tw.Flush()
			})
		},
	}
}
