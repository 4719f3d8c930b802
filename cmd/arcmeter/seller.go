package main

import (
	"github.com/spf13/cobra"

	handler "github.com/raid-guild/arcmeter-go/api"
	"github.com/raid-guild/arcmeter-go/clients"
	"github.com/raid-guild/arcmeter-go/core"
	"github.com/raid-guild/arcmeter-go/store"
	"github.com/raid-guild/arcmeter-go/utils"
)

func sellerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seller",
		Short: "Run the seller API with the paywalled /signal resource",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := utils.NewLogger("seller-api", cfg.LogLevel)

			// Open the ledger
			st, err := store.Open(cmd.Context(), store.Options{
				Path:             cfg.Seller.DBPath,
				DatabaseURL:      cfg.Seller.DatabaseURL,
				DefaultRaiseMode: cfg.Seller.PriceRaiseMode,
			})
			if err != nil {
				return err
			}
			defer st.Close()

			terms := core.DefaultTermsConfig()
			terms.Recipient = cfg.Seller.Recipient
			terms.TTL = cfg.Seller.TermsTTL

			h := handler.NewSellerHandler(
				handler.SellerConfig{
					AdminSecret:         cfg.Seller.AdminSecret,
					ClientIDHeader:      cfg.Seller.ClientIDHeader,
					RejectReplays:       cfg.Seller.RejectReplays,
					EnvDefaultRaiseMode: cfg.Seller.PriceRaiseMode,
				},
				st,
				core.NewPricingPolicy(cfg.Seller.DefaultPriceUSD),
				core.NewTermsIssuer(terms),
				clients.NewFacilitatorClient(cfg.Facilitator.BaseURL, cfg.Facilitator.UpstreamTimeout),
				logger,
			)

			logger.Info("seller configured",
				"facilitator", cfg.Facilitator.BaseURL,
				"priceUsd", cfg.Seller.DefaultPriceUSD.String(),
				"rejectReplays", cfg.Seller.RejectReplays,
			)

			return serve(cmd.Context(), logger, cfg.Seller.Port, handler.NewSellerRouter(h, logger))
		},
	}
}
