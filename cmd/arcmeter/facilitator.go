package main

import (
	"github.com/spf13/cobra"

	handler "github.com/raid-guild/arcmeter-go/api"
	"github.com/raid-guild/arcmeter-go/auth"
	"github.com/raid-guild/arcmeter-go/clients"
	"github.com/raid-guild/arcmeter-go/core"
	"github.com/raid-guild/arcmeter-go/utils"
)

func facilitatorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "facilitator",
		Short: "Run the facilitator (verify and settle)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := utils.NewLogger("facilitator", cfg.LogLevel)

			// Proxy to an upstream facilitator when both endpoints are set
			var upstream handler.Facilitator
			if cfg.Facilitator.Upstream() {
				upstream = clients.NewFacilitatorClientWithEndpoints(
					cfg.Facilitator.VerifyEndpoint,
					cfg.Facilitator.SettleEndpoint,
					cfg.Facilitator.UpstreamTimeout,
				)
			}

			h := handler.NewFacilitatorHandler(
				core.FacilitatorConfig{
					Secret:        cfg.Facilitator.VerifierSecret,
					EnforceExpiry: cfg.Facilitator.EnforceExpiry,
				},
				auth.APIKeyConfig{
					StaticKey:   cfg.Facilitator.APIKey,
					DatabaseURL: cfg.Facilitator.DatabaseURL,
				},
				upstream,
				logger,
			)

			return serve(cmd.Context(), logger, cfg.Facilitator.Port, handler.NewFacilitatorRouter(h, logger))
		},
	}
}
