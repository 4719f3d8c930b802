package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/raid-guild/arcmeter-go/agent"
	handler "github.com/raid-guild/arcmeter-go/api"
	"github.com/raid-guild/arcmeter-go/clients"
	"github.com/raid-guild/arcmeter-go/utils"
)

// runTTL is how long runs are kept in Redis.
const runTTL = 7 * 24 * time.Hour

func agentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agent",
		Short: "Run the buyer agent API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := utils.NewLogger("agent-buyer", cfg.LogLevel)

			// Pick the run store
			var runs agent.RunStore = agent.NewMemoryRunStore()
			if cfg.Agent.RedisURL != "" {
				redisRuns, err := agent.NewRedisRunStore(cmd.Context(), cfg.Agent.RedisURL, runTTL)
				if err != nil {
					return err
				}
				defer redisRuns.Close()
				runs = redisRuns
			}

			// Pick the decision policy
			var policy agent.Policy = agent.FallbackPolicy{}
			if cfg.Agent.GeminiAPIKey != "" {
				policy = agent.NewDelegatedPolicy(clients.NewGeminiClient(clients.GeminiConfig{
					BaseURL: cfg.Agent.GeminiBaseURL,
					APIKey:  cfg.Agent.GeminiAPIKey,
					Model:   cfg.Agent.GeminiModel,
					Timeout: cfg.Facilitator.UpstreamTimeout,
				}))
			}

			runner := agent.NewRunner(
				agent.RunnerConfig{
					SellerBaseURL:    cfg.Agent.SellerBaseURL,
					Payer:            cfg.Agent.Payer,
					Secret:           cfg.Facilitator.VerifierSecret,
					MaxDailySpendUSD: cfg.Agent.MaxDailySpendUSD,
					ClientIDHeader:   cfg.Seller.ClientIDHeader,
				},
				clients.NewSellerClient(cfg.Facilitator.UpstreamTimeout),
				policy,
				runs,
				logger,
			)

			logger.Info("agent configured",
				"sellerBaseUrl", cfg.Agent.SellerBaseURL,
				"delegated", cfg.Agent.GeminiAPIKey != "",
				"redis", cfg.Agent.RedisURL != "",
			)

			h := handler.NewAgentHandler(runner, runs, logger)
			return serve(cmd.Context(), logger, cfg.Agent.Port, handler.NewAgentRouter(h, logger))
		},
	}
}
