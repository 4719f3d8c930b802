package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/raid-guild/arcmeter-go/agent"
	"github.com/raid-guild/arcmeter-go/clients"
	"github.com/raid-guild/arcmeter-go/codec"
	"github.com/raid-guild/arcmeter-go/types"
)

func payCmd() *cobra.Command {
	var payer, secret string

	cmd := &cobra.Command{
		Use:   "pay [url]",
		Short: "Pay for one request to a protected resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if payer == "" {
				payer = cfg.Agent.Payer
			}
			if secret == "" {
				secret = cfg.Facilitator.VerifierSecret
			}

			url := args[0]
			out := cmd.OutOrStdout()
			seller := clients.NewSellerClient(cfg.Facilitator.UpstreamTimeout)

			// Request the resource without payment
			fmt.Fprintln(out, "Requesting protected resource...")
			first, err := seller.Get(cmd.Context(), url, nil)
			if err != nil {
				return err
			}
			if first.Status != http.StatusPaymentRequired {
				return fmt.Errorf("expected 402, got %d", first.Status)
			}

			// Sign the offered terms
			header := first.Header.Get(types.PaymentRequiredHeader)
			if header == "" {
				return fmt.Errorf("missing %s header", types.PaymentRequiredHeader)
			}
			offer, err := agent.ParseOffer(header)
			if err != nil {
				return fmt.Errorf("invalid payment required: %w", err)
			}
			payment, err := agent.BuildPayment(offer, payer, secret)
			if err != nil {
				return err
			}

			// Retry with the payment
			fmt.Fprintf(out, "Paying %s USDC as %s...\n", offer.Terms.AmountUSD.StringFixed(6), payer)
			paid := http.Header{}
			paid.Set(types.PaymentSignatureHeader, payment.Header)
			second, err := seller.Get(cmd.Context(), url, paid)
			if err != nil {
				return err
			}
			if second.Status != http.StatusOK {
				return fmt.Errorf("retry failed: %d %s", second.Status, second.Body)
			}

			fmt.Fprintf(out, "Resource: %s\n", second.Body)
			if response := second.Header.Get(types.PaymentResponseHeader); response != "" {
				settlement, err := codec.DecodeAs[types.SettleResponse](response)
				if err != nil {
					return fmt.Errorf("invalid payment response: %w", err)
				}
				fmt.Fprintf(out, "Settlement: %s on %s by %s\n", settlement.Transaction, settlement.Network, settlement.Payer)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&payer, "payer", "", "payer identity (default AGENT_PAYER)")
	cmd.Flags().StringVar(&secret, "secret", "", "local demo signing secret (default LOCAL_DEMO_VERIFIER_SECRET)")

	return cmd
}
