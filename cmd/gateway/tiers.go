package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/vnmchuo/careerkit-gateway/config"
	"github.com/vnmchuo/careerkit-gateway/internal/billing"
	"github.com/vnmchuo/careerkit-gateway/internal/orchestrator"
	"github.com/vnmchuo/careerkit-gateway/internal/tier"
)

func newTiersCmd() *cobra.Command {
	var routingFile string

	cmd := &cobra.Command{
		Use:   "tiers",
		Short: "Print the effective tier catalog, provider chains and pricing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if routingFile == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				routingFile = cfg.RoutingFile
			}
			routing, err := config.LoadRouting(routingFile)
			if err != nil {
				return err
			}
			catalog, err := routing.Catalog()
			if err != nil {
				return err
			}
			chains, err := routing.ProviderChains()
			if err != nil {
				return err
			}
			estimator, err := routing.Estimator()
			if err != nil {
				return err
			}
			pricing := make(map[string]billing.Pricing)
			for _, name := range estimator.Providers() {
				pricing[name], _ = estimator.PricingFor(name)
			}

			out := struct {
				Tiers   []tier.Definition          `json:"tiers"`
				Chains  orchestrator.Chains        `json:"chains"`
				Pricing map[string]billing.Pricing `json:"pricing"`
			}{catalog.All(), chains, pricing}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&routingFile, "routing", "", "routing file (defaults to ROUTING_FILE)")
	return cmd
}
