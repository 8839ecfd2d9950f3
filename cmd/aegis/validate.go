package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"strato-hq/aegis/pkg/config"
	"strato-hq/aegis/pkg/routing"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and routing rules without starting",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadWithEnvOverrides(configPath)
		if err != nil {
			return err
		}

		if cfg.Routing.RulesFile != "" {
			rules, err := routing.LoadRules(cfg.Routing.RulesFile)
			if err != nil {
				return err
			}
			fmt.Printf("routing rules: %d ok\n", len(rules))
		}

		fmt.Printf("configuration ok: %d providers, %d tenants, %d wallets\n",
			len(cfg.Providers), len(cfg.Tenants), len(cfg.Wallet.Wallets))
		return nil
	},
}
