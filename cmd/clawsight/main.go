package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "clawsight",
	Short: "ClawSight — metered agent control plane",
	Long:  "ClawSight is a control plane and local agent for autonomous AI agents that pay for their own operations: per-operation USDC metering, daily/monthly spend caps, and x402 on-chain payment proofs to unblock capped work.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: configs/clawsight.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
