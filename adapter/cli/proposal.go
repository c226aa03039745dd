package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var proposalCmd = &cobra.Command{
	Use:   "proposal",
	Short: "Negotiate proposals",
}

var proposalShowCmd = &cobra.Command{
	Use:   "show <proposal-id>",
	Short: "Print a proposal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid proposal id: %w", err)
		}

		proposal, err := newClient().GetProposal(cmd.Context(), id)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(proposal)
	},
}

var (
	counterProperties  string
	counterConstraints string
)

var proposalCounterCmd = &cobra.Command{
	Use:   "counter <proposal-id>",
	Short: "Answer a proposal with revised terms",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid proposal id: %w", err)
		}
		props, err := readProperties(counterProperties)
		if err != nil {
			return err
		}

		counterID, err := newClient().Counter(cmd.Context(), id, props, counterConstraints)
		if err != nil {
			return err
		}

		fmt.Println(counterID)
		return nil
	},
}

var proposalAcceptCmd = &cobra.Command{
	Use:   "accept <proposal-id>",
	Short: "Close a negotiation in agreement",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid proposal id: %w", err)
		}
		return newClient().Accept(cmd.Context(), id)
	},
}

var rejectReason string

var proposalRejectCmd = &cobra.Command{
	Use:   "reject <proposal-id>",
	Short: "Refuse a proposal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid proposal id: %w", err)
		}
		return newClient().Reject(cmd.Context(), id, rejectReason)
	},
}

func init() {
	proposalCounterCmd.Flags().StringVarP(&counterProperties, "properties", "p", "{}", "properties as a JSON object, or @file")
	proposalCounterCmd.Flags().StringVarP(&counterConstraints, "constraints", "c", "", "constraint expression for the opposite side")
	proposalRejectCmd.Flags().StringVarP(&rejectReason, "reason", "r", "", "reason forwarded to the issuer")

	proposalCmd.AddCommand(proposalShowCmd, proposalCounterCmd, proposalAcceptCmd, proposalRejectCmd)
	rootCmd.AddCommand(proposalCmd)
}
