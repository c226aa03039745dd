package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// newSideCommand builds the demand/offer command tree. Both sides share the
// same surface; path is the REST collection name ("demands" or "offers").
func newSideCommand(use, path string) *cobra.Command {
	sideCmd := &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("Manage %s on the market", path),
	}

	var (
		properties  string
		constraints string
	)
	publishCmd := &cobra.Command{
		Use:   "publish",
		Short: fmt.Sprintf("Publish a %s and print its subscription id", use),
		RunE: func(cmd *cobra.Command, args []string) error {
			props, err := readProperties(properties)
			if err != nil {
				return err
			}

			result, err := newClient().Subscribe(cmd.Context(), path, props, constraints)
			if err != nil {
				return err
			}

			fmt.Println(result.SubscriptionID)
			if result.Matched > 0 {
				fmt.Fprintf(os.Stderr, "matched %d counterpart(s), poll events to negotiate\n", result.Matched)
			}
			return nil
		},
	}
	publishCmd.Flags().StringVarP(&properties, "properties", "p", "{}", "properties as a JSON object, or @file")
	publishCmd.Flags().StringVarP(&constraints, "constraints", "c", "", "constraint expression for the opposite side")

	dropCmd := &cobra.Command{
		Use:   "drop <subscription-id>",
		Short: fmt.Sprintf("Unsubscribe a %s", use),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid subscription id: %w", err)
			}
			return newClient().Unsubscribe(cmd.Context(), path, id)
		},
	}

	var (
		pollTimeout time.Duration
		maxEvents   int
		once        bool
	)
	eventsCmd := &cobra.Command{
		Use:   "events <subscription-id>",
		Short: "Follow the subscription's negotiation events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid subscription id: %w", err)
			}

			client := newClient()
			enc := json.NewEncoder(os.Stdout)
			for {
				events, err := client.CollectEvents(cmd.Context(), path, id, pollTimeout, maxEvents)
				if err != nil {
					if cmd.Context().Err() != nil {
						return nil
					}
					return err
				}
				for _, event := range events {
					if err := enc.Encode(event); err != nil {
						return err
					}
				}
				if once {
					return nil
				}
			}
		},
	}
	eventsCmd.Flags().DurationVarP(&pollTimeout, "timeout", "t", 5*time.Second, "how long each poll may block")
	eventsCmd.Flags().IntVarP(&maxEvents, "max", "m", 0, "max events per poll (0 uses the node's default)")
	eventsCmd.Flags().BoolVar(&once, "once", false, "poll once instead of looping")

	sideCmd.AddCommand(publishCmd, dropCmd, eventsCmd)
	return sideCmd
}

// readProperties accepts inline JSON or @file syntax.
func readProperties(arg string) (json.RawMessage, error) {
	if strings.HasPrefix(arg, "@") {
		data, err := os.ReadFile(strings.TrimPrefix(arg, "@"))
		if err != nil {
			return nil, fmt.Errorf("read properties file: %w", err)
		}
		return data, nil
	}
	return json.RawMessage(arg), nil
}

func init() {
	rootCmd.AddCommand(newSideCommand("demand", "demands"))
	rootCmd.AddCommand(newSideCommand("offer", "offers"))
}
