package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/EmilLidir/spinbot-discord/internal/spin"
	"github.com/spf13/cobra"
)

// cliRequester is the cooldown key for runs started from the command line.
const cliRequester = "cli"

func newSpinCmd() *cobra.Command {
	var (
		username string
		password string
		count    int
	)

	cmd := &cobra.Command{
		Use:   "spin",
		Short: "Log in and spin the wheel count times",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				password = os.Getenv("SPINBOT_PASSWORD")
			}

			cfg, logger, err := loadConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			a, err := wireApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			return runSpin(cmd, a.service, spin.Request{
				Username: username,
				Password: password,
				Actions:  count,
			})
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "account name")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password (default $SPINBOT_PASSWORD)")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of spins")
	return cmd
}

// runSpin performs req and prints the reward summary. Rewards collected
// before a lost connection are printed before the error is returned.
func runSpin(cmd *cobra.Command, svc *spin.Service, req spin.Request) error {
	out := cmd.OutOrStdout()

	res, err := svc.Run(cmd.Context(), cliRequester, req)
	if res == nil {
		if errors.Is(err, spin.ErrInvalidRequest) {
			_ = cmd.Usage()
		}
		return err
	}

	switch {
	case err != nil:
		fmt.Fprintf(out, "Run ended early after %d of %d spins.\n", res.Replied, req.Actions)
	case res.Canceled:
		fmt.Fprintf(out, "Run canceled after %d of %d spins.\n", res.Replied, req.Actions)
	default:
		fmt.Fprintf(out, "Completed %d spins (%d without reply) in %s.\n", res.Attempted, res.Missed, res.Duration.Round(time.Millisecond))
	}
	fmt.Fprintln(out, res.Rewards.Format())
	return err
}
