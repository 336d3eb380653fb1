package cli

import (
	"fmt"
	"time"

	"github.com/Vinubaba/kids-checkin/client/reconciler"

	"github.com/spf13/cobra"
)

type syncView struct {
	Results   []resultView `json:"results"`
	Confirmed int          `json:"confirmed"`
	Refused   int          `json:"refused"`
	Remaining int          `json:"remaining"`
	Refreshed int          `json:"refreshed"`
}

func NewSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Send queued changes and refresh the cached children and services",
		Long: `Replay every queued change in order, retrying unreachable servers with
exponential backoff up to $CHECKINCTL_REPLAY_MAX_ELAPSED per change, then pull
the current state of every cached child without queued changes.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Offline {
				return NewExitError(ExitCommandError, "sync needs the server, drop --offline")
			}
			ctx := contextOf(cmd)
			s, err := openSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			// going online replays the queue then pulls every child
			started := time.Now().Truncate(time.Second)
			s.goOnline(ctx)

			v := syncView{Results: []resultView{}}
			for _, result := range s.settled() {
				v.Results = append(v.Results, view(result))
				switch result.Outcome {
				case reconciler.Confirmed:
					v.Confirmed++
				case reconciler.RolledBack:
					v.Refused++
				}
			}
			if v.Remaining, err = s.cache.CountOperations(nil); err != nil {
				return WrapExitError(ExitCommandError, "failed to read the queue", err)
			}

			if err := s.reconciler.RefreshServices(ctx); err != nil {
				s.logger.Warn(ctx, "failed to refresh services", "err", err.Error())
			}
			children, err := s.cache.ListChildren(nil)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read cached children", err)
			}
			for _, child := range children {
				if child.LastSyncedAt != nil && !child.LastSyncedAt.Before(started) {
					v.Refreshed++
				}
			}

			text := fmt.Sprintf("%d confirmed, %d refused, %d still queued, %d children refreshed", v.Confirmed, v.Refused, v.Remaining, v.Refreshed)
			for _, result := range s.settled() {
				if result.Outcome == reconciler.RolledBack {
					text += "\n  " + describe(result)
				}
			}
			if err := s.out.print("SYNCED", v, text); err != nil {
				return err
			}
			if v.Remaining > 0 {
				return NewExitError(ExitCommandError, fmt.Sprintf("%d changes could not be sent", v.Remaining))
			}
			return nil
		},
	}
}
