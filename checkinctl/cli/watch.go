package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Vinubaba/kids-checkin/client/notifications"
	"github.com/Vinubaba/kids-checkin/common/checkin"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"
)

type WatchOptions struct {
	*RootOptions
	Children  []string
	Services  []string
	Reconnect bool
}

func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow check-in status changes and keep the cache current",
		Long: `Subscribe to the status events of children and services and apply them
to the local cache. While connected the device is online: queued changes are
replayed on every (re)connection.

Without --child or --service every cached child is followed.`,
		Example: `  checkinctl watch
  checkinctl watch --service 9a2e... --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Children, "child", nil, "child to follow (repeatable)")
	cmd.Flags().StringSliceVar(&opts.Services, "service", nil, "service to follow (repeatable)")
	cmd.Flags().BoolVar(&opts.Reconnect, "reconnect", true, "reconnect with backoff when the connection drops")

	return cmd
}

func runWatch(cmd *cobra.Command, opts *WatchOptions) error {
	if opts.Offline {
		return NewExitError(ExitCommandError, "watch needs the server, drop --offline")
	}
	ctx, stop := signal.NotifyContext(contextOf(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.Close()

	topics, err := watchedTopics(s, opts)
	if err != nil {
		return err
	}

	failed := make(chan struct{}, 1)
	client := &notifications.Client{
		Url:    opts.Config.WsUrl,
		Origin: opts.Config.WsOrigin,
		Token:  opts.Config.Token,
		Logger: s.logger,
		OnEvent: func(event checkin.StatusEvent) {
			if err := s.reconciler.HandleEvent(ctx, event); err != nil {
				s.logger.Err(ctx, "failed to apply event", "childId", event.ChildId, "err", err.Error())
			}
			s.out.print("EVENT", event, fmt.Sprintf("%s child %s %s -> %s", event.Time().Local().Format("15:04:05"),
				event.ChildId, event.PreviousStatus, event.NewStatus))
		},
		OnStatus: func(status notifications.Status) {
			s.reconciler.SetOnline(ctx, status == notifications.StatusConnected)
			s.out.print(string(status), nil, "connection "+string(status))
			if status == notifications.StatusFailed {
				select {
				case failed <- struct{}{}:
				default:
				}
			}
		},
	}
	for _, topic := range topics {
		if err := client.Subscribe(topic); err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("cannot follow %s", topic), err)
		}
	}
	defer client.Disconnect()

	if err := connect(ctx, client.Connect, opts.Reconnect); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-failed:
			if !opts.Reconnect {
				return NewExitError(ExitCommandError, "connection lost")
			}
			if err := connect(ctx, client.Retry, true); err != nil {
				return err
			}
		}
	}
}

// connect dials once, or until it succeeds or ctx ends when persistent.
func connect(ctx context.Context, dial func(context.Context) error, persistent bool) error {
	if !persistent {
		if err := dial(ctx); err != nil {
			return WrapExitError(ExitCommandError, "failed to connect", err)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0
	err := backoff.Retry(func() error {
		if err := dial(ctx); err != nil {
			if !checkin.IsTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil && ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to connect", err)
	}
	return nil
}

func watchedTopics(s *session, opts *WatchOptions) ([]string, error) {
	topics := []string{}
	for _, childId := range opts.Children {
		topics = append(topics, checkin.ChildTopic(childId))
	}
	for _, serviceId := range opts.Services {
		topics = append(topics, checkin.ServiceTopic(serviceId))
	}
	if len(topics) > 0 {
		return topics, nil
	}

	children, err := s.cache.ListChildren(nil)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read cached children", err)
	}
	for _, child := range children {
		topics = append(topics, checkin.ChildTopic(child.ChildId))
	}
	if len(topics) == 0 {
		return nil, NewExitError(ExitCommandError, "nothing to follow, pass --child or --service")
	}
	return topics, nil
}
