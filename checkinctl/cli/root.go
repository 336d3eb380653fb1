// Package cli is the command line of a check-in device: mutations are
// applied to a local cache first and sent to the server when it is
// reachable.
package cli

import (
	"context"
	"fmt"
	"sync"

	"github.com/Vinubaba/kids-checkin/client/cache"
	"github.com/Vinubaba/kids-checkin/client/reconciler"
	"github.com/Vinubaba/kids-checkin/common/api"
	"github.com/Vinubaba/kids-checkin/common/log"

	"github.com/spf13/cobra"
)

var ValidFormats = []string{"text", "json"}

// RootOptions holds the global flags. Flags win over CHECKINCTL_* variables.
type RootOptions struct {
	Verbose   bool
	Format    string
	Offline   bool
	CachePath string
	ApiUrl    string

	Config *Config

	// api replaces the HTTP client in tests.
	api api.RemoteCheckInAPI
}

func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkinctl",
		Short: "Kids church check-in device client",
		Long: `Check children in and out from a device that may lose its connection.

Every change is applied to the local cache right away. Changes the server
could not be reached for are queued and replayed by "checkinctl sync" or
while "checkinctl watch" is connected.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			config, err := LoadConfig()
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid configuration", err)
			}
			if opts.CachePath != "" {
				config.CachePath = opts.CachePath
			}
			if opts.ApiUrl != "" {
				config.ApiUrl = opts.ApiUrl
			}
			opts.Config = config
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log to stderr")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVar(&opts.Offline, "offline", false, "do not contact the server, queue every change")
	cmd.PersistentFlags().StringVar(&opts.CachePath, "cache", "", "path to the local cache (default $CHECKINCTL_CACHE_PATH)")
	cmd.PersistentFlags().StringVar(&opts.ApiUrl, "api-url", "", "server url (default $CHECKINCTL_API_URL)")

	cmd.AddCommand(NewCheckInCommand(opts))
	cmd.AddCommand(NewCheckOutCommand(opts))
	cmd.AddCommand(NewRequestCommand(opts))
	cmd.AddCommand(NewCancelCommand(opts))
	cmd.AddCommand(NewPendingCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// session is the cache and reconciler one command works with.
type session struct {
	opts       *RootOptions
	logger     *log.Logger
	cache      *cache.Cache
	reconciler *reconciler.Reconciler
	out        *formatter

	mu      sync.Mutex
	results []reconciler.Result
}

func openSession(cmd *cobra.Command, opts *RootOptions) (*session, error) {
	logger := log.NewNopLogger()
	if opts.Verbose {
		logger = log.NewLoggerTo(cmd.ErrOrStderr(), "checkinctl")
	}

	remote := opts.api
	if remote == nil {
		client, err := api.NewDefaultClient(opts.Config.ApiUrl, opts.Config.Token)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid api url", err)
		}
		remote = client
	}

	c, err := cache.Open(opts.Config.CachePath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open cache", err)
	}

	s := &session{
		opts:   opts,
		logger: logger,
		cache:  c,
		out:    &formatter{format: opts.Format, writer: cmd.OutOrStdout()},
	}
	s.reconciler = &reconciler.Reconciler{
		Cache:             c,
		Api:               remote,
		Logger:            logger,
		ActorId:           opts.Config.ActorId,
		ReplayMaxElapsed:  opts.Config.ReplayMaxElapsed,
		ReplayConcurrency: opts.Config.ReplayConcurrency,
		OnResult:          s.collect,
	}
	return s, nil
}

func (s *session) collect(result reconciler.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
}

// settled returns the results of the session, at most one per operation.
func (s *session) settled() []reconciler.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	last := map[string]int{}
	settled := []reconciler.Result{}
	for _, result := range s.results {
		if i, ok := last[result.OperationId]; ok {
			settled[i] = result
			continue
		}
		last[result.OperationId] = len(settled)
		settled = append(settled, result)
	}
	return settled
}

// goOnline marks the server reachable unless --offline, and waits for the
// replay of what was queued before.
func (s *session) goOnline(ctx context.Context) {
	if s.opts.Offline {
		return
	}
	s.reconciler.SetOnline(ctx, true)
	s.reconciler.Wait()
}

func (s *session) Close() {
	s.reconciler.Wait()
	s.cache.Close()
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
