package cli

import (
	"context"
	"fmt"

	"github.com/Vinubaba/kids-checkin/client/cache"
	"github.com/Vinubaba/kids-checkin/client/reconciler"
	"github.com/Vinubaba/kids-checkin/common/checkin"

	"github.com/spf13/cobra"
)

type mutateFunc func(ctx context.Context, s *session) (*reconciler.Mutation, error)

func NewCheckInCommand(opts *RootOptions) *cobra.Command {
	var serviceId, guardianId string

	cmd := &cobra.Command{
		Use:   "check-in CHILD_ID",
		Short: "Check a child in to a service on behalf of a present guardian",
		Example: `  checkinctl check-in 4c1d... --service 9a2e...
  checkinctl check-in 4c1d... --service 9a2e... --guardian 77b0... --offline`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			childId := args[0]
			return runMutation(cmd, opts, childId, func(ctx context.Context, s *session) (*reconciler.Mutation, error) {
				return s.reconciler.CheckIn(ctx, childId, serviceId, guardianId)
			})
		},
	}

	cmd.Flags().StringVar(&serviceId, "service", "", "service to check in to (required)")
	_ = cmd.MarkFlagRequired("service")
	cmd.Flags().StringVar(&guardianId, "guardian", "", "guardian handing the child over (default: the responsible adult)")

	return cmd
}

func NewCheckOutCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "check-out CHILD_ID",
		Short:         "Check a child out of its current service",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			childId := args[0]
			return runMutation(cmd, opts, childId, func(ctx context.Context, s *session) (*reconciler.Mutation, error) {
				return s.reconciler.CheckOut(ctx, childId)
			})
		},
	}
}

func NewRequestCommand(opts *RootOptions) *cobra.Command {
	var serviceId string

	cmd := &cobra.Command{
		Use:   "request CHILD_ID",
		Short: "Ask for a check-in code staff will approve",
		Long: `Create a PENDING check-in request. The code to show staff is printed
once the server accepted the request; a queued request gets its code on
the next sync.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			childId := args[0]
			return runMutation(cmd, opts, childId, func(ctx context.Context, s *session) (*reconciler.Mutation, error) {
				return s.reconciler.RequestCheckIn(ctx, childId, serviceId)
			}, func(s *session) error {
				return s.printPendingRequest(childId)
			})
		},
	}

	cmd.Flags().StringVar(&serviceId, "service", "", "service to check in to (required)")
	_ = cmd.MarkFlagRequired("service")

	return cmd
}

func NewCancelCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "cancel REQUEST_ID",
		Short:         "Cancel a pending check-in request",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			requestId := args[0]
			return runMutation(cmd, opts, "", func(ctx context.Context, s *session) (*reconciler.Mutation, error) {
				return s.reconciler.CancelRequest(ctx, requestId)
			})
		},
	}
}

// runMutation applies one mutation and prints how it settled. then runs
// once the mutation was confirmed or queued.
func runMutation(cmd *cobra.Command, opts *RootOptions, childId string, mutate mutateFunc, then ...func(s *session) error) error {
	ctx := contextOf(cmd)
	s, err := openSession(cmd, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	s.goOnline(ctx)
	if childId != "" {
		if err := s.ensureChild(ctx, childId); err != nil {
			return err
		}
	}

	m, err := mutate(ctx, s)
	if err != nil {
		return WrapExitError(ExitFailure, checkin.UserMessage(err), err)
	}
	result, err := m.Wait(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "interrupted", err)
	}
	s.reconciler.Wait()
	// a queued change may have been sent by a background retry since
	for _, settled := range s.settled() {
		if settled.OperationId == result.OperationId {
			result = settled
		}
	}

	if err := s.out.print(string(result.Outcome), view(result), describe(result)); err != nil {
		return err
	}
	if result.Outcome == reconciler.RolledBack {
		return NewExitError(ExitFailure, result.Message())
	}
	for _, fn := range then {
		if err := fn(s); err != nil {
			return err
		}
	}
	return nil
}

// ensureChild fetches a child the cache does not know yet.
func (s *session) ensureChild(ctx context.Context, childId string) error {
	_, err := s.cache.GetChild(nil, childId)
	if err != cache.ErrNotFound {
		return err
	}
	if s.opts.Offline {
		return NewExitError(ExitFailure, fmt.Sprintf("child %s is not in the local cache, sync it while online first", childId))
	}
	if err := s.reconciler.Refresh(ctx, childId); err != nil {
		return WrapExitError(ExitFailure, checkin.UserMessage(err), err)
	}
	return nil
}

// printPendingRequest shows the code of the pending request of the child,
// once the server assigned one.
func (s *session) printPendingRequest(childId string) error {
	request, err := s.cache.PendingRequestOfChild(nil, childId)
	if err != nil || cache.IsProvisional(request.RequestId) {
		return nil
	}
	return s.out.print("PENDING", request, fmt.Sprintf("code %s, valid until %s", request.Token, request.ExpiresAt.Local().Format("15:04")))
}

type resultView struct {
	OperationId string `json:"operationId"`
	Type        string `json:"type"`
	ChildId     string `json:"childId"`
	Outcome     string `json:"outcome"`
	Code        string `json:"code,omitempty"`
	Message     string `json:"message,omitempty"`
}

func view(result reconciler.Result) resultView {
	v := resultView{
		OperationId: result.OperationId,
		Type:        result.Type,
		ChildId:     result.ChildId,
		Outcome:     string(result.Outcome),
	}
	if result.Err != nil {
		v.Code = checkin.Code(result.Err)
		v.Message = result.Message()
	}
	return v
}

func describe(result reconciler.Result) string {
	switch result.Outcome {
	case reconciler.Confirmed:
		return fmt.Sprintf("%s %s: done", result.Type, result.ChildId)
	case reconciler.Queued:
		return fmt.Sprintf("%s %s: saved on this device, will be sent on the next sync", result.Type, result.ChildId)
	case reconciler.RolledBack:
		if result.Err == nil {
			return fmt.Sprintf("%s %s: withdrawn", result.Type, result.ChildId)
		}
		return fmt.Sprintf("%s %s: refused, %s", result.Type, result.ChildId, result.Message())
	}
	return fmt.Sprintf("%s %s: %s", result.Type, result.ChildId, result.Outcome)
}
