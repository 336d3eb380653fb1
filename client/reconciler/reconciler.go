// Package reconciler applies check-in mutations optimistically to the local
// cache, sends them to the server, and reconciles the cache with what the
// server decides.
//
// Every mutation ends Confirmed, Queued or RolledBack. Business errors roll
// the optimistic change back and are never retried. Transport errors keep
// the optimistic change and leave the operation queued; it is retried with
// backoff right away when online, and on Replay otherwise.
// Operations of one child are sent strictly in order, children are
// independent.
package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/Vinubaba/kids-checkin/client/cache"
	"github.com/Vinubaba/kids-checkin/common/api"
	"github.com/Vinubaba/kids-checkin/common/checkin"
	"github.com/Vinubaba/kids-checkin/common/log"
)

type Outcome string

const (
	Optimistic Outcome = "OPTIMISTIC"
	Confirmed  Outcome = "CONFIRMED"
	Queued     Outcome = "QUEUED"
	RolledBack Outcome = "ROLLED_BACK"
)

const (
	defaultReplayInitialInterval = 500 * time.Millisecond
	defaultReplayMaxElapsed      = 30 * time.Second
	defaultReplayConcurrency     = 4
)

// Result is the fate of one mutation. Err is the business error of a roll
// back or the transport error that queued the operation.
type Result struct {
	OperationId string
	Type        string
	ChildId     string
	Outcome     Outcome
	Err         error
}

// Message is the text to show for the result, empty when there is nothing
// to tell.
func (r Result) Message() string {
	if r.Err == nil {
		return ""
	}
	return checkin.UserMessage(r.Err)
}

// Mutation follows one optimistic change until its first settlement.
type Mutation struct {
	OperationId string
	ChildId     string

	once   sync.Once
	done   chan struct{}
	result Result
}

func newMutation(op cache.PendingOperation) *Mutation {
	return &Mutation{
		OperationId: op.OperationId,
		ChildId:     op.ChildId,
		done:        make(chan struct{}),
		result: Result{
			OperationId: op.OperationId,
			Type:        op.Type,
			ChildId:     op.ChildId,
			Outcome:     Optimistic,
		},
	}
}

func (m *Mutation) settle(result Result) {
	m.once.Do(func() {
		m.result = result
		close(m.done)
	})
}

func (m *Mutation) Done() <-chan struct{} {
	return m.done
}

// Wait blocks until the mutation is confirmed, queued or rolled back.
func (m *Mutation) Wait(ctx context.Context) (Result, error) {
	select {
	case <-m.done:
		return m.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

type Reconciler struct {
	Cache   *cache.Cache
	Api     api.RemoteCheckInAPI
	Logger  *log.Logger
	ActorId string
	Now     func() time.Time

	ReplayInitialInterval time.Duration
	// ReplayMaxElapsed bounds the retries of one operation during Replay.
	ReplayMaxElapsed  time.Duration
	ReplayConcurrency int

	// OnResult is told about every settlement, including the ones of
	// operations queued by a previous run.
	OnResult func(Result)

	mu        sync.Mutex
	online    bool
	lanes     map[string]*sync.Mutex
	mutations map[string]*Mutation
	retrying  map[string]bool
	wg        sync.WaitGroup
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Reconciler) Online() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.online
}

// SetOnline records connectivity. Going online replays the queue, then
// pulls every cached child since the events published while offline were
// lost. Both run in the background, see Wait.
func (r *Reconciler) SetOnline(ctx context.Context, online bool) {
	r.mu.Lock()
	wasOnline := r.online
	r.online = online
	r.mu.Unlock()

	if !online || wasOnline {
		return
	}
	ctx = context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.Replay(ctx); err != nil {
			r.Logger.Warn(ctx, "replay incomplete", "err", err.Error())
		}
		pulled, err := r.RefreshAll(ctx)
		if err != nil {
			r.Logger.Warn(ctx, "pull after reconnect incomplete", "pulled", pulled, "err", err.Error())
			return
		}
		r.Logger.Debug(ctx, "pulled after reconnect", "pulled", pulled)
	}()
}

// Wait blocks until every background send and replay started so far is
// finished.
func (r *Reconciler) Wait() {
	r.wg.Wait()
}

func (r *Reconciler) lane(childId string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lanes == nil {
		r.lanes = map[string]*sync.Mutex{}
	}
	lane, ok := r.lanes[childId]
	if !ok {
		lane = &sync.Mutex{}
		r.lanes[childId] = lane
	}
	return lane
}

func (r *Reconciler) track(op cache.PendingOperation) *Mutation {
	m := newMutation(op)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mutations == nil {
		r.mutations = map[string]*Mutation{}
	}
	r.mutations[op.OperationId] = m
	return m
}

func (r *Reconciler) report(op cache.PendingOperation, outcome Outcome, cause error) {
	result := Result{
		OperationId: op.OperationId,
		Type:        op.Type,
		ChildId:     op.ChildId,
		Outcome:     outcome,
		Err:         cause,
	}

	r.mu.Lock()
	m, ok := r.mutations[op.OperationId]
	if ok && outcome != Queued {
		delete(r.mutations, op.OperationId)
	}
	r.mu.Unlock()

	if ok {
		m.settle(result)
	}
	if r.OnResult != nil {
		r.OnResult(result)
	}
}

// dispatch sends op in the background when online, otherwise settles it as
// queued right away.
func (r *Reconciler) dispatch(ctx context.Context, op cache.PendingOperation) *Mutation {
	m := r.track(op)
	if !r.Online() {
		r.report(op, Queued, checkin.ErrNetwork)
		return m
	}

	ctx = context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		err := r.drain(ctx, op.ChildId, false)
		if err == nil {
			return
		}
		r.Logger.Debug(ctx, "operations left queued", "childId", op.ChildId, "err", err.Error())
		if checkin.IsTransient(err) && r.Online() {
			r.retry(ctx, op.ChildId)
		}
	}()
	return m
}

// retry replays the queue of a child with backoff in the background, once
// at a time per child.
func (r *Reconciler) retry(ctx context.Context, childId string) {
	r.mu.Lock()
	if r.retrying == nil {
		r.retrying = map[string]bool{}
	}
	if r.retrying[childId] {
		r.mu.Unlock()
		return
	}
	r.retrying[childId] = true
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.retrying, childId)
			r.mu.Unlock()
		}()
		if err := r.drain(ctx, childId, true); err != nil {
			r.Logger.Warn(ctx, "retries exhausted, operations stay queued", "childId", childId, "err", err.Error())
		}
	}()
}
