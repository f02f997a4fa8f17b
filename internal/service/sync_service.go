package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"connectrpc.com/connect"

	"github.com/mmynk/splitledger/internal/calculator"
	"github.com/mmynk/splitledger/internal/errs"
	"github.com/mmynk/splitledger/internal/events"
	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/money"
	"github.com/mmynk/splitledger/internal/queue"
	"github.com/mmynk/splitledger/internal/syncer"
)

// eventBuffer is the per-watcher event buffer.
const eventBuffer = 64

// LedgerReader reads the remote ledger for local balance computation.
type LedgerReader interface {
	GetGroup(ctx context.Context, groupID string) (*models.Group, error)
	ListExpenses(ctx context.Context, groupID string) ([]*models.Expense, error)
	ListPayments(ctx context.Context, groupID string) ([]*models.Payment, error)
}

// SyncService implements the Connect SyncService
type SyncService struct {
	queue  *queue.Queue
	syncer *syncer.Orchestrator
	ledger LedgerReader

	closeOnce sync.Once
	done      chan struct{}
}

// NewSyncService creates a SyncService over the local queue and orchestrator.
func NewSyncService(q *queue.Queue, o *syncer.Orchestrator, reader LedgerReader) *SyncService {
	return &SyncService{queue: q, syncer: o, ledger: reader, done: make(chan struct{})}
}

// Shutdown ends every open WatchEvents stream. Register it with
// http.Server.RegisterOnShutdown so a graceful stop does not wait on watchers.
func (s *SyncService) Shutdown() {
	s.closeOnce.Do(func() { close(s.done) })
}

// GetStatus returns the orchestrator state and queue figures.
func (s *SyncService) GetStatus(ctx context.Context, req *connect.Request[GetStatusRequest]) (*connect.Response[GetStatusResponse], error) {
	status, err := s.syncer.Status(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&GetStatusResponse{Status: status}), nil
}

// ListMutations lists queued mutations, optionally filtered by status.
func (s *SyncService) ListMutations(ctx context.Context, req *connect.Request[ListMutationsRequest]) (*connect.Response[ListMutationsResponse], error) {
	var (
		mutations []*models.QueuedMutation
		err       error
	)
	switch req.Msg.Status {
	case "":
		mutations, err = s.queue.List(ctx)
	case models.StatusFailed:
		mutations, err = s.queue.ListFailed(ctx)
	case models.StatusPending, models.StatusInFlight:
		mutations, err = s.queue.ListPending(ctx)
		mutations = filterStatus(mutations, req.Msg.Status)
	default:
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("unknown mutation status"))
	}
	if err != nil {
		return nil, toConnectError(err)
	}
	if mutations == nil {
		mutations = []*models.QueuedMutation{}
	}
	return connect.NewResponse(&ListMutationsResponse{Mutations: mutations}), nil
}

// SubmitMutation enqueues an offline write and asks the orchestrator to sync.
// It returns as soon as the mutation is durable locally.
func (s *SyncService) SubmitMutation(ctx context.Context, req *connect.Request[SubmitMutationRequest]) (*connect.Response[SubmitMutationResponse], error) {
	slog.Info("SubmitMutation request received", "kind", req.Msg.Kind, "group_id", req.Msg.GroupID)

	m, err := buildMutation(req.Msg)
	if err != nil {
		return nil, toConnectError(err)
	}
	queued, err := s.queue.Enqueue(ctx, m)
	if err != nil {
		slog.Error("SubmitMutation failed", "kind", req.Msg.Kind, "error", err)
		return nil, toConnectError(err)
	}
	s.syncer.Trigger()

	slog.Info("Mutation queued",
		"key", queued.IdempotencyKey,
		"kind", queued.Kind,
		"entity_id", queued.EntityID,
		"seq", queued.Seq,
	)
	return connect.NewResponse(&SubmitMutationResponse{Mutation: queued}), nil
}

// TriggerSync requests a drain cycle, or runs one when Wait is set.
func (s *SyncService) TriggerSync(ctx context.Context, req *connect.Request[TriggerSyncRequest]) (*connect.Response[TriggerSyncResponse], error) {
	if !req.Msg.Wait {
		s.syncer.Trigger()
		return connect.NewResponse(&TriggerSyncResponse{}), nil
	}

	summary, err := s.syncer.SyncNow(ctx)
	if errors.Is(err, syncer.ErrSyncInProgress) {
		return connect.NewResponse(&TriggerSyncResponse{InProgress: true}), nil
	}
	// A failed cycle still has a summary worth returning.
	if err != nil && summary == nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&TriggerSyncResponse{Summary: summary}), nil
}

// RetryMutation returns a failed mutation to the queue.
func (s *SyncService) RetryMutation(ctx context.Context, req *connect.Request[MutationKeyRequest]) (*connect.Response[MutationResponse], error) {
	m, err := s.queue.Retry(ctx, req.Msg.IdempotencyKey)
	if err != nil {
		return nil, toConnectError(err)
	}
	slog.Info("Mutation returned to queue", "key", m.IdempotencyKey)
	s.syncer.Trigger()
	return connect.NewResponse(&MutationResponse{Mutation: m}), nil
}

// DiscardMutation drops a failed mutation.
func (s *SyncService) DiscardMutation(ctx context.Context, req *connect.Request[MutationKeyRequest]) (*connect.Response[MutationResponse], error) {
	m, err := s.queue.Discard(ctx, req.Msg.IdempotencyKey)
	if err != nil {
		return nil, toConnectError(err)
	}
	slog.Warn("Mutation discarded", "key", m.IdempotencyKey, "kind", m.Kind, "entity_id", m.EntityID)
	return connect.NewResponse(&MutationResponse{Mutation: m}), nil
}

// GetBalances computes balances and a settlement plan from the remote
// ledger. Without Strict the figures may miss queued local writes.
func (s *SyncService) GetBalances(ctx context.Context, req *connect.Request[GetBalancesRequest]) (*connect.Response[GetBalancesResponse], error) {
	groupID := req.Msg.GroupID
	if groupID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("group_id is required"))
	}

	if req.Msg.Strict {
		if err := s.syncer.WaitSynced(ctx); err != nil {
			return nil, toConnectError(err)
		}
	}

	group, err := s.ledger.GetGroup(ctx, groupID)
	if err != nil {
		return nil, toConnectError(err)
	}
	expenses, err := s.ledger.ListExpenses(ctx, groupID)
	if err != nil {
		return nil, toConnectError(err)
	}
	payments, err := s.ledger.ListPayments(ctx, groupID)
	if err != nil {
		return nil, toConnectError(err)
	}

	balances, err := calculator.CalculateBalances(expenses, payments)
	if err != nil {
		slog.Error("Balance calculation failed", "group_id", groupID, "error", err)
		return nil, toConnectError(err)
	}
	balances = ledger.WithMembers(balances, group.Members)
	plan, err := calculator.PlanSettlements(balances)
	if err != nil {
		slog.Error("Settlement planning failed", "group_id", groupID, "error", err)
		return nil, toConnectError(err)
	}

	status, err := s.syncer.Status(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	if plan == nil {
		plan = []models.SettlementSuggestion{}
	}
	return connect.NewResponse(&GetBalancesResponse{
		Balances:         balances,
		Settlements:      plan,
		PendingMutations: status.QueueDepth,
		LastSyncedAt:     status.LastSyncedAt,
	}), nil
}

// WatchEvents streams orchestrator events, starting with a status snapshot.
func (s *SyncService) WatchEvents(ctx context.Context, req *connect.Request[WatchEventsRequest], stream *connect.ServerStream[WatchEventsResponse]) error {
	ch, unsubscribe := s.syncer.Broker().Subscribe(eventBuffer)
	defer unsubscribe()

	status, err := s.syncer.Status(ctx)
	if err != nil {
		return toConnectError(err)
	}
	snapshot := &WatchEventsResponse{
		Event:  events.Event{Type: events.SyncStatus, Total: status.QueueDepth, Failed: status.Failed},
		Status: status,
	}
	if err := stream.Send(snapshot); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			if err := stream.Send(&WatchEventsResponse{Event: e}); err != nil {
				return err
			}
		}
	}
}

func buildMutation(req *SubmitMutationRequest) (*models.QueuedMutation, error) {
	const op = "service.SubmitMutation"
	switch req.Kind {
	case models.MutationCreateExpense, models.MutationUpdateExpense:
		if req.Expense == nil {
			return nil, errs.Validation(op, "%s needs an expense", req.Kind)
		}
		exp := *req.Expense
		if req.AmountMajor != "" {
			amount, err := majorAmount(req.AmountMajor, exp.Currency)
			if err != nil {
				return nil, err
			}
			exp.Amount = amount
		}
		if req.Kind == models.MutationCreateExpense {
			return queue.NewCreateExpense(&exp)
		}
		return queue.NewUpdateExpense(&exp)
	case models.MutationCreatePayment:
		if req.Payment == nil {
			return nil, errs.Validation(op, "create_payment needs a payment")
		}
		p := *req.Payment
		if req.AmountMajor != "" {
			amount, err := majorAmount(req.AmountMajor, p.Currency)
			if err != nil {
				return nil, err
			}
			p.Amount = amount
		}
		return queue.NewCreatePayment(&p)
	case models.MutationDeleteExpense:
		return queue.NewDeleteExpense(req.GroupID, req.EntityID)
	case models.MutationDeletePayment:
		return queue.NewDeletePayment(req.GroupID, req.EntityID)
	default:
		return nil, errs.Validation(op, "unknown mutation kind %q", req.Kind)
	}
}

func majorAmount(s, currency string) (int64, error) {
	c, err := money.NormalizeCurrency(currency)
	if err != nil {
		return 0, err
	}
	return money.ParseMajor(s, c)
}

func filterStatus(mutations []*models.QueuedMutation, status models.MutationStatus) []*models.QueuedMutation {
	out := mutations[:0]
	for _, m := range mutations {
		if m.Status == status {
			out = append(out, m)
		}
	}
	return out
}

// toConnectError maps the error taxonomy to connect codes.
func toConnectError(err error) error {
	if errors.Is(err, context.Canceled) {
		return connect.NewError(connect.CodeCanceled, err)
	}
	var code connect.Code
	switch errs.KindOf(err) {
	case errs.KindValidation:
		code = connect.CodeInvalidArgument
	case errs.KindNotFound:
		code = connect.CodeNotFound
	case errs.KindConflict:
		code = connect.CodeFailedPrecondition
	case errs.KindTransient:
		code = connect.CodeUnavailable
	default:
		code = connect.CodeInternal
	}
	return connect.NewError(code, err)
}
