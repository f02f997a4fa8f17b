package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/splitledger/internal/api"
	"github.com/mmynk/splitledger/internal/auth"
	"github.com/mmynk/splitledger/internal/connectivity"
	"github.com/mmynk/splitledger/internal/events"
	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/internal/middleware"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/queue"
	"github.com/mmynk/splitledger/internal/remote"
	"github.com/mmynk/splitledger/internal/storage/memory"
	"github.com/mmynk/splitledger/internal/syncer"
)

type testEnv struct {
	client  *SyncServiceClient
	service *SyncService
	agent   *httptest.Server
	ledger  *ledger.Service
	groupID string
}

// setupSyncTestServer wires a ledger server, a sync agent and a client.
func setupSyncTestServer(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	jwtManager := auth.NewJWTManager("secret", time.Hour)
	token, err := jwtManager.Generate("alice")
	require.NoError(t, err)

	ledgerSvc := ledger.New(memory.New(), nil)
	group, err := ledgerSvc.CreateGroup(ctx, &models.Group{Name: "Cabin", Members: []string{"alice", "bob", "carol"}})
	require.NoError(t, err)
	ledgerSrv := httptest.NewServer(api.NewRouter(ledgerSvc, jwtManager, nil, nil))
	t.Cleanup(ledgerSrv.Close)

	q, err := queue.Open(ctx, filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	rc := remote.New(ledgerSrv.URL, remote.WithToken(token))
	monitor := connectivity.NewMonitor(rc, time.Minute, true)
	orch := syncer.New(q, rc, monitor, syncer.Config{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		syncer.WithBroker(events.NewBroker()))

	svc := NewSyncService(q, orch, rc)
	path, handler := NewSyncServiceHandler(svc,
		connect.WithInterceptors(middleware.LoggingInterceptor()))
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	agent := httptest.NewServer(mux)
	t.Cleanup(agent.Close)

	return &testEnv{
		client:  NewSyncServiceClient(http.DefaultClient, agent.URL),
		service: svc,
		agent:   agent,
		ledger:  ledgerSvc,
		groupID: group.ID,
	}
}

func (e *testEnv) submitExpense(t *testing.T, amountMajor string) *models.QueuedMutation {
	t.Helper()
	resp, err := e.client.SubmitMutation(context.Background(), connect.NewRequest(&SubmitMutationRequest{
		Kind: models.MutationCreateExpense,
		Expense: &models.ExpenseRequest{
			Expense:      models.Expense{GroupID: e.groupID, Description: "Firewood", Currency: "usd", PayerID: "alice"},
			Participants: []string{"alice", "bob", "carol"},
		},
		AmountMajor: amountMajor,
	}))
	require.NoError(t, err)
	return resp.Msg.Mutation
}

func TestSyncService_SubmitSyncAndBalances(t *testing.T) {
	ctx := context.Background()
	env := setupSyncTestServer(t)

	queued := env.submitExpense(t, "30.00")
	assert.Equal(t, models.StatusPending, queued.Status)
	assert.NotEmpty(t, queued.IdempotencyKey)

	list, err := env.client.ListMutations(ctx, connect.NewRequest(&ListMutationsRequest{}))
	require.NoError(t, err)
	require.Len(t, list.Msg.Mutations, 1)

	before, err := env.client.GetBalances(ctx, connect.NewRequest(&GetBalancesRequest{GroupID: env.groupID}))
	require.NoError(t, err)
	assert.Equal(t, 1, before.Msg.PendingMutations)
	for _, b := range before.Msg.Balances {
		assert.Zero(t, b.Net, "best-effort read does not see queued writes")
	}

	synced, err := env.client.TriggerSync(ctx, connect.NewRequest(&TriggerSyncRequest{Wait: true}))
	require.NoError(t, err)
	require.NotNil(t, synced.Msg.Summary)
	assert.Equal(t, 1, synced.Msg.Summary.Confirmed)

	expenses, err := env.ledger.ListExpenses(ctx, env.groupID)
	require.NoError(t, err)
	require.Len(t, expenses, 1)
	assert.Equal(t, int64(3000), expenses[0].Amount)
	assert.Equal(t, queued.EntityID, expenses[0].ID)

	after, err := env.client.GetBalances(ctx, connect.NewRequest(&GetBalancesRequest{GroupID: env.groupID, Strict: true}))
	require.NoError(t, err)
	assert.Zero(t, after.Msg.PendingMutations)
	assert.False(t, after.Msg.LastSyncedAt.IsZero())

	net := map[string]int64{}
	for _, b := range after.Msg.Balances {
		net[b.UserID] = b.Net
	}
	assert.Equal(t, map[string]int64{"alice": 2000, "bob": -1000, "carol": -1000}, net)
	assert.Equal(t, []models.SettlementSuggestion{
		{FromUserID: "bob", ToUserID: "alice", Amount: 1000, Currency: "USD"},
		{FromUserID: "carol", ToUserID: "alice", Amount: 1000, Currency: "USD"},
	}, after.Msg.Settlements)

	status, err := env.client.GetStatus(ctx, connect.NewRequest(&GetStatusRequest{}))
	require.NoError(t, err)
	assert.Equal(t, syncer.StateIdle, status.Msg.Status.State)
	assert.Equal(t, syncer.StateComplete, status.Msg.Status.LastCycle.State)
}

func TestSyncService_SubmitValidation(t *testing.T) {
	env := setupSyncTestServer(t)

	tests := []struct {
		name string
		req  *SubmitMutationRequest
	}{
		{"unknown kind", &SubmitMutationRequest{Kind: "rename_group"}},
		{"expense missing", &SubmitMutationRequest{Kind: models.MutationCreateExpense}},
		{"payment missing", &SubmitMutationRequest{Kind: models.MutationCreatePayment}},
		{"delete without ids", &SubmitMutationRequest{Kind: models.MutationDeleteExpense}},
		{"bad major amount", &SubmitMutationRequest{
			Kind:        models.MutationCreatePayment,
			Payment:     &models.Payment{GroupID: "g", FromUserID: "bob", ToUserID: "alice", Currency: "USD"},
			AmountMajor: "1.234",
		}},
		{"update without id", &SubmitMutationRequest{
			Kind:    models.MutationUpdateExpense,
			Expense: &models.ExpenseRequest{Expense: models.Expense{GroupID: "g"}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.client.SubmitMutation(context.Background(), connect.NewRequest(tt.req))
			require.Error(t, err)
			assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
		})
	}
}

func TestSyncService_FailedMutationResolution(t *testing.T) {
	ctx := context.Background()
	env := setupSyncTestServer(t)

	// A payment from a non-member is rejected by the ledger.
	resp, err := env.client.SubmitMutation(ctx, connect.NewRequest(&SubmitMutationRequest{
		Kind:    models.MutationCreatePayment,
		Payment: &models.Payment{GroupID: env.groupID, FromUserID: "mallory", ToUserID: "alice", Amount: 500, Currency: "USD"},
	}))
	require.NoError(t, err)
	key := resp.Msg.Mutation.IdempotencyKey

	synced, err := env.client.TriggerSync(ctx, connect.NewRequest(&TriggerSyncRequest{Wait: true}))
	require.NoError(t, err)
	assert.Equal(t, 1, synced.Msg.Summary.Failed)

	failed, err := env.client.ListMutations(ctx, connect.NewRequest(&ListMutationsRequest{Status: models.StatusFailed}))
	require.NoError(t, err)
	require.Len(t, failed.Msg.Mutations, 1)
	assert.Equal(t, "not_found", failed.Msg.Mutations[0].ErrorKind)

	_, err = env.client.GetBalances(ctx, connect.NewRequest(&GetBalancesRequest{GroupID: env.groupID, Strict: true}))
	assert.Equal(t, connect.CodeFailedPrecondition, connect.CodeOf(err))

	retried, err := env.client.RetryMutation(ctx, connect.NewRequest(&MutationKeyRequest{IdempotencyKey: key}))
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, retried.Msg.Mutation.Status)
	assert.Zero(t, retried.Msg.Mutation.Attempts)

	_, err = env.client.DiscardMutation(ctx, connect.NewRequest(&MutationKeyRequest{IdempotencyKey: key}))
	assert.Equal(t, connect.CodeFailedPrecondition, connect.CodeOf(err), "only failed mutations can be discarded")

	_, err = env.client.TriggerSync(ctx, connect.NewRequest(&TriggerSyncRequest{Wait: true}))
	require.NoError(t, err)

	discarded, err := env.client.DiscardMutation(ctx, connect.NewRequest(&MutationKeyRequest{IdempotencyKey: key}))
	require.NoError(t, err)
	assert.Equal(t, key, discarded.Msg.Mutation.IdempotencyKey)

	_, err = env.client.RetryMutation(ctx, connect.NewRequest(&MutationKeyRequest{IdempotencyKey: key}))
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))

	list, err := env.client.ListMutations(ctx, connect.NewRequest(&ListMutationsRequest{}))
	require.NoError(t, err)
	assert.Empty(t, list.Msg.Mutations)
}

func TestSyncService_GetBalancesUnknownGroup(t *testing.T) {
	env := setupSyncTestServer(t)

	_, err := env.client.GetBalances(context.Background(), connect.NewRequest(&GetBalancesRequest{GroupID: "nope"}))
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))

	_, err = env.client.GetBalances(context.Background(), connect.NewRequest(&GetBalancesRequest{}))
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestSyncService_WatchEvents(t *testing.T) {
	env := setupSyncTestServer(t)
	env.submitExpense(t, "9.00")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := env.client.WatchEvents(ctx, connect.NewRequest(&WatchEventsRequest{}))
	require.NoError(t, err)
	defer stream.Close()

	require.True(t, stream.Receive(), "stream error: %v", stream.Err())
	first := stream.Msg()
	assert.Equal(t, events.SyncStatus, first.Event.Type)
	require.NotNil(t, first.Status)
	assert.Equal(t, 1, first.Status.QueueDepth)

	_, err = env.client.TriggerSync(ctx, connect.NewRequest(&TriggerSyncRequest{Wait: true}))
	require.NoError(t, err)

	var types []events.Type
	for stream.Receive() {
		e := stream.Msg().Event
		types = append(types, e.Type)
		if e.Type == events.SyncComplete {
			assert.Equal(t, 1, e.Confirmed)
			break
		}
	}
	assert.Equal(t, []events.Type{events.SyncStart, events.SyncProgress, events.SyncComplete}, types)
}

func TestSyncService_ShutdownEndsWatchers(t *testing.T) {
	env := setupSyncTestServer(t)
	env.agent.Config.RegisterOnShutdown(env.service.Shutdown)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := env.client.WatchEvents(ctx, connect.NewRequest(&WatchEventsRequest{}))
	require.NoError(t, err)
	defer stream.Close()
	require.True(t, stream.Receive(), "stream error: %v", stream.Err())

	shutdownCtx, stop := context.WithTimeout(ctx, 2*time.Second)
	defer stop()
	require.NoError(t, env.agent.Config.Shutdown(shutdownCtx))

	assert.False(t, stream.Receive())
	assert.NoError(t, stream.Err())

	// Shutdown is idempotent.
	env.service.Shutdown()
}

func TestFilterStatus(t *testing.T) {
	in := []*models.QueuedMutation{
		{IdempotencyKey: "a", Status: models.StatusPending},
		{IdempotencyKey: "b", Status: models.StatusInFlight},
		{IdempotencyKey: "c", Status: models.StatusPending},
	}
	out := filterStatus(in, models.StatusPending)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].IdempotencyKey)
	assert.Equal(t, "c", out[1].IdempotencyKey)
}
