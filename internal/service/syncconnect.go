package service

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

// SyncServiceName is the fully-qualified name of the sync status service.
const SyncServiceName = "splitledger.sync.v1.SyncService"

// Procedure paths of SyncService.
const (
	GetStatusProcedure       = "/" + SyncServiceName + "/GetStatus"
	ListMutationsProcedure   = "/" + SyncServiceName + "/ListMutations"
	SubmitMutationProcedure  = "/" + SyncServiceName + "/SubmitMutation"
	TriggerSyncProcedure     = "/" + SyncServiceName + "/TriggerSync"
	RetryMutationProcedure   = "/" + SyncServiceName + "/RetryMutation"
	DiscardMutationProcedure = "/" + SyncServiceName + "/DiscardMutation"
	GetBalancesProcedure     = "/" + SyncServiceName + "/GetBalances"
	WatchEventsProcedure     = "/" + SyncServiceName + "/WatchEvents"
)

// NewSyncServiceHandler builds an HTTP handler serving svc and returns the
// path to mount it on.
func NewSyncServiceHandler(svc *SyncService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(GetStatusProcedure, connect.NewUnaryHandler(GetStatusProcedure, svc.GetStatus, opts...))
	mux.Handle(ListMutationsProcedure, connect.NewUnaryHandler(ListMutationsProcedure, svc.ListMutations, opts...))
	mux.Handle(SubmitMutationProcedure, connect.NewUnaryHandler(SubmitMutationProcedure, svc.SubmitMutation, opts...))
	mux.Handle(TriggerSyncProcedure, connect.NewUnaryHandler(TriggerSyncProcedure, svc.TriggerSync, opts...))
	mux.Handle(RetryMutationProcedure, connect.NewUnaryHandler(RetryMutationProcedure, svc.RetryMutation, opts...))
	mux.Handle(DiscardMutationProcedure, connect.NewUnaryHandler(DiscardMutationProcedure, svc.DiscardMutation, opts...))
	mux.Handle(GetBalancesProcedure, connect.NewUnaryHandler(GetBalancesProcedure, svc.GetBalances, opts...))
	mux.Handle(WatchEventsProcedure, connect.NewServerStreamHandler(WatchEventsProcedure, svc.WatchEvents, opts...))

	return "/" + SyncServiceName + "/", mux
}

// SyncServiceClient calls a SyncService over connect.
type SyncServiceClient struct {
	getStatus       *connect.Client[GetStatusRequest, GetStatusResponse]
	listMutations   *connect.Client[ListMutationsRequest, ListMutationsResponse]
	submitMutation  *connect.Client[SubmitMutationRequest, SubmitMutationResponse]
	triggerSync     *connect.Client[TriggerSyncRequest, TriggerSyncResponse]
	retryMutation   *connect.Client[MutationKeyRequest, MutationResponse]
	discardMutation *connect.Client[MutationKeyRequest, MutationResponse]
	getBalances     *connect.Client[GetBalancesRequest, GetBalancesResponse]
	watchEvents     *connect.Client[WatchEventsRequest, WatchEventsResponse]
}

// NewSyncServiceClient creates a client for the service at baseURL.
func NewSyncServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *SyncServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	return &SyncServiceClient{
		getStatus:       connect.NewClient[GetStatusRequest, GetStatusResponse](httpClient, baseURL+GetStatusProcedure, opts...),
		listMutations:   connect.NewClient[ListMutationsRequest, ListMutationsResponse](httpClient, baseURL+ListMutationsProcedure, opts...),
		submitMutation:  connect.NewClient[SubmitMutationRequest, SubmitMutationResponse](httpClient, baseURL+SubmitMutationProcedure, opts...),
		triggerSync:     connect.NewClient[TriggerSyncRequest, TriggerSyncResponse](httpClient, baseURL+TriggerSyncProcedure, opts...),
		retryMutation:   connect.NewClient[MutationKeyRequest, MutationResponse](httpClient, baseURL+RetryMutationProcedure, opts...),
		discardMutation: connect.NewClient[MutationKeyRequest, MutationResponse](httpClient, baseURL+DiscardMutationProcedure, opts...),
		getBalances:     connect.NewClient[GetBalancesRequest, GetBalancesResponse](httpClient, baseURL+GetBalancesProcedure, opts...),
		watchEvents:     connect.NewClient[WatchEventsRequest, WatchEventsResponse](httpClient, baseURL+WatchEventsProcedure, opts...),
	}
}

func (c *SyncServiceClient) GetStatus(ctx context.Context, req *connect.Request[GetStatusRequest]) (*connect.Response[GetStatusResponse], error) {
	return c.getStatus.CallUnary(ctx, req)
}

func (c *SyncServiceClient) ListMutations(ctx context.Context, req *connect.Request[ListMutationsRequest]) (*connect.Response[ListMutationsResponse], error) {
	return c.listMutations.CallUnary(ctx, req)
}

func (c *SyncServiceClient) SubmitMutation(ctx context.Context, req *connect.Request[SubmitMutationRequest]) (*connect.Response[SubmitMutationResponse], error) {
	return c.submitMutation.CallUnary(ctx, req)
}

func (c *SyncServiceClient) TriggerSync(ctx context.Context, req *connect.Request[TriggerSyncRequest]) (*connect.Response[TriggerSyncResponse], error) {
	return c.triggerSync.CallUnary(ctx, req)
}

func (c *SyncServiceClient) RetryMutation(ctx context.Context, req *connect.Request[MutationKeyRequest]) (*connect.Response[MutationResponse], error) {
	return c.retryMutation.CallUnary(ctx, req)
}

func (c *SyncServiceClient) DiscardMutation(ctx context.Context, req *connect.Request[MutationKeyRequest]) (*connect.Response[MutationResponse], error) {
	return c.discardMutation.CallUnary(ctx, req)
}

func (c *SyncServiceClient) GetBalances(ctx context.Context, req *connect.Request[GetBalancesRequest]) (*connect.Response[GetBalancesResponse], error) {
	return c.getBalances.CallUnary(ctx, req)
}

func (c *SyncServiceClient) WatchEvents(ctx context.Context, req *connect.Request[WatchEventsRequest]) (*connect.ServerStreamForClient[WatchEventsResponse], error) {
	return c.watchEvents.CallServerStream(ctx, req)
}
