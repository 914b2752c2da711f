package client

import (
	"context"
	"fmt"

	"connectrpc.com/connect"

	"github.com/OutllierRejects/reliefops/internal/request"
)

type RequestClient struct {
	submit    *connect.Client[request.SubmitRequestRequest, request.RequestResponse]
	get       *connect.Client[request.GetRequestRequest, request.RequestResponse]
	list      *connect.Client[request.ListRequestsRequest, request.ListRequestsResponse]
	cancel    *connect.Client[request.CancelRequestRequest, request.RequestResponse]
	resubmit  *connect.Client[request.ResubmitRequestRequest, request.ResubmitRequestResponse]
	approve   *connect.Client[request.ApproveRequestRequest, request.RequestResponse]
	stageLogs *connect.Client[request.ListStageLogsRequest, request.ListStageLogsResponse]
}

func newRequestClient(c *conn) *RequestClient {
	const svc = request.ServiceName
	return &RequestClient{
		submit:    method[request.SubmitRequestRequest, request.RequestResponse](c, svc, "SubmitRequest"),
		get:       method[request.GetRequestRequest, request.RequestResponse](c, svc, "GetRequest"),
		list:      method[request.ListRequestsRequest, request.ListRequestsResponse](c, svc, "ListRequests"),
		cancel:    method[request.CancelRequestRequest, request.RequestResponse](c, svc, "CancelRequest"),
		resubmit:  method[request.ResubmitRequestRequest, request.ResubmitRequestResponse](c, svc, "ResubmitRequest"),
		approve:   method[request.ApproveRequestRequest, request.RequestResponse](c, svc, "ApproveRequest"),
		stageLogs: method[request.ListStageLogsRequest, request.ListStageLogsResponse](c, svc, "ListStageLogs"),
	}
}

func (c *RequestClient) Submit(ctx context.Context, in *request.SubmitRequestRequest) (*request.View, error) {
	resp, err := c.submit.CallUnary(ctx, connect.NewRequest(in))
	if err != nil {
		return nil, fmt.Errorf("failed to submit request: %w", err)
	}
	return resp.Msg.Request, nil
}

func (c *RequestClient) Get(ctx context.Context, id string) (*request.View, error) {
	resp, err := c.get.CallUnary(ctx, connect.NewRequest(&request.GetRequestRequest{ID: id}))
	if err != nil {
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return resp.Msg.Request, nil
}

func (c *RequestClient) List(ctx context.Context, in *request.ListRequestsRequest) (*request.ListRequestsResponse, error) {
	resp, err := c.list.CallUnary(ctx, connect.NewRequest(in))
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	return resp.Msg, nil
}

func (c *RequestClient) Cancel(ctx context.Context, id, reason string) (*request.View, error) {
	resp, err := c.cancel.CallUnary(ctx, connect.NewRequest(&request.CancelRequestRequest{ID: id, Reason: reason}))
	if err != nil {
		return nil, fmt.Errorf("failed to cancel request: %w", err)
	}
	return resp.Msg.Request, nil
}

func (c *RequestClient) Resubmit(ctx context.Context, id string, async bool) (*request.ResubmitRequestResponse, error) {
	resp, err := c.resubmit.CallUnary(ctx, connect.NewRequest(&request.ResubmitRequestRequest{ID: id, Async: async}))
	if err != nil {
		return nil, fmt.Errorf("failed to resubmit request: %w", err)
	}
	return resp.Msg, nil
}

func (c *RequestClient) Approve(ctx context.Context, id string) (*request.View, error) {
	resp, err := c.approve.CallUnary(ctx, connect.NewRequest(&request.ApproveRequestRequest{ID: id}))
	if err != nil {
		return nil, fmt.Errorf("failed to approve request: %w", err)
	}
	return resp.Msg.Request, nil
}

func (c *RequestClient) StageLogs(ctx context.Context, requestID string, limit int) (*request.ListStageLogsResponse, error) {
	resp, err := c.stageLogs.CallUnary(ctx, connect.NewRequest(&request.ListStageLogsRequest{RequestID: requestID, Limit: limit}))
	if err != nil {
		return nil, fmt.Errorf("failed to list stage logs: %w", err)
	}
	return resp.Msg, nil
}
