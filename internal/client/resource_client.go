package client

import (
	"context"
	"fmt"

	"connectrpc.com/connect"

	"github.com/OutllierRejects/reliefops/internal/resource"
)

type ResourceClient struct {
	create          *connect.Client[resource.CreateResourceRequest, resource.ResourceResponse]
	list            *connect.Client[resource.ListResourcesRequest, resource.ListResourcesResponse]
	delete          *connect.Client[resource.DeleteResourceRequest, resource.DeleteResourceResponse]
	setAvailability *connect.Client[resource.SetAvailabilityRequest, resource.ResourceResponse]
}

func newResourceClient(c *conn) *ResourceClient {
	const svc = resource.ServiceName
	return &ResourceClient{
		create:          method[resource.CreateResourceRequest, resource.ResourceResponse](c, svc, "CreateResource"),
		list:            method[resource.ListResourcesRequest, resource.ListResourcesResponse](c, svc, "ListResources"),
		delete:          method[resource.DeleteResourceRequest, resource.DeleteResourceResponse](c, svc, "DeleteResource"),
		setAvailability: method[resource.SetAvailabilityRequest, resource.ResourceResponse](c, svc, "SetAvailability"),
	}
}

func (c *ResourceClient) Create(ctx context.Context, r *resource.Resource) (*resource.Resource, error) {
	resp, err := c.create.CallUnary(ctx, connect.NewRequest(&resource.CreateResourceRequest{Resource: r}))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return resp.Msg.Resource, nil
}

func (c *ResourceClient) List(ctx context.Context, in *resource.ListResourcesRequest) (*resource.ListResourcesResponse, error) {
	resp, err := c.list.CallUnary(ctx, connect.NewRequest(in))
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	return resp.Msg, nil
}

func (c *ResourceClient) Delete(ctx context.Context, id string) error {
	if _, err := c.delete.CallUnary(ctx, connect.NewRequest(&resource.DeleteResourceRequest{ID: id})); err != nil {
		return fmt.Errorf("failed to delete resource: %w", err)
	}
	return nil
}

func (c *ResourceClient) SetAvailability(ctx context.Context, id, status string) (*resource.Resource, error) {
	resp, err := c.setAvailability.CallUnary(ctx, connect.NewRequest(&resource.SetAvailabilityRequest{ID: id, Status: status}))
	if err != nil {
		return nil, fmt.Errorf("failed to set availability: %w", err)
	}
	return resp.Msg.Resource, nil
}
