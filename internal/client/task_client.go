package client

import (
	"context"
	"fmt"

	"connectrpc.com/connect"

	"github.com/OutllierRejects/reliefops/internal/task"
)

type TaskClient struct {
	list         *connect.Client[task.ListTasksRequest, task.ListTasksResponse]
	updateStatus *connect.Client[task.UpdateTaskStatusRequest, task.TaskResponse]
}

func newTaskClient(c *conn) *TaskClient {
	const svc = task.ServiceName
	return &TaskClient{
		list:         method[task.ListTasksRequest, task.ListTasksResponse](c, svc, "ListTasks"),
		updateStatus: method[task.UpdateTaskStatusRequest, task.TaskResponse](c, svc, "UpdateTaskStatus"),
	}
}

func (c *TaskClient) List(ctx context.Context, in *task.ListTasksRequest) (*task.ListTasksResponse, error) {
	resp, err := c.list.CallUnary(ctx, connect.NewRequest(in))
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return resp.Msg, nil
}

func (c *TaskClient) UpdateStatus(ctx context.Context, id, status string) (*task.Task, error) {
	resp, err := c.updateStatus.CallUnary(ctx, connect.NewRequest(&task.UpdateTaskStatusRequest{ID: id, Status: status}))
	if err != nil {
		return nil, fmt.Errorf("failed to update task status: %w", err)
	}
	return resp.Msg.Task, nil
}
