package client

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/internal/service"
)

// ApprovalsGRPCClient calls the approval service over gRPC. Other services
// use it to submit their entities and act on approvals.
type ApprovalsGRPCClient struct {
	conn *grpc.ClientConn
}

// NewApprovalsGRPCClient dials the approvals gRPC service and returns a client.
func NewApprovalsGRPCClient(addr string, opts ...grpc.DialOption) (*ApprovalsGRPCClient, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(forwardMetadata),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(JSONCodecName)),
	}, opts...)

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	return &ApprovalsGRPCClient{conn: conn}, nil
}

// Close releases the underlying gRPC connection.
func (c *ApprovalsGRPCClient) Close() error {
	return c.conn.Close()
}

func (c *ApprovalsGRPCClient) invoke(ctx context.Context, method string, req, resp interface{}) error {
	return c.conn.Invoke(ctx, FullMethod(method), req, resp)
}

// StartApproval submits an entity for approval.
func (c *ApprovalsGRPCClient) StartApproval(ctx context.Context, req service.StartApprovalRequest) (*repository.ApprovalRecord, error) {
	var rec repository.ApprovalRecord
	if err := c.invoke(ctx, MethodStartApproval, &req, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetApprovalRecord returns the latest record for an entity, or nil if none exists.
func (c *ApprovalsGRPCClient) GetApprovalRecord(
	ctx context.Context,
	entityType repository.EntityType,
	entityID string,
) (*repository.ApprovalRecord, error) {
	var resp ApprovalRecordResponse
	err := c.invoke(ctx, MethodGetApprovalRecord, &GetApprovalRecordRequest{EntityType: entityType, EntityID: entityID}, &resp)
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
			return nil, nil
		}
		return nil, err
	}
	return resp.Record, nil
}

// GetCurrentStep returns who may act on a record, or nil once it is terminal.
func (c *ApprovalsGRPCClient) GetCurrentStep(ctx context.Context, recordID string) (*service.CurrentStep, error) {
	var resp CurrentStepResponse
	if err := c.invoke(ctx, MethodGetCurrentStep, &RecordRequest{RecordID: recordID}, &resp); err != nil {
		return nil, err
	}
	return resp.CurrentStep, nil
}

// ApproveStep approves the current step. The returned record is APPROVED
// once the last step is done.
func (c *ApprovalsGRPCClient) ApproveStep(ctx context.Context, req service.ActionRequest) (*repository.ApprovalRecord, error) {
	return c.transition(ctx, MethodApproveStep, &req)
}

// RejectStep rejects the record at its current step.
func (c *ApprovalsGRPCClient) RejectStep(ctx context.Context, req service.ActionRequest) (*repository.ApprovalRecord, error) {
	return c.transition(ctx, MethodRejectStep, &req)
}

// DelegateStep hands the current step to another user.
func (c *ApprovalsGRPCClient) DelegateStep(ctx context.Context, req service.DelegateRequest) (*repository.ApprovalRecord, error) {
	return c.transition(ctx, MethodDelegateStep, &req)
}

// WithdrawApproval withdraws a pending record on behalf of its initiator.
func (c *ApprovalsGRPCClient) WithdrawApproval(ctx context.Context, req service.ActionRequest) (*repository.ApprovalRecord, error) {
	return c.transition(ctx, MethodWithdrawApproval, &req)
}

func (c *ApprovalsGRPCClient) transition(ctx context.Context, method string, req interface{}) (*repository.ApprovalRecord, error) {
	var rec repository.ApprovalRecord
	if err := c.invoke(ctx, method, req, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetApprovalHistory returns a record's history, oldest first.
func (c *ApprovalsGRPCClient) GetApprovalHistory(ctx context.Context, recordID string) ([]*repository.ApprovalHistory, error) {
	var resp HistoryResponse
	if err := c.invoke(ctx, MethodGetApprovalHistory, &RecordRequest{RecordID: recordID}, &resp); err != nil {
		return nil, err
	}
	return resp.History, nil
}

// ListPendingForApprover returns the records userID can act on now.
func (c *ApprovalsGRPCClient) ListPendingForApprover(ctx context.Context, userID string) ([]*repository.ApprovalRecord, error) {
	var resp ListPendingResponse
	if err := c.invoke(ctx, MethodListPendingForApprover, &ListPendingRequest{UserID: userID}, &resp); err != nil {
		return nil, err
	}
	return resp.Approvals, nil
}
