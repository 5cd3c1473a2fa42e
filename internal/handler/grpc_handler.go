package handler

import (
	"context"

	"google.golang.org/grpc"

	"github.com/pesio-ai/be-plt-approvals/internal/client"
	"github.com/pesio-ai/be-plt-approvals/internal/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/internal/service"
)

// ApprovalServiceServer is the gRPC surface of the approval engine.
type ApprovalServiceServer interface {
	StartApproval(context.Context, *service.StartApprovalRequest) (*repository.ApprovalRecord, error)
	GetApprovalRecord(context.Context, *client.GetApprovalRecordRequest) (*client.ApprovalRecordResponse, error)
	GetCurrentStep(context.Context, *client.RecordRequest) (*client.CurrentStepResponse, error)
	ApproveStep(context.Context, *service.ActionRequest) (*repository.ApprovalRecord, error)
	RejectStep(context.Context, *service.ActionRequest) (*repository.ApprovalRecord, error)
	DelegateStep(context.Context, *service.DelegateRequest) (*repository.ApprovalRecord, error)
	WithdrawApproval(context.Context, *service.ActionRequest) (*repository.ApprovalRecord, error)
	GetApprovalHistory(context.Context, *client.RecordRequest) (*client.HistoryResponse, error)
	ListPendingForApprover(context.Context, *client.ListPendingRequest) (*client.ListPendingResponse, error)
}

// GRPCHandler implements ApprovalServiceServer
type GRPCHandler struct {
	service  *service.ApprovalWorkflowService
	notifier *notifier
	logger   *logger.Logger
}

// NewGRPCHandler creates a new gRPC handler. publisher may be nil.
func NewGRPCHandler(svc *service.ApprovalWorkflowService, publisher *client.NotificationPublisher, log *logger.Logger) *GRPCHandler {
	log = log.Component("grpc")
	return &GRPCHandler{
		service:  svc,
		notifier: &notifier{service: svc, publisher: publisher, log: log},
		logger:   log,
	}
}

// Register attaches the handler to a gRPC server.
func (h *GRPCHandler) Register(s grpc.ServiceRegistrar) {
	s.RegisterService(&ApprovalServiceDesc, h)
}

// actor prefers the caller identity from metadata over the one in the body.
func actor(ctx context.Context, fromBody string) string {
	if uid := client.UserIDFromIncoming(ctx); uid != "" {
		return uid
	}
	return fromBody
}

// StartApproval submits an entity for approval
func (h *GRPCHandler) StartApproval(ctx context.Context, req *service.StartApprovalRequest) (*repository.ApprovalRecord, error) {
	req.InitiatorID = actor(ctx, req.InitiatorID)
	h.logger.Info().
		Str("entity_type", string(req.EntityType)).
		Str("entity_id", req.EntityID).
		Str("initiator_id", req.InitiatorID).
		Msg("gRPC StartApproval called")

	rec, err := h.service.StartApproval(ctx, *req)
	if err != nil {
		return nil, err
	}
	h.notifier.started(ctx, rec)
	return rec, nil
}

// GetApprovalRecord returns the latest record for an entity
func (h *GRPCHandler) GetApprovalRecord(ctx context.Context, req *client.GetApprovalRecordRequest) (*client.ApprovalRecordResponse, error) {
	if req.EntityID == "" {
		return nil, errors.InvalidInput("entity_id", "entity_id is required")
	}
	rec, err := h.service.GetApprovalRecord(ctx, req.EntityType, req.EntityID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errors.NotFound("approval_record", repository.EntityRef{Type: req.EntityType, ID: req.EntityID}.String())
	}
	return &client.ApprovalRecordResponse{Record: rec}, nil
}

// GetCurrentStep returns the approvers of a pending record's current step
func (h *GRPCHandler) GetCurrentStep(ctx context.Context, req *client.RecordRequest) (*client.CurrentStepResponse, error) {
	step, err := h.service.GetCurrentStep(ctx, req.RecordID)
	if err != nil {
		return nil, err
	}
	return &client.CurrentStepResponse{CurrentStep: step}, nil
}

// ApproveStep approves the current step
func (h *GRPCHandler) ApproveStep(ctx context.Context, req *service.ActionRequest) (*repository.ApprovalRecord, error) {
	req.ActorID = actor(ctx, req.ActorID)
	h.logger.Info().Str("record_id", req.RecordID).Str("acted_by", req.ActorID).Msg("gRPC ApproveStep called")

	rec, err := h.service.ApproveStep(ctx, *req)
	if err != nil {
		return nil, err
	}
	h.notifier.approved(ctx, rec, req.ActorID)
	return rec, nil
}

// RejectStep rejects the record at its current step
func (h *GRPCHandler) RejectStep(ctx context.Context, req *service.ActionRequest) (*repository.ApprovalRecord, error) {
	req.ActorID = actor(ctx, req.ActorID)
	h.logger.Info().Str("record_id", req.RecordID).Str("acted_by", req.ActorID).Msg("gRPC RejectStep called")

	rec, err := h.service.RejectStep(ctx, *req)
	if err != nil {
		return nil, err
	}
	h.notifier.rejected(ctx, rec, req.ActorID, req.Comment)
	return rec, nil
}

// DelegateStep hands the current step to another user
func (h *GRPCHandler) DelegateStep(ctx context.Context, req *service.DelegateRequest) (*repository.ApprovalRecord, error) {
	req.ActorID = actor(ctx, req.ActorID)
	h.logger.Info().
		Str("record_id", req.RecordID).
		Str("acted_by", req.ActorID).
		Str("delegate_to", req.DelegateToID).
		Msg("gRPC DelegateStep called")

	rec, err := h.service.DelegateStep(ctx, *req)
	if err != nil {
		return nil, err
	}
	h.notifier.delegated(ctx, rec, req.ActorID, req.DelegateToID)
	return rec, nil
}

// WithdrawApproval withdraws a pending record
func (h *GRPCHandler) WithdrawApproval(ctx context.Context, req *service.ActionRequest) (*repository.ApprovalRecord, error) {
	req.ActorID = actor(ctx, req.ActorID)
	h.logger.Info().Str("record_id", req.RecordID).Str("acted_by", req.ActorID).Msg("gRPC WithdrawApproval called")

	recipients := h.notifier.currentApprovers(ctx, req.RecordID)
	rec, err := h.service.WithdrawApproval(ctx, *req)
	if err != nil {
		return nil, err
	}
	h.notifier.withdrawn(ctx, rec, req.ActorID, recipients)
	return rec, nil
}

// GetApprovalHistory returns a record's history
func (h *GRPCHandler) GetApprovalHistory(ctx context.Context, req *client.RecordRequest) (*client.HistoryResponse, error) {
	history, err := h.service.GetApprovalHistory(ctx, req.RecordID)
	if err != nil {
		return nil, err
	}
	return &client.HistoryResponse{History: history}, nil
}

// ListPendingForApprover returns a user's approval inbox
func (h *GRPCHandler) ListPendingForApprover(ctx context.Context, req *client.ListPendingRequest) (*client.ListPendingResponse, error) {
	records, err := h.service.ListPendingForApprover(ctx, actor(ctx, req.UserID))
	if err != nil {
		return nil, err
	}
	return &client.ListPendingResponse{Approvals: records, Total: len(records)}, nil
}

// ── service descriptor ────────────────────────────────────────────────────────

// unaryMethod adapts a typed handler method to grpc.MethodDesc.
func unaryMethod[Req any, Resp any](
	name string,
	call func(ApprovalServiceServer, context.Context, *Req) (Resp, error),
) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(ApprovalServiceServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: client.FullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(s, ctx, req.(*Req))
			})
		},
	}
}

// ApprovalServiceDesc describes the approval service for grpc.Server. Messages
// travel with the client.JSONCodecName content-subtype.
var ApprovalServiceDesc = grpc.ServiceDesc{
	ServiceName: client.ApprovalServiceName,
	HandlerType: (*ApprovalServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(client.MethodStartApproval, ApprovalServiceServer.StartApproval),
		unaryMethod(client.MethodGetApprovalRecord, ApprovalServiceServer.GetApprovalRecord),
		unaryMethod(client.MethodGetCurrentStep, ApprovalServiceServer.GetCurrentStep),
		unaryMethod(client.MethodApproveStep, ApprovalServiceServer.ApproveStep),
		unaryMethod(client.MethodRejectStep, ApprovalServiceServer.RejectStep),
		unaryMethod(client.MethodDelegateStep, ApprovalServiceServer.DelegateStep),
		unaryMethod(client.MethodWithdrawApproval, ApprovalServiceServer.WithdrawApproval),
		unaryMethod(client.MethodGetApprovalHistory, ApprovalServiceServer.GetApprovalHistory),
		unaryMethod(client.MethodListPendingForApprover, ApprovalServiceServer.ListPendingForApprover),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "approvals/v1/approvals.json",
}
