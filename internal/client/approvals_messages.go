package client

import (
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/internal/service"
)

// ApprovalServiceName is the fully qualified gRPC service name.
const ApprovalServiceName = "approvals.v1.ApprovalService"

// gRPC method names.
const (
	MethodStartApproval          = "StartApproval"
	MethodGetApprovalRecord      = "GetApprovalRecord"
	MethodGetCurrentStep         = "GetCurrentStep"
	MethodApproveStep            = "ApproveStep"
	MethodRejectStep             = "RejectStep"
	MethodDelegateStep           = "DelegateStep"
	MethodWithdrawApproval       = "WithdrawApproval"
	MethodGetApprovalHistory     = "GetApprovalHistory"
	MethodListPendingForApprover = "ListPendingForApprover"
)

// FullMethod returns the wire path of an approval service method.
func FullMethod(method string) string {
	return "/" + ApprovalServiceName + "/" + method
}

// GetApprovalRecordRequest looks up the latest record for an entity.
type GetApprovalRecordRequest struct {
	EntityType repository.EntityType `json:"entity_type"`
	EntityID   string                `json:"entity_id"`
}

// ApprovalRecordResponse wraps a record that may be absent.
type ApprovalRecordResponse struct {
	Record *repository.ApprovalRecord `json:"record"`
}

// RecordRequest addresses a single approval record.
type RecordRequest struct {
	RecordID string `json:"record_id"`
}

// CurrentStepResponse is nil-valued when the record is terminal.
type CurrentStepResponse struct {
	CurrentStep *service.CurrentStep `json:"current_step"`
}

// HistoryResponse lists a record's history in order.
type HistoryResponse struct {
	History []*repository.ApprovalHistory `json:"history"`
}

// ListPendingRequest asks for a user's approval inbox.
type ListPendingRequest struct {
	UserID string `json:"user_id"`
}

// ListPendingResponse is a user's approval inbox.
type ListPendingResponse struct {
	Approvals []*repository.ApprovalRecord `json:"approvals"`
	Total     int                          `json:"total"`
}
