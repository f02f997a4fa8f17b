package queue

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/mmynk/splitledger/internal/errs"
	"github.com/mmynk/splitledger/internal/models"
)

// NewCreateExpense builds a create_expense mutation. The expense gets a
// client-side ID when it has none so later updates can target it offline.
func NewCreateExpense(req *models.ExpenseRequest) (*models.QueuedMutation, error) {
	r := *req
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return build(models.MutationCreateExpense, r.ID, r.GroupID, &r)
}

// NewUpdateExpense builds an update_expense mutation.
func NewUpdateExpense(req *models.ExpenseRequest) (*models.QueuedMutation, error) {
	if req.ID == "" {
		return nil, errs.Validation("queue.NewUpdateExpense", "expense ID is required")
	}
	return build(models.MutationUpdateExpense, req.ID, req.GroupID, req)
}

// NewDeleteExpense builds a delete_expense mutation.
func NewDeleteExpense(groupID, expenseID string) (*models.QueuedMutation, error) {
	return build(models.MutationDeleteExpense, expenseID, groupID, &models.DeleteRequest{GroupID: groupID, ID: expenseID})
}

// NewCreatePayment builds a create_payment mutation, assigning a client-side ID when missing.
func NewCreatePayment(payment *models.Payment) (*models.QueuedMutation, error) {
	p := *payment
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return build(models.MutationCreatePayment, p.ID, p.GroupID, &p)
}

// NewDeletePayment builds a delete_payment mutation.
func NewDeletePayment(groupID, paymentID string) (*models.QueuedMutation, error) {
	return build(models.MutationDeletePayment, paymentID, groupID, &models.DeleteRequest{GroupID: groupID, ID: paymentID})
}

func build(kind models.MutationKind, entityID, groupID string, payload any) (*models.QueuedMutation, error) {
	const op = "queue.build"
	if entityID == "" || groupID == "" {
		return nil, errs.Validation(op, "%s needs an entity ID and a group ID", kind)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errs.Wrap(errs.KindValidation, op, err)
	}
	return &models.QueuedMutation{
		Kind:     kind,
		EntityID: entityID,
		GroupID:  groupID,
		Payload:  data,
	}, nil
}

// DecodeExpense reads the payload of an expense create or update.
func DecodeExpense(m *models.QueuedMutation) (*models.ExpenseRequest, error) {
	var req models.ExpenseRequest
	if err := json.Unmarshal(m.Payload, &req); err != nil {
		return nil, errs.Wrap(errs.KindValidation, "queue.DecodeExpense", err)
	}
	return &req, nil
}

// DecodePayment reads the payload of a payment create.
func DecodePayment(m *models.QueuedMutation) (*models.Payment, error) {
	var p models.Payment
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return nil, errs.Wrap(errs.KindValidation, "queue.DecodePayment", err)
	}
	return &p, nil
}

// DecodeDelete reads the payload of a delete.
func DecodeDelete(m *models.QueuedMutation) (*models.DeleteRequest, error) {
	var d models.DeleteRequest
	if err := json.Unmarshal(m.Payload, &d); err != nil {
		return nil, errs.Wrap(errs.KindValidation, "queue.DecodeDelete", err)
	}
	return &d, nil
}
