package hindsight

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// Enqueue records a background task, deduplicated on (bankID, taskType,
// payload): an identical pending or processing operation is returned instead
// of creating a duplicate row.
func (e *Engine) Enqueue(ctx context.Context, bankID string, taskType TaskType, payload string, documentID string) (*AsyncOperation, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	key := stablePayloadKey(bankID, string(taskType), canonicalPayload(payload))

	existing, err := e.findActiveOperation(ctx, bankID, key)
	if err != nil {
		return nil, wrapErr("enqueue", err)
	}
	if existing != nil {
		return existing, nil
	}

	now := time.Now()
	op := &AsyncOperation{
		ID:         newID(),
		BankID:     bankID,
		TaskType:   taskType,
		Status:     OpPending,
		PayloadKey: key,
		Payload:    payload,
		DocumentID: documentID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	_, err = e.store.GetDB().ExecContext(ctx, `
		INSERT INTO hs_async_operations (id, bank_id, task_type, status, payload_key, payload, items_count, document_id, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, '', ?, ?)`,
		op.ID, op.BankID, op.TaskType, op.Status, op.PayloadKey, op.Payload, op.DocumentID,
		now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return nil, wrapErr("enqueue", err)
	}
	return op, nil
}

func (e *Engine) findActiveOperation(ctx context.Context, bankID, payloadKey string) (*AsyncOperation, error) {
	row := e.store.GetDB().QueryRowContext(ctx, `
		SELECT id, bank_id, task_type, status, payload_key, payload, items_count, document_id, error_message, created_at, updated_at
		FROM hs_async_operations
		WHERE bank_id = ? AND payload_key = ? AND status IN (?, ?)
		ORDER BY created_at DESC LIMIT 1`, bankID, payloadKey, OpPending, OpProcessing)
	op, err := scanAsyncOp(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return op, nil
}

// GetOperation looks up an async operation by id.
func (e *Engine) GetOperation(ctx context.Context, id string) (*AsyncOperation, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	row := e.store.GetDB().QueryRowContext(ctx, `
		SELECT id, bank_id, task_type, status, payload_key, payload, items_count, document_id, error_message, created_at, updated_at
		FROM hs_async_operations WHERE id = ?`, id)
	op, err := scanAsyncOp(row)
	if err == sql.ErrNoRows {
		return nil, wrapErr("get_operation", ErrOperationNotFound)
	}
	if err != nil {
		return nil, wrapErr("get_operation", err)
	}
	return op, nil
}

// ListOperations lists a bank's operations, optionally filtered by status,
// newest first.
func (e *Engine) ListOperations(ctx context.Context, bankID string, status OpStatus, limit, offset int) ([]*AsyncOperation, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, bank_id, task_type, status, payload_key, payload, items_count, document_id, error_message, created_at, updated_at
		FROM hs_async_operations WHERE bank_id = ?`
	args := []any{bankID}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := e.store.GetDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list_operations", err)
	}
	defer rows.Close()

	var out []*AsyncOperation
	for rows.Next() {
		op, err := scanAsyncOp(rows)
		if err != nil {
			return nil, wrapErr("list_operations", err)
		}
		out = append(out, op)
	}
	return out, wrapErr("list_operations", rows.Err())
}

// transitionOperation moves an operation through pending -> processing ->
// completed|failed, rejecting any other transition.
func (e *Engine) transitionOperation(ctx context.Context, id string, to OpStatus, errMsg string) error {
	op, err := e.GetOperation(ctx, id)
	if err != nil {
		return err
	}
	if !validTransition(op.Status, to) {
		return wrapErr("transition_operation", ErrInvalidOptions)
	}
	_, err = e.store.GetDB().ExecContext(ctx, `
		UPDATE hs_async_operations SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		to, errMsg, time.Now().UnixMilli(), id)
	return wrapErr("transition_operation", err)
}

func validTransition(from, to OpStatus) bool {
	switch from {
	case OpPending:
		return to == OpProcessing || to == OpFailed
	case OpProcessing:
		return to == OpCompleted || to == OpFailed
	default:
		return false
	}
}

// CancelOperation cancels a pending operation. Operations already processing
// or finished cannot be canceled.
func (e *Engine) CancelOperation(ctx context.Context, id string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	op, err := e.GetOperation(ctx, id)
	if err != nil {
		return err
	}
	if op.Status != OpPending {
		return wrapErr("cancel_operation", ErrCannotCancel)
	}
	_, err = e.store.GetDB().ExecContext(ctx, `
		UPDATE hs_async_operations SET status = ?, updated_at = ? WHERE id = ?`,
		OpFailed, time.Now().UnixMilli(), id)
	return wrapErr("cancel_operation", err)
}

// DrainPendingOperations processes up to limit pending async operations for
// a bank (or every bank, when bankID is ""), oldest first, transitioning
// each through processing -> completed|failed. It returns how many it
// processed; a per-operation failure is recorded on the operation row and
// does not stop the drain.
func (e *Engine) DrainPendingOperations(ctx context.Context, bankID string, limit int) (int, error) {
	if err := e.checkOpen(); err != nil {
		return 0, err
	}
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, bank_id, task_type, status, payload_key, payload, items_count, document_id, error_message, created_at, updated_at
		FROM hs_async_operations WHERE status = ?`
	args := []any{OpPending}
	if bankID != "" {
		query += " AND bank_id = ?"
		args = append(args, bankID)
	}
	query += " ORDER BY created_at ASC LIMIT ?"
	args = append(args, limit)

	rows, err := e.store.GetDB().QueryContext(ctx, query, args...)
	if err != nil {
		return 0, wrapErr("drain_pending_operations", err)
	}
	var ops []*AsyncOperation
	for rows.Next() {
		op, err := scanAsyncOp(rows)
		if err != nil {
			rows.Close()
			return 0, wrapErr("drain_pending_operations", err)
		}
		ops = append(ops, op)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, wrapErr("drain_pending_operations", err)
	}

	processed := 0
	for _, op := range ops {
		if err := e.transitionOperation(ctx, op.ID, OpProcessing, ""); err != nil {
			continue
		}
		if err := e.processOperation(ctx, op); err != nil {
			_ = e.transitionOperation(ctx, op.ID, OpFailed, err.Error())
			e.cfg.Logger.Warn("async operation failed", "operation_id", op.ID, "task_type", op.TaskType, "error", err)
		} else {
			_ = e.transitionOperation(ctx, op.ID, OpCompleted, "")
		}
		processed++
	}
	return processed, nil
}

// processOperation dispatches one async operation to the handler for its
// task type. TaskRetain operations are enqueued by callers that want their
// own retain to happen off the request path; this engine's own Retain always
// runs inline, so TaskRetain has no handler here and completes as a no-op.
func (e *Engine) processOperation(ctx context.Context, op *AsyncOperation) error {
	switch op.TaskType {
	case TaskRefreshMentalModel:
		_, err := e.RefreshMentalModel(ctx, op.Payload)
		return err
	case TaskConsolidation:
		_, err := e.RunConsolidation(ctx, op.BankID, ConsolidationOptions{})
		return err
	case TaskRetain:
		return nil
	default:
		return nil
	}
}

func scanAsyncOp(row rowScanner) (*AsyncOperation, error) {
	var op AsyncOperation
	var createdMs, updatedMs int64
	if err := row.Scan(&op.ID, &op.BankID, &op.TaskType, &op.Status, &op.PayloadKey, &op.Payload,
		&op.ItemsCount, &op.DocumentID, &op.ErrorMessage, &createdMs, &updatedMs); err != nil {
		return nil, err
	}
	op.CreatedAt = time.UnixMilli(createdMs)
	op.UpdatedAt = time.UnixMilli(updatedMs)
	return &op, nil
}
