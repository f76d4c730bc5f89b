package hindsight

import (
	"context"
	"database/sql"
	"encoding/json"
)

// CreateDirective adds a hard behavioral rule that reflect's prompt assembly
// includes, ordered by Priority (higher first).
func (e *Engine) CreateDirective(ctx context.Context, d Directive) (*Directive, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if d.Name == "" || d.Content == "" {
		return nil, wrapErr("create_directive", ErrInvalidOptions)
	}
	d.ID = newID()
	tagsJSON, _ := json.Marshal(d.Tags)
	_, err := e.store.GetDB().ExecContext(ctx, `
		INSERT INTO hs_directives (id, bank_id, name, content, priority, is_active, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.BankID, d.Name, d.Content, d.Priority, boolToInt(d.IsActive), string(tagsJSON))
	if err != nil {
		return nil, wrapErr("create_directive", err)
	}
	return &d, nil
}

// ListActiveDirectives returns a bank's active directives, highest priority first.
func (e *Engine) ListActiveDirectives(ctx context.Context, bankID string) ([]*Directive, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := e.store.GetDB().QueryContext(ctx, `
		SELECT id, bank_id, name, content, priority, is_active, tags
		FROM hs_directives WHERE bank_id = ? AND is_active = 1 ORDER BY priority DESC`, bankID)
	if err != nil {
		return nil, wrapErr("list_directives", err)
	}
	defer rows.Close()

	var out []*Directive
	for rows.Next() {
		var d Directive
		var tagsJSON sql.NullString
		if err := rows.Scan(&d.ID, &d.BankID, &d.Name, &d.Content, &d.Priority, &d.IsActive, &tagsJSON); err != nil {
			return nil, wrapErr("list_directives", err)
		}
		if tagsJSON.Valid && tagsJSON.String != "" {
			_ = json.Unmarshal([]byte(tagsJSON.String), &d.Tags)
		}
		out = append(out, &d)
	}
	return out, wrapErr("list_directives", rows.Err())
}

// SetDirectiveActive toggles a directive on or off without deleting it.
func (e *Engine) SetDirectiveActive(ctx context.Context, id string, active bool) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	res, err := e.store.GetDB().ExecContext(ctx, `UPDATE hs_directives SET is_active = ? WHERE id = ?`, boolToInt(active), id)
	if err != nil {
		return wrapErr("set_directive_active", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wrapErr("set_directive_active", ErrMemoryNotFound)
	}
	return nil
}
