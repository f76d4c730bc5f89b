package hindsight

import (
	"context"
	"testing"
)

func TestCreateBankDefaults(t *testing.T) {
	e := newTestEngine(t, 16)
	ctx := context.Background()

	b, err := e.CreateBank(ctx, Bank{Name: "agent-1"})
	if err != nil {
		t.Fatalf("CreateBank: %v", err)
	}
	if b.ID == "" {
		t.Error("expected generated bank ID")
	}
	if !b.Disposition.Valid() {
		t.Errorf("expected default disposition to be valid, got %+v", b.Disposition)
	}
	if b.Config.ReinforceThreshold != e.cfg.Defaults.ReinforceThreshold {
		t.Errorf("ReinforceThreshold = %v, want inherited default %v", b.Config.ReinforceThreshold, e.cfg.Defaults.ReinforceThreshold)
	}
}

func TestCreateBankRejectsEmptyName(t *testing.T) {
	e := newTestEngine(t, 16)
	if _, err := e.CreateBank(context.Background(), Bank{}); err == nil {
		t.Error("expected error for empty bank name")
	}
}

func TestCreateBankRejectsInvalidDisposition(t *testing.T) {
	e := newTestEngine(t, 16)
	_, err := e.CreateBank(context.Background(), Bank{Name: "x", Disposition: Disposition{Skepticism: 9, Literalism: 3, Empathy: 3}})
	if err == nil {
		t.Error("expected error for out-of-range disposition")
	}
}

func TestGetBankUsesCache(t *testing.T) {
	e := newTestEngine(t, 16)
	ctx := context.Background()
	created := mustCreateBank(t, e, "agent-1")

	got, err := e.GetBank(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetBank: %v", err)
	}
	if got.ID != created.ID || got.Name != created.Name {
		t.Errorf("GetBank returned %+v, want id/name matching %+v", got, created)
	}

	if _, err := e.GetBank(ctx, "does-not-exist"); err == nil {
		t.Error("expected ErrBankNotFound for unknown id")
	}
}

func TestListBanks(t *testing.T) {
	e := newTestEngine(t, 16)
	ctx := context.Background()
	mustCreateBank(t, e, "agent-1")
	mustCreateBank(t, e, "agent-2")

	banks, err := e.ListBanks(ctx)
	if err != nil {
		t.Fatalf("ListBanks: %v", err)
	}
	if len(banks) != 2 {
		t.Errorf("ListBanks returned %d banks, want 2", len(banks))
	}
}

func TestUpdateBank(t *testing.T) {
	e := newTestEngine(t, 16)
	ctx := context.Background()
	b := mustCreateBank(t, e, "agent-1")

	b.Name = "renamed"
	b.Mission = "new mission"
	updated, err := e.UpdateBank(ctx, *b)
	if err != nil {
		t.Fatalf("UpdateBank: %v", err)
	}
	if updated.Name != "renamed" || updated.Mission != "new mission" {
		t.Errorf("UpdateBank did not persist changes: %+v", updated)
	}

	unknown := Bank{ID: "nope", Name: "x", Disposition: DefaultDisposition()}
	if _, err := e.UpdateBank(ctx, unknown); err == nil {
		t.Error("expected ErrBankNotFound when updating an unknown bank")
	}
}

func TestUpdateBankFillsZeroConfigFromDefaults(t *testing.T) {
	e := newTestEngine(t, 16)
	ctx := context.Background()
	b := mustCreateBank(t, e, "agent-1")

	partial := Bank{ID: b.ID, Name: "renamed", Disposition: DefaultDisposition()}
	updated, err := e.UpdateBank(ctx, partial)
	if err != nil {
		t.Fatalf("UpdateBank: %v", err)
	}
	if updated.Config.ReinforceThreshold == 0 || updated.Config.TemporalWindowMs == 0 {
		t.Errorf("expected UpdateBank to fill zero-valued config from engine defaults, got %+v", updated.Config)
	}
}

func TestDeleteBankCascades(t *testing.T) {
	e := newTestEngine(t, 16)
	ctx := context.Background()
	e.cfg.Extract = singleFactExtractor(WorldFact, "Alice")
	bank := mustCreateBank(t, e, "agent-1")

	if _, err := e.Retain(ctx, bank.ID, "Alice works at Google", RetainOptions{}); err != nil {
		t.Fatalf("Retain: %v", err)
	}

	if err := e.DeleteBank(ctx, bank.ID); err != nil {
		t.Fatalf("DeleteBank: %v", err)
	}

	if _, err := e.GetBank(ctx, bank.ID); err == nil {
		t.Error("expected bank to be gone after DeleteBank")
	}

	for _, table := range []string{"hs_memories", "hs_entities", "hs_memory_entities", "hs_episodes", "hs_memory_links"} {
		var count int
		row := e.store.GetDB().QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+" WHERE bank_id = ?", bank.ID)
		if table == "hs_memory_entities" {
			row = e.store.GetDB().QueryRowContext(ctx, `
				SELECT COUNT(*) FROM hs_memory_entities WHERE memory_id IN (SELECT id FROM hs_memories WHERE bank_id = ?)`, bank.ID)
		}
		if err := row.Scan(&count); err != nil {
			t.Fatalf("scan %s: %v", table, err)
		}
		if count != 0 {
			t.Errorf("table %s still has %d rows scoped to the deleted bank", table, count)
		}
	}
}

func TestDeleteBankUnknown(t *testing.T) {
	e := newTestEngine(t, 16)
	// DeleteBank on an unknown id is a no-op delete (zero rows affected),
	// not an error — deletes are idempotent.
	if err := e.DeleteBank(context.Background(), "does-not-exist"); err != nil {
		t.Errorf("DeleteBank on unknown id returned error: %v", err)
	}
}
