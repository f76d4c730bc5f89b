package hindsight

import (
	"context"
	"time"

	"github.com/embedded-minds/hindsight/pkg/core"
	"github.com/embedded-minds/hindsight/pkg/graph"
)

const graphNodeTypeMemory = "memory"

// temporalLinkMinWeight floors the decayed weight assigned to a temporal
// link so distant-but-still-in-window pairs keep a non-trivial edge.
const temporalLinkMinWeight = 0.3

// temporalLinkTopN bounds how many neighbors-by-event_date each memory links
// to, so a dense burst of retains doesn't fan out into a clique.
const temporalLinkTopN = 10

// semanticLinkTopK and semanticLinkThreshold bound the k-NN semantic link
// search: the nearest candidates by embedding similarity, kept only above
// the similarity floor.
const semanticLinkTopK = 5
const semanticLinkThreshold = 0.7

// linkEdge is a link row already committed to hs_memory_links, pending a
// best-effort mirror into the graph substrate.
type linkEdge struct {
	sourceID string
	targetID string
	linkType LinkType
	weight   float64
}

// syncGraphNode mirrors a memory into the graph substrate so traversal-based
// recall and link building can use GraphStore's edge/neighbor queries instead
// of re-querying hs_memories by hand.
func (e *Engine) syncGraphNode(ctx context.Context, m *MemoryUnit) error {
	return e.graph.UpsertNode(ctx, &graph.GraphNode{
		ID:       m.ID,
		Vector:   m.Vector,
		Content:  m.Content,
		NodeType: graphNodeTypeMemory,
		Properties: map[string]interface{}{
			"bank_id":   m.BankID,
			"fact_type": string(m.FactType),
		},
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	})
}

// mirrorLinksToGraph is the post-commit, best-effort half of link building:
// the graph substrate is a secondary index over the same edges, so a failure
// here is logged and swallowed rather than unwinding the already-committed
// hs_memory_links rows.
func (e *Engine) mirrorLinksToGraph(ctx context.Context, m *MemoryUnit, edges []linkEdge) {
	if err := e.syncGraphNode(ctx, m); err != nil {
		e.cfg.Logger.Warn("graph node sync failed", "memory_id", m.ID, "error", err)
		return
	}
	for _, ed := range edges {
		err := e.graph.UpsertEdge(ctx, &graph.GraphEdge{
			ID:         newID(),
			FromNodeID: ed.sourceID,
			ToNodeID:   ed.targetID,
			EdgeType:   string(ed.linkType),
			Weight:     ed.weight,
			CreatedAt:  time.Now(),
		})
		if err != nil {
			e.cfg.Logger.Warn("graph edge sync failed", "source", ed.sourceID, "target", ed.targetID, "error", err)
		}
	}
}

// addLinkTx records a typed directed edge between two memories in
// hs_memory_links. The graph substrate mirror is a separate, post-commit
// step; see mirrorLinksToGraph.
func (e *Engine) addLinkTx(ctx context.Context, db dbExecutor, bankID, sourceID, targetID string, lt LinkType, weight float64) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO hs_memory_links (id, bank_id, source_id, target_id, link_type, weight, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(bank_id, source_id, target_id, link_type) DO UPDATE SET weight = excluded.weight`,
		newID(), bankID, sourceID, targetID, lt, weight, time.Now().UnixMilli())
	return err
}

func (e *Engine) countMemoryEntities(ctx context.Context, db dbExecutor, memoryID string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM hs_memory_entities WHERE memory_id = ?`, memoryID).Scan(&n)
	return n, err
}

// buildLinks wires a newly retained memory into the link graph: entity edges
// weighted by the fraction of each side's entities that are shared, a
// window-bounded and bidirectional set of temporal edges with a distance
// decay, a semantic k-NN edge set over the already-computed embedding, and a
// caused_by edge either from a router reconsolidation or from the extracted
// fact's own causalRelations pointing at another new-trace fact from the
// same Retain call. It returns the edges written, for the caller to mirror
// into the graph substrate after the surrounding transaction commits.
func (e *Engine) buildLinks(ctx context.Context, db dbExecutor, bank *Bank, m *MemoryUnit, entityIDs []string, reconsolidatedFrom string, causalRelations []CausalRelation, newTraceByIndex map[int]*MemoryUnit) ([]linkEdge, error) {
	var edges []linkEdge

	// Entity links: weight is the fraction of entities shared with the peer,
	// relative to the larger of the two entity counts.
	peerShared := map[string]int{}
	for _, entID := range entityIDs {
		rows, err := db.QueryContext(ctx, `
			SELECT memory_id FROM hs_memory_entities WHERE entity_id = ? AND memory_id != ? LIMIT 50`, entID, m.ID)
		if err != nil {
			return nil, err
		}
		var peers []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			peers = append(peers, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
		for _, peer := range peers {
			peerShared[peer]++
		}
	}
	for peer, shared := range peerShared {
		peerCount, err := e.countMemoryEntities(ctx, db, peer)
		if err != nil {
			return nil, err
		}
		denom := len(entityIDs)
		if peerCount > denom {
			denom = peerCount
		}
		if denom < 1 {
			denom = 1
		}
		weight := float64(shared) / float64(denom)
		if err := e.addLinkTx(ctx, db, bank.ID, m.ID, peer, LinkEntity, weight); err != nil {
			return nil, err
		}
		edges = append(edges, linkEdge{m.ID, peer, LinkEntity, weight})
	}

	// Temporal links: top-N nearest neighbors by event_date within the
	// bank's temporal window, inserted in both directions with a weight that
	// decays linearly with distance.
	windowMs := bank.Config.TemporalWindowMs
	if windowMs <= 0 {
		windowMs = 24 * 60 * 60 * 1000
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, event_date FROM hs_memories
		WHERE bank_id = ? AND id != ? AND event_date BETWEEN ? AND ?
		ORDER BY ABS(event_date - ?) ASC LIMIT ?`,
		bank.ID, m.ID, m.EventDate-windowMs, m.EventDate+windowMs, m.EventDate, temporalLinkTopN)
	if err != nil {
		return nil, err
	}
	type neighbor struct {
		id        string
		eventDate int64
	}
	var neighbors []neighbor
	for rows.Next() {
		var n neighbor
		if err := rows.Scan(&n.id, &n.eventDate); err != nil {
			rows.Close()
			return nil, err
		}
		neighbors = append(neighbors, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, n := range neighbors {
		dist := n.eventDate - m.EventDate
		if dist < 0 {
			dist = -dist
		}
		weight := 1 - float64(dist)/float64(windowMs)
		if weight < temporalLinkMinWeight {
			weight = temporalLinkMinWeight
		}
		if err := e.addLinkTx(ctx, db, bank.ID, m.ID, n.id, LinkTemporal, weight); err != nil {
			return nil, err
		}
		edges = append(edges, linkEdge{m.ID, n.id, LinkTemporal, weight})
		if err := e.addLinkTx(ctx, db, bank.ID, n.id, m.ID, LinkTemporal, weight); err != nil {
			return nil, err
		}
		edges = append(edges, linkEdge{n.id, m.ID, LinkTemporal, weight})
	}

	// Semantic links: k-NN over the already-computed embedding, no
	// re-embedding. m's own vector has not been indexed yet at this point in
	// Retain, so the search can't self-match.
	if len(m.Vector) > 0 {
		scored, err := e.store.Search(ctx, m.Vector, core.SearchOptions{
			Collection: memoryCollection,
			TopK:       semanticLinkTopK,
			Filter:     map[string]string{"bank_id": bank.ID},
		})
		if err != nil {
			return nil, err
		}
		for _, s := range scored {
			if s.ID == m.ID || s.Score < semanticLinkThreshold {
				continue
			}
			if err := e.addLinkTx(ctx, db, bank.ID, m.ID, s.ID, LinkSemantic, s.Score); err != nil {
				return nil, err
			}
			edges = append(edges, linkEdge{m.ID, s.ID, LinkSemantic, s.Score})
		}
	}

	if reconsolidatedFrom != "" {
		if err := e.addLinkTx(ctx, db, bank.ID, m.ID, reconsolidatedFrom, LinkCausedBy, 1.0); err != nil {
			return nil, err
		}
		edges = append(edges, linkEdge{m.ID, reconsolidatedFrom, LinkCausedBy, 1.0})
	}

	for _, rel := range causalRelations {
		target, ok := newTraceByIndex[rel.TargetIndex]
		if !ok || target == nil || target.ID == m.ID {
			continue
		}
		if err := e.addLinkTx(ctx, db, bank.ID, m.ID, target.ID, LinkCausedBy, rel.Strength); err != nil {
			return nil, err
		}
		edges = append(edges, linkEdge{m.ID, target.ID, LinkCausedBy, rel.Strength})
	}

	return edges, nil
}

// linkedMemoryIDs returns the ids reachable from seed within maxDepth hops,
// used by recall's graph-traversal candidate generator.
func (e *Engine) linkedMemoryIDs(ctx context.Context, seed string, maxDepth int) ([]string, error) {
	nodes, err := e.graph.Neighbors(ctx, seed, graph.TraversalOptions{MaxDepth: maxDepth})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.ID)
	}
	return out, nil
}

// RelatedMemories hydrates the memories reachable from a seed memory within
// maxDepth hops of the link graph (entity co-mention, temporal succession,
// reconsolidation causality). Unlike Recall's graph candidate generator this
// is not fused with any other channel — it is a direct graph walk for
// inspection/debugging surfaces.
func (e *Engine) RelatedMemories(ctx context.Context, seedID string, maxDepth int) ([]*MemoryUnit, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if maxDepth <= 0 {
		maxDepth = 2
	}
	ids, err := e.linkedMemoryIDs(ctx, seedID, maxDepth)
	if err != nil {
		return nil, wrapErr("related_memories", err)
	}
	out := make([]*MemoryUnit, 0, len(ids))
	for _, id := range ids {
		m, err := e.getMemoryUnit(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}
