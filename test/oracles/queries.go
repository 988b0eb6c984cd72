package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the invariants that must hold at every commit point, even
// while propagation is mid-flight. Balance updates land on both sides of a
// pair in one transaction, so the zero-sum check never observes a torn
// write.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_pair_balances_zero_sum",
			SQL: `SELECT a.id, r.key,
                         (r.value->>'balance')::float8 + (b.relationships->a.id::text->>'balance')::float8 AS drift
                  FROM parties a
                  JOIN LATERAL jsonb_each(a.relationships) AS r(key, value) ON true
                  JOIN parties b ON b.id::text = r.key
                  WHERE a.id::text < r.key
                    AND b.relationships ? a.id::text
                    AND abs((r.value->>'balance')::float8
                          + (b.relationships->a.id::text->>'balance')::float8) > 0.005`,
		},
		{
			Name: "O2_no_duplicate_ledger_refs",
			SQL: `SELECT p.id, ref, COUNT(*)
                  FROM parties p, jsonb_array_elements_text(p.ledger_refs) AS ref
                  GROUP BY p.id, ref HAVING COUNT(*) > 1`,
		},
		{
			Name: "O3_ledger_refs_resolve",
			SQL: `SELECT p.id, ref
                  FROM parties p, jsonb_array_elements_text(p.ledger_refs) AS ref
                  WHERE NOT EXISTS (SELECT 1 FROM transactions t WHERE t.id::text = ref)`,
		},
		{
			Name: "O4_accepted_flag_consistent",
			SQL: `SELECT p.id, r.key
                  FROM parties p, jsonb_each(p.relationships) AS r(key, value)
                  WHERE (r.value->>'status' = 'accepted')
                     <> COALESCE((r.value->>'accepted')::bool, false)`,
		},
		{
			Name: "O5_edge_status_known",
			SQL: `SELECT p.id, r.key, r.value->>'status'
                  FROM parties p, jsonb_each(p.relationships) AS r(key, value)
                  WHERE r.value->>'status' NOT IN ('outgoing', 'incoming', 'accepted')`,
		},
		{
			Name: "O6_no_stale_change_events",
			SQL: `SELECT id, kind, doc_id, attempts FROM change_events
                  WHERE status = 'pending' AND now() - created_at > interval '5 minutes'`,
		},
		{
			Name: "O7_no_stale_outbox",
			SQL: `SELECT id, topic, attempts FROM outbox
                  WHERE status = 'pending' AND now() - created_at > interval '5 minutes'`,
		},
		{
			Name: "O8_no_dead_letters",
			SQL: `SELECT 'change_event ' || id::text AS ref, last_error FROM change_events WHERE status = 'dead'
                  UNION ALL
                  SELECT 'outbox ' || id::text, NULL::text FROM outbox WHERE status = 'dead'`,
		},
	}
}

// Quiescent returns the eventually-consistent invariants that only hold once
// the change feed has drained: mirrored state may lag while events are still
// pending.
func Quiescent() []Oracle {
	return []Oracle{
		{
			Name: "Q1_accepted_edges_reciprocated",
			SQL: `SELECT a.id, r.key
                  FROM parties a
                  JOIN LATERAL jsonb_each(a.relationships) AS r(key, value) ON true
                  WHERE r.value->>'status' = 'accepted'
                    AND NOT EXISTS (
                        SELECT 1 FROM parties b
                        WHERE b.id::text = r.key
                          AND b.relationships->a.id::text->>'status' = 'accepted')`,
		},
		{
			Name: "Q2_incoming_edges_backed_by_request",
			SQL: `SELECT a.id, r.key
                  FROM parties a
                  JOIN LATERAL jsonb_each(a.relationships) AS r(key, value) ON true
                  WHERE r.value->>'status' = 'incoming'
                    AND NOT EXISTS (
                        SELECT 1 FROM parties b
                        WHERE b.id::text = r.key
                          AND b.relationships->a.id::text->>'status' IN ('outgoing', 'accepted'))`,
		},
	}
}

// Run executes the given oracles and returns the first failure (name and a
// sample row) or an empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool, set []Oracle) (string, string, error) {
	for _, o := range set {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		if rows.Next() {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return o.Name, "", err
		}
	}
	return "", "", nil
}
