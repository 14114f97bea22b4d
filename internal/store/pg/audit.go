package pg

import (
	"context"
	"encoding/json"
	"fmt"

	"toolgate.org/internal/audit"
)

// AuditStore persists audit records in the modular_audit table.
type AuditStore struct {
	store *Store
}

var _ audit.Store = (*AuditStore)(nil)

func (s *Store) Audit() *AuditStore { return &AuditStore{store: s} }

func (a *AuditStore) Append(ctx context.Context, rec *audit.Record) error {
	warnings, err := json.Marshal(rec.Warnings)
	if err != nil {
		return fmt.Errorf("pg: encode warnings: %w", err)
	}
	_, err = a.store.db.ExecContext(ctx, `
		insert into modular_audit(id, recorded_at, group_name, command,
		                          parameters, result, warnings, hash_sum)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, rec.ID, rec.Timestamp, rec.Group, rec.Command,
		rec.Parameters, rec.Result, warnings, rec.HashSum)
	return err
}

func (a *AuditStore) List(ctx context.Context, from, to string, limit int) ([]*audit.Record, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := a.store.db.QueryContext(ctx, `
		select id, recorded_at, group_name, command, parameters, result, warnings, hash_sum
		from modular_audit
		where ($1 = '' or recorded_at >= $1)
		  and ($2 = '' or recorded_at <= $2)
		order by id asc
		limit $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*audit.Record
	for rows.Next() {
		var rec audit.Record
		var warnings []byte
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.Group, &rec.Command,
			&rec.Parameters, &rec.Result, &warnings, &rec.HashSum); err != nil {
			return nil, err
		}
		if len(warnings) > 0 {
			if err := json.Unmarshal(warnings, &rec.Warnings); err != nil {
				return nil, fmt.Errorf("pg: decode warnings: %w", err)
			}
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}
