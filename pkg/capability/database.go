package capability

import (
	"context"
	"fmt"

	"github.com/kaori/plughost/pkg/host"
	"github.com/kaori/plughost/pkg/manifest"
)

// Database is the SQL façade over the host's per-plugin database.
type Database struct {
	gate *gate
}

// Rows is the decoded result set of a query.
type Rows []map[string]any

func decodeRows(res host.Result) Rows {
	raw, ok := res["rows"].([]any)
	if !ok {
		return nil
	}
	rows := make(Rows, 0, len(raw))
	for _, r := range raw {
		if m, ok := r.(map[string]any); ok {
			rows = append(rows, m)
		}
	}
	return rows
}

// Query runs a read statement.
func (d *Database) Query(ctx context.Context, query string, params ...any) (Rows, error) {
	res, err := d.gate.call(ctx, "database", manifest.PermissionDatabase, "db.query", host.Args{
		"query":  query,
		"params": params,
	})
	if err != nil {
		return nil, err
	}
	return decodeRows(res), nil
}

// Execute runs a write statement and returns the affected row count.
func (d *Database) Execute(ctx context.Context, query string, params ...any) (int, error) {
	res, err := d.gate.call(ctx, "database", manifest.PermissionDatabase, "db.execute", host.Args{
		"query":  query,
		"params": params,
	})
	if err != nil {
		return 0, err
	}
	return resultInt(res, "affected")
}

// Tx is an open host-side transaction. All statements issued through it
// carry the transaction handle.
type Tx struct {
	db *Database
	id string
}

// Query runs a read statement inside the transaction.
func (t *Tx) Query(ctx context.Context, query string, params ...any) (Rows, error) {
	res, err := t.db.gate.call(ctx, "database", manifest.PermissionDatabase, "db.query", host.Args{
		"query":  query,
		"params": params,
		"txId":   t.id,
	})
	if err != nil {
		return nil, err
	}
	return decodeRows(res), nil
}

// Execute runs a write statement inside the transaction.
func (t *Tx) Execute(ctx context.Context, query string, params ...any) (int, error) {
	res, err := t.db.gate.call(ctx, "database", manifest.PermissionDatabase, "db.execute", host.Args{
		"query":  query,
		"params": params,
		"txId":   t.id,
	})
	if err != nil {
		return 0, err
	}
	return resultInt(res, "affected")
}

// Transaction runs fn inside a host transaction, committing on nil and
// rolling back on error or panic.
func (d *Database) Transaction(ctx context.Context, fn func(tx *Tx) error) (err error) {
	res, err := d.gate.call(ctx, "database", manifest.PermissionDatabase, "db.begin", nil)
	if err != nil {
		return err
	}
	tx := &Tx{db: d, id: resultString(res, "txId")}
	if tx.id == "" {
		return fmt.Errorf("host did not return a transaction handle")
	}

	defer func() {
		if p := recover(); p != nil {
			_, _ = d.gate.caller.Call(ctx, "db.rollback", host.Args{"txId": tx.id, "pluginId": d.gate.pluginID})
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if _, rbErr := d.gate.caller.Call(ctx, "db.rollback", host.Args{"txId": tx.id, "pluginId": d.gate.pluginID}); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	_, err = d.gate.caller.Call(ctx, "db.commit", host.Args{"txId": tx.id, "pluginId": d.gate.pluginID})
	return err
}
