package handlers

import (
	"context"
	"fmt"

	"github.com/haasonsaas/specbot/internal/engine"
	"github.com/haasonsaas/specbot/internal/storage"
)

func registerState(exec *engine.Executor, deps Deps) {
	// set binds a value into the action context for later steps. It
	// does not persist anything; set_variable does.
	exec.Register("set", func(ctx context.Context, ac *engine.Context, params map[string]any) (any, error) {
		name, err := requireString(params, "set", "name", "key")
		if err != nil {
			return nil, err
		}
		ac.Data[name] = params["value"]
		return params["value"], nil
	})

	exec.Register("set_variable", func(ctx context.Context, ac *engine.Context, params map[string]any) (any, error) {
		if deps.State == nil {
			return nil, fmt.Errorf("state is not configured")
		}
		name, err := requireString(params, "set_variable", "name", "variable")
		if err != nil {
			return nil, err
		}
		if err := deps.State.Set(ctx, name, ac.Scope(), params["value"]); err != nil {
			return nil, err
		}
		return params["value"], nil
	})

	exec.Register("increment", func(ctx context.Context, ac *engine.Context, params map[string]any) (any, error) {
		if deps.State == nil {
			return nil, fmt.Errorf("state is not configured")
		}
		name, err := requireString(params, "increment", "name", "variable")
		if err != nil {
			return nil, err
		}
		delta := 1.0
		if v, ok := floatParam(params, "by"); ok {
			delta = v
		} else if v, ok := floatParam(params, "amount"); ok {
			delta = v
		}
		value, err := deps.State.Increment(ctx, name, ac.Scope(), delta)
		if err != nil {
			return nil, err
		}
		if as := stringParam(params, "as"); as != "" {
			ac.Data[as] = value
		}
		return value, nil
	})

	exec.Register("db_insert", func(ctx context.Context, ac *engine.Context, params map[string]any) (any, error) {
		if deps.Store == nil {
			return nil, fmt.Errorf("storage is not configured")
		}
		table, err := requireString(params, "db_insert", "table")
		if err != nil {
			return nil, err
		}
		row := mapParam(params, "data")
		if row == nil {
			row = mapParam(params, "row")
		}
		if row == nil {
			return nil, fmt.Errorf("db_insert wants a \"data\" map")
		}
		return nil, deps.Store.Insert(ctx, table, row)
	})

	exec.Register("db_query", func(ctx context.Context, ac *engine.Context, params map[string]any) (any, error) {
		if deps.Store == nil {
			return nil, fmt.Errorf("storage is not configured")
		}
		table, err := requireString(params, "db_query", "table")
		if err != nil {
			return nil, err
		}
		q := storage.Query{
			Where:   mapParam(params, "where"),
			OrderBy: stringParam(params, "order_by"),
			Limit:   intParam(params, "limit", 0),
			Offset:  intParam(params, "offset", 0),
			Select:  stringList(params, "select"),
		}
		rows, err := deps.Store.Query(ctx, table, q)
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, len(rows))
		for _, row := range rows {
			out = append(out, map[string]any(row))
		}
		if as := stringParam(params, "as"); as != "" {
			ac.Data[as] = out
		}
		return out, nil
	})

	exec.Register("db_update", func(ctx context.Context, ac *engine.Context, params map[string]any) (any, error) {
		if deps.Store == nil {
			return nil, fmt.Errorf("storage is not configured")
		}
		table, err := requireString(params, "db_update", "table")
		if err != nil {
			return nil, err
		}
		patch := mapParam(params, "set")
		if patch == nil {
			patch = mapParam(params, "data")
		}
		if patch == nil {
			return nil, fmt.Errorf("db_update wants a \"set\" map")
		}
		n, err := deps.Store.Update(ctx, table, mapParam(params, "where"), patch)
		if err != nil {
			return nil, err
		}
		return float64(n), nil
	})

	exec.Register("db_delete", func(ctx context.Context, ac *engine.Context, params map[string]any) (any, error) {
		if deps.Store == nil {
			return nil, fmt.Errorf("storage is not configured")
		}
		table, err := requireString(params, "db_delete", "table")
		if err != nil {
			return nil, err
		}
		n, err := deps.Store.DeleteRows(ctx, table, mapParam(params, "where"))
		if err != nil {
			return nil, err
		}
		return float64(n), nil
	})
}
