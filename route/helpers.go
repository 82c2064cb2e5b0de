package route

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// success is the canonical mutation reply.
func success() map[string]any {
	return map[string]any{"status": 0, "message": "success"}
}

func asString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func asInt(v any) int64 {
	switch x := v.(type) {
	case nil:
		return 0
	case int64:
		return x
	case int:
		return int64(x)
	case float64:
		return int64(x)
	case bool:
		if x {
			return 1
		}
		return 0
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		if f, err := x.Float64(); err == nil {
			return int64(f)
		}
		return 0
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			return int64(f)
		}
		return 0
	default:
		return 0
	}
}

func asFloat(v any) float64 {
	switch x := v.(type) {
	case nil:
		return 0
	case float64:
		return x
	case int64:
		return float64(x)
	case int:
		return float64(x)
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return f
		}
		return 0
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			return f
		}
		return 0
	default:
		return 0
	}
}

func str(data map[string]any, key string) string {
	return asString(data[key])
}

func has(data map[string]any, key string) bool {
	_, ok := data[key]
	return ok
}

func pageArgs(data map[string]any) (page, size int) {
	return int(asInt(data["page"])), int(asInt(data["size"]))
}

// maps coerces a decoded JSON array into row maps, dropping non-objects.
func maps(v any) []map[string]any {
	switch list := v.(type) {
	case []map[string]any:
		return list
	case []any:
		out := make([]map[string]any, 0, len(list))
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}

func joinAnd(conds []string) string {
	return strings.Join(conds, " AND ")
}

func orEmpty(rows []map[string]any) []map[string]any {
	if rows == nil {
		return []map[string]any{}
	}
	return rows
}

// crud supplies the storage verbs shared by the table-backed modules.
// Handlers embed it and expose only the functions their module serves.
type crud struct {
	d     *Deps
	table string
}

func (c *crud) list(data map[string]any, condition string, params []any, orderBy string) any {
	page, size := pageArgs(data)
	rows, err := c.d.Store.Page(c.table, page, size, condition, params, orderBy)
	if err != nil {
		c.d.Logger.Error("list failed", "table", c.table, "error", err)
		return []map[string]any{}
	}
	return orEmpty(rows)
}

func (c *crud) add(data map[string]any) any {
	if _, err := c.d.Store.Insert(c.table, data); err != nil {
		c.d.Logger.Error("insert failed", "table", c.table, "error", err)
	}
	return success()
}

func (c *crud) update(data map[string]any) any {
	if _, err := c.d.Store.Update(c.table, asInt(data["id"]), data); err != nil {
		c.d.Logger.Error("update failed", "table", c.table, "error", err)
	}
	return success()
}

func (c *crud) del(data map[string]any) any {
	if _, err := c.d.Store.Remove(c.table, asInt(data["id"])); err != nil {
		c.d.Logger.Error("delete failed", "table", c.table, "error", err)
	}
	return success()
}

func (c *crud) clear() any {
	if _, err := c.d.Store.Clear(c.table); err != nil {
		c.d.Logger.Error("clear failed", "table", c.table, "error", err)
	}
	return success()
}
