package route

// ruleHandler serves the synced extraction rules. Rule names are unique by
// convention only, so get resolves ties in favor of the newest row.
type ruleHandler struct {
	crud
}

func (h *ruleHandler) Handle(function string, data map[string]any) any {
	switch function {
	case "list":
		return h.list(data, "", nil, "")
	case "get":
		rows, err := h.d.Store.Page(h.table, 1, 1, "name = ?", []any{str(data, "name")}, "id DESC")
		if err != nil || len(rows) == 0 {
			return nil
		}
		return rows[0]
	case "add":
		return h.add(data)
	case "update":
		return h.update(data)
	case "del":
		return h.del(data)
	case "clear":
		return h.clear()
	default:
		return success()
	}
}
