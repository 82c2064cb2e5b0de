package route

// dataHandler serves the captured app payloads. Rows normally arrive through
// js/analyze; add exists for replaying captures by hand.
type dataHandler struct {
	crud
}

func (h *dataHandler) Handle(function string, data map[string]any) any {
	switch function {
	case "list":
		var conds []string
		var params []any
		if has(data, "match") {
			conds = append(conds, "match = ?")
			params = append(params, asInt(data["match"]))
		}
		if filter := str(data, "data"); filter != "" {
			conds = append(conds, "data LIKE ?")
			params = append(params, "%"+filter+"%")
		}
		return h.list(data, joinAnd(conds), params, "")
	case "add":
		if _, err := h.d.Store.Insert(h.table, data); err != nil {
			h.d.Logger.Error("insert failed", "table", h.table, "error", err)
		}
		if err := h.d.Store.TrimAppData(); err != nil {
			h.d.Logger.Error("appData trim failed", "error", err)
		}
		return success()
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
