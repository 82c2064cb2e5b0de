package route

type categoryHandler struct {
	crud
}

func (h *categoryHandler) Handle(function string, data map[string]any) any {
	switch function {
	case "list":
		var conds []string
		var params []any
		if has(data, "book") {
			conds = append(conds, "book = ?")
			params = append(params, asInt(data["book"]))
		}
		if has(data, "type") {
			conds = append(conds, "type = ?")
			params = append(params, asInt(data["type"]))
		}
		if has(data, "parent") {
			conds = append(conds, "parent = ?")
			params = append(params, asInt(data["parent"]))
		}
		return h.list(data, joinAnd(conds), params, "")
	case "add":
		return h.add(data)
	case "get":
		rows, err := h.d.Store.SelectConditional(h.table, "name = ? AND book = ? AND type = ?",
			str(data, "name"), asInt(data["book"]), asInt(data["type"]))
		if err != nil || len(rows) == 0 {
			return nil
		}
		return rows[0]
	case "del":
		return h.del(data)
	case "clear":
		return h.clear()
	default:
		return success()
	}
}
