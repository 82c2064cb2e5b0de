package route

// bookBillHandler serves the reference bills imported from the ledger app.
// add is a whole-sale replace: the companion pushes its complete list.
type bookBillHandler struct {
	crud
}

func (h *bookBillHandler) Handle(function string, data map[string]any) any {
	switch function {
	case "list":
		var conds []string
		var params []any
		if has(data, "book") {
			conds = append(conds, "book = ?")
			params = append(params, str(data, "book"))
		}
		if has(data, "type") {
			conds = append(conds, "type = ?")
			params = append(params, asInt(data["type"]))
		}
		return h.list(data, joinAnd(conds), params, "")
	case "add":
		if err := h.d.Store.ImportBookBills(maps(data["bills"])); err != nil {
			h.d.Logger.Error("book bill import failed", "error", err)
		}
		return success()
	case "clear":
		return h.clear()
	default:
		return success()
	}
}
