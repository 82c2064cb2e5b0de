package route

// bookNameHandler serves the ledgers. sync is the bulk path used by the
// companion app: it swaps in the full ledger tree, categories included.
type bookNameHandler struct {
	crud
}

func (h *bookNameHandler) Handle(function string, data map[string]any) any {
	switch function {
	case "list":
		rows, err := h.d.Store.SelectConditional(h.table, "")
		if err != nil {
			h.d.Logger.Error("list failed", "table", h.table, "error", err)
			return []map[string]any{}
		}
		return orEmpty(rows)
	case "add":
		return h.add(data)
	case "sync":
		if err := h.d.Store.SyncBooks(maps(data["books"])); err != nil {
			h.d.Logger.Error("book sync failed", "error", err)
		}
		return success()
	case "clear":
		return h.clear()
	default:
		return success()
	}
}
