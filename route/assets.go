package route

type assetsHandler struct {
	crud
}

func (h *assetsHandler) Handle(function string, data map[string]any) any {
	switch function {
	case "list":
		return h.list(data, "", nil, "")
	case "add":
		return h.add(data)
	case "update":
		return h.update(data)
	case "del":
		return h.del(data)
	case "get":
		rows, err := h.d.Store.SelectConditional(h.table, "name = ?", str(data, "name"))
		if err != nil || len(rows) == 0 {
			return nil
		}
		return rows[0]
	case "sync":
		if err := h.d.Store.SyncAssets(maps(data["assets"])); err != nil {
			h.d.Logger.Error("assets sync failed", "error", err)
		}
		return success()
	case "clear":
		return h.clear()
	default:
		return success()
	}
}
