package route

// logHandler serves the shared log table. The server's own sink writes the
// same table directly; only client-submitted entries pass through here.
type logHandler struct {
	crud
}

func (h *logHandler) Handle(function string, data map[string]any) any {
	switch function {
	case "list":
		return h.list(data, "", nil, "")
	case "add":
		if _, err := h.d.Store.Insert(h.table, data); err != nil {
			h.d.Logger.Error("insert failed", "table", h.table, "error", err)
		}
		if err := h.d.Store.TrimLog(); err != nil {
			h.d.Logger.Error("log trim failed", "error", err)
		}
		return success()
	case "clear":
		return h.clear()
	default:
		return success()
	}
}
