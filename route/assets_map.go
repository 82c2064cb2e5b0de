package route

// assetsMapHandler maintains the raw-name to asset aliases.
type assetsMapHandler struct {
	crud
}

func (h *assetsMapHandler) Handle(function string, data map[string]any) any {
	switch function {
	case "list":
		return h.list(data, "", nil, "")
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
