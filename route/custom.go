package route

// customHandler serves the user-authored categorization rules. list returns
// rules in execution order; the book argument is accepted for compatibility
// but the table carries no book column.
type customHandler struct {
	crud
}

func (h *customHandler) Handle(function string, data map[string]any) any {
	switch function {
	case "list":
		return h.list(data, "", nil, "sort ASC, id DESC")
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
