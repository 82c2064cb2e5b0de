package route

// billHandler serves the recorded bills. Grouped children (groupId != 0)
// stay out of the top-level listings and are fetched through group.
type billHandler struct {
	crud
}

func (h *billHandler) Handle(function string, data map[string]any) any {
	switch function {
	case "list":
		return h.list(data, "groupId = 0", nil, "time DESC")
	case "add":
		id, err := h.d.Store.Insert(h.table, data)
		if err != nil {
			h.d.Logger.Error("insert failed", "table", h.table, "error", err)
			return int64(0)
		}
		h.retain()
		return id
	case "update":
		reply := h.update(data)
		h.dropDangling()
		return reply
	case "del":
		reply := h.del(data)
		h.dropDangling()
		return reply
	case "group":
		rows, err := h.d.Store.SelectConditional(h.table, "groupId = ?", asInt(data["groupId"]))
		if err != nil {
			h.d.Logger.Error("group lookup failed", "error", err)
			return []map[string]any{}
		}
		return orEmpty(rows)
	case "sync/list":
		rows, err := h.d.Store.SelectConditional(h.table, "syncFromApp = 0 AND groupId = 0")
		if err != nil {
			h.d.Logger.Error("sync list failed", "error", err)
			return []map[string]any{}
		}
		return orEmpty(rows)
	case "sync/status":
		id := asInt(data["id"])
		flag := asInt(data["sync"])
		if !has(data, "sync") {
			// Older clients name the field after the column.
			flag = asInt(data["status"])
		}
		row, err := h.d.Store.SelectByID(h.table, id)
		if err != nil || row == nil {
			return success()
		}
		row["syncFromApp"] = flag
		if _, err := h.d.Store.Update(h.table, id, row); err != nil {
			h.d.Logger.Error("sync status update failed", "id", id, "error", err)
		}
		return success()
	case "clear":
		return h.clear()
	default:
		return success()
	}
}

// retain applies the bill retention rules after an insert: cap the synced
// backlog, then detach-and-drop children whose parent the cap removed.
func (h *billHandler) retain() {
	if err := h.d.Store.TrimSyncedBills(); err != nil {
		h.d.Logger.Error("bill trim failed", "error", err)
	}
	h.dropDangling()
}

func (h *billHandler) dropDangling() {
	if err := h.d.Store.DeleteDanglingChildren(); err != nil {
		h.d.Logger.Error("dangling bill cleanup failed", "error", err)
	}
}
