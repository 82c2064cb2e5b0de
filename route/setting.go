package route

// settingHandler keeps the per-app key/value bag. Uniqueness of (app, key)
// is enforced here, not by the schema: set always looks up before writing.
type settingHandler struct {
	d *Deps
}

func (h *settingHandler) Handle(function string, data map[string]any) any {
	switch function {
	case "get":
		row := h.lookup(str(data, "app"), str(data, "key"))
		if row == nil {
			return nil
		}
		return row
	case "set":
		app := str(data, "app")
		key := str(data, "key")
		val := str(data, "val")
		if row := h.lookup(app, key); row != nil {
			row["val"] = val
			if _, err := h.d.Store.Update("settings", asInt(row["id"]), row); err != nil {
				h.d.Logger.Error("setting update failed", "app", app, "key", key, "error", err)
			}
			return success()
		}
		insert := map[string]any{"app": app, "key": key, "val": val}
		if _, err := h.d.Store.Insert("settings", insert); err != nil {
			h.d.Logger.Error("setting insert failed", "app", app, "key", key, "error", err)
		}
		return success()
	case "del":
		if _, err := h.d.Store.Remove("settings", asInt(data["id"])); err != nil {
			h.d.Logger.Error("setting delete failed", "error", err)
		}
		return success()
	default:
		return success()
	}
}

func (h *settingHandler) lookup(app, key string) map[string]any {
	rows, err := h.d.Store.SelectConditional("settings", "app = ? AND key = ?", app, key)
	if err != nil || len(rows) == 0 {
		return nil
	}
	return rows[0]
}
