package route

// Login reply status values.
const (
	LoginOK             = 0
	LoginTokenMismatch  = 1
	LoginVersionChanged = 2
)

// loginHandler gates the session. The transport layer inspects its reply to
// decide whether the connection graduates to authenticated.
type loginHandler struct {
	d *Deps
}

func (h *loginHandler) Handle(function string, data map[string]any) any {
	if function != "login" {
		return success()
	}
	app := str(data, "app")
	tok := str(data, "token")

	// Token first: a stale client with a bad token gets the mismatch answer,
	// not the upgrade prompt.
	if !h.d.Tokens.Verify(app, tok) {
		h.d.Logger.Warn("login rejected", "app", app, "reason", "token mismatch")
		return map[string]any{"status": LoginTokenMismatch, "msg": "token mismatch"}
	}
	if !h.d.Version.Check() {
		h.d.Logger.Warn("login rejected", "app", app, "reason", "version changed")
		return map[string]any{"status": LoginVersionChanged, "msg": "version changed"}
	}
	h.d.Logger.Info("login accepted", "app", app)
	return map[string]any{"status": LoginOK, "msg": "success"}
}
