package storage

import "fmt"

// Retention caps. Trimming happens after the writes that can breach a cap,
// never at startup.
const (
	LogKeep        = 5000
	AppDataKeep    = 500
	SyncedBillKeep = 1000
)

var (
	trimLogSQL = fmt.Sprintf(
		"DELETE FROM log WHERE id NOT IN (SELECT id FROM log ORDER BY id DESC LIMIT %d)", LogKeep)
	trimAppDataSQL = fmt.Sprintf(
		"DELETE FROM appData WHERE id NOT IN (SELECT id FROM appData ORDER BY id DESC LIMIT %d)", AppDataKeep)
	trimSyncedBillsSQL = fmt.Sprintf(
		"DELETE FROM billInfo WHERE syncFromApp = 1 AND id NOT IN (SELECT id FROM billInfo WHERE syncFromApp = 1 ORDER BY time DESC LIMIT %d)", SyncedBillKeep)
	dropDanglingChildrenSQL = "DELETE FROM billInfo WHERE groupId != 0 AND groupId NOT IN (SELECT id FROM billInfo WHERE groupId = 0)"
)

// TrimLog drops all but the newest LogKeep log rows.
func (e *Engine) TrimLog() error {
	return e.execMaintenance(trimLogSQL)
}

// TrimAppData drops all but the newest AppDataKeep captured payloads.
func (e *Engine) TrimAppData() error {
	return e.execMaintenance(trimAppDataSQL)
}

// TrimSyncedBills keeps the SyncedBillKeep most recent app-synced bills,
// ranked by their business timestamp. Manually created bills are never
// trimmed.
func (e *Engine) TrimSyncedBills() error {
	return e.execMaintenance(trimSyncedBillsSQL)
}

// DeleteDanglingChildren removes child bills whose parent group no longer
// exists.
func (e *Engine) DeleteDanglingChildren() error {
	return e.execMaintenance(dropDanglingChildrenSQL)
}

// execMaintenance runs retention SQL without touching the logger; callers on
// the log write path must not feed failures back into logging.
func (e *Engine) execMaintenance(query string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.db.Exec(query)
	return err
}

// InsertLogRow persists one log line and applies retention. Failures are
// swallowed: the log store is best-effort and must never loop back into the
// logger that called it.
func (e *Engine) InsertLogRow(date, app string, hook, level int, thread, line, msg string) {
	e.mu.Lock()
	_, err := e.db.Exec(
		"INSERT INTO log (date, app, hook, level, thread, line, log) VALUES (?, ?, ?, ?, ?, ?, ?)",
		date, app, hook, level, thread, line, msg)
	e.mu.Unlock()
	if err != nil {
		return
	}
	_ = e.TrimLog()
}
