package audit

const (
	queryInsertEntry = `
		INSERT INTO audit_log (timestamp, tool_input, decision, reason)
		VALUES (?, ?, ?, ?)`

	// Row ids break ties between entries written within the same instant.
	querySelectRecent = `
		SELECT id, timestamp, tool_input, decision, reason
		FROM audit_log
		ORDER BY id DESC
		LIMIT ?`

	timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"
)
