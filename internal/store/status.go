package store

import "fmt"

// Message statuses, ordered by confidence. A record's status only ever moves
// forward through this sequence; StatusFailed is a terminal state for
// provisional records whose submit never succeeded.
const (
	StatusUploading = "uploading"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// statusRankExpr returns a SQL CASE expression ranking the given status
// expression. Unknown statuses (and "failed") rank below everything, so a
// guarded update never applies them and never overwrites them.
func statusRankExpr(expr string) string {
	return fmt.Sprintf(`CASE %s
		WHEN 'uploading' THEN 0
		WHEN 'sent' THEN 1
		WHEN 'delivered' THEN 2
		WHEN 'read' THEN 3
		ELSE -1 END`, expr)
}
