package store

import "time"

// Action names a journaled operation.
type Action string

const (
	ActionInstall Action = "install"
	ActionRemove  Action = "remove"
	ActionEnable  Action = "enable"
	ActionDisable Action = "disable"
	ActionUpdate  Action = "update"
)

// Event records one completed operation.
type Event struct {
	ID        int64
	Timestamp time.Time
	Action    Action
	Solver    string
	Version   string
	Detail    string // e.g. the executable path written on enable
	SizeBytes int64  // downloaded bytes for installs
}
