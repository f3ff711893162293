package sessions

import "time"

// Repo stores sessions. Implementations must return copies so that a turn's
// working session is only persisted when the turn commits.
type Repo interface {
	Upsert(session Session) error
	Get(key Key) (Session, error)
	Delete(key Key) error
	// DeleteIdle removes sessions not updated since before and returns their keys.
	DeleteIdle(before time.Time) ([]Key, error)
	// PendingExpired lists sessions whose pending nonce has expired by now.
	PendingExpired(now time.Time) ([]Key, error)
}
