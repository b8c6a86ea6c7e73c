package ledger

import (
	"encoding/binary"
	"time"
)

// Bucket names in BoltDB.
var (
	bucketSystem        = []byte("system")
	bucketFailedDeletes = []byte("failed_deletes")
	keySchemaVersion    = []byte("schema_version")
)

const currentSchemaVersion = 1

// Entry journals a remote delete that did not succeed. It is keyed by the
// marker path and removed once the marker is reconciled.
type Entry struct {
	Marker       string    `json:"marker"`
	RemotePath   string    `json:"remote_path"`
	Attempts     int       `json:"attempts"`
	FirstFailure time.Time `json:"first_failure"`
	LastFailure  time.Time `json:"last_failure"`
	LastError    string    `json:"last_error"`
}

func uint64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func bytesToUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
