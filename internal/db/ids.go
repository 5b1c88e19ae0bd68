package db

import (
	"strings"

	"github.com/google/uuid"
)

const (
	sessionIDPrefix    = "sess_"
	itemIDPrefix       = "item_"
	checkpointIDPrefix = "ckpt_"
	issueIDPrefix      = "issue_"
	planIDPrefix       = "plan_"
	projectIDPrefix    = "proj_"
	memoryIDPrefix     = "mem_"
)

// newID returns prefix followed by a random UUID without dashes
func newID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}
