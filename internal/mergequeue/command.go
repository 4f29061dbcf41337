package mergequeue

import "strings"

const (
	cmdTryMerge      = "try-merge"
	cmdTryBatchMerge = "try-batchmerge"
)

// ParseCommand extracts a command from a comment body.
// hasMention is true when the mention token occurs in the body, matched case
// sensitive.
// command is the first whitespace-delimited token following the first
// occurrence of the mention. It is empty when the body ends at the mention,
// which is distinct from an unknown command.
func ParseCommand(mention, body string) (hasMention bool, command string) {
	_, remainder, found := strings.Cut(body, mention)
	if !found {
		return false, ""
	}

	fields := strings.Fields(remainder)
	if len(fields) == 0 {
		return true, ""
	}

	return true, fields[0]
}
