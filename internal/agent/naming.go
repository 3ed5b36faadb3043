package agent

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/mlbrilliance/CortexWeaver-sub005/pkg/models"
)

// Task IDs are free-form. Every name derived from one percent-escapes the
// bytes it cannot carry as %XX, so distinct IDs always give distinct names
// and url.PathUnescape recovers the ID.

func escapeID(id string, keep func(id string, i int) bool) string {
	var b strings.Builder
	for i := 0; i < len(id); i++ {
		if keep(id, i) {
			b.WriteByte(id[i])
			continue
		}
		fmt.Fprintf(&b, "%%%02X", id[i])
	}
	return b.String()
}

func unescapeID(s string) (string, bool) {
	id, err := url.PathUnescape(s)
	if err != nil || id == "" {
		return "", false
	}
	return id, true
}

func isNameByte(c byte) bool {
	return 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9' || c == '-' || c == '_'
}

// refByte keeps dots where git allows them in a ref component: not first,
// not last, not after another dot and not starting a ".lock" suffix.
func refByte(id string, i int) bool {
	if id[i] != '.' {
		return isNameByte(id[i])
	}
	return i > 0 && i < len(id)-1 && id[i-1] != '.' && id[i:] != ".lock"
}

func sessionByte(id string, i int) bool {
	return isNameByte(id[i])
}

// BranchName builds the branch for a task: prefix plus the escaped task ID.
// The result is a valid git ref name for any non-empty ID.
func BranchName(prefix, taskID string) string {
	return prefix + escapeID(taskID, refByte)
}

// SpecializedBranchPrefix returns the default branch prefix for a remediation role.
func SpecializedBranchPrefix(agentType models.AgentType) string {
	switch agentType {
	case models.AgentDebugger:
		return "debug/"
	case models.AgentCodeSavant:
		return "codesavant/"
	default:
		return "specialized/"
	}
}

// taskIDFromBranch extracts the task ID from a spawner-managed branch name.
func taskIDFromBranch(branch string) (string, bool) {
	for _, prefix := range managedBranchPrefixes {
		if rest, ok := strings.CutPrefix(branch, prefix); ok {
			return unescapeID(rest)
		}
	}
	return "", false
}

// worktreeDirName turns a branch into a single directory name. Path
// escaping keeps "a/b" and "a-b" apart.
func worktreeDirName(branch string) string {
	return url.PathEscape(branch)
}

// sessionName builds a unique tmux session name for a task. tmux rejects
// '.' and ':' in session names; both are escaped with the rest.
func sessionName(taskID string) string {
	return sessionNamePrefix + escapeID(taskID, sessionByte) + "-" + uuid.New().String()[:8]
}

// taskIDFromSessionName reverses sessionName for sessions created by an earlier process.
func taskIDFromSessionName(name string) string {
	trimmed := strings.TrimPrefix(name, sessionNamePrefix)
	if i := strings.LastIndex(trimmed, "-"); i > 0 {
		trimmed = trimmed[:i]
	}
	if id, ok := unescapeID(trimmed); ok {
		return id
	}
	return trimmed
}
