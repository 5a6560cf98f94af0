package gitlab

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// ProjectName normalizes a git SSH URL into the project path:
// "git@host:group/project.git" becomes "host:group/project".
func ProjectName(gitSSHURL string) string {
	project := strings.TrimPrefix(gitSSHURL, "git@")
	return strings.TrimSuffix(project, ".git")
}

// SecurityID derives the stable external identifier of a security check
// from the host prefix, the project SSH path and the commit hash. Events
// with the same (prefix, project, commit) identity always map to the same
// id.
func SecurityID(prefix, gitSSHURL, commitID string) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s_%s", ProjectName(gitSSHURL), commitID)))
	return fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(hash[:]))
}
