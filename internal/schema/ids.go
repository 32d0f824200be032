package schema

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
)

// ID construction rules are deterministic functions of semantic identity:
// rebuilding the same input must always yield the same ID (invariant 1).

// CommitID builds the ID for a commit node.
func CommitID(sha string) string { return "commit:" + sha }

// FileID builds the ID for a file node from its repository-relative path.
func FileID(repoRelPath string) string { return "file:" + repoRelPath }

// PRID builds the ID for a pull-request node. Prefer the platform-qualified
// form; fall back to an opaque ID when the platform is unknown.
func PRID(platform string, number int) string {
	if platform == "" {
		return fmt.Sprintf("pr:%d", number)
	}
	return fmt.Sprintf("pr:%s:%d", platform, number)
}

// PROpaqueID builds a PR ID from a pre-resolved opaque identifier (used by
// platforms that don't expose a stable numeric ID).
func PROpaqueID(opaqueID string) string { return "pr:" + opaqueID }

// IssueID builds the ID for an issue node.
func IssueID(platform string, number int) string {
	return fmt.Sprintf("issue:%s:%d", platform, number)
}

// ADRID builds the ID for an ADR node from the file's basename.
func ADRID(basename string) string { return "adr:" + basename }

// SimulationID builds the ID for a simulation node.
func SimulationID(simID string) string { return "simulation:" + simID }

// MetricID builds the ID for a metric node, scoped to its owning simulation.
func MetricID(simID, name string) string { return fmt.Sprintf("metric:%s:%s", simID, name) }

// JiraProjectID builds the ID for a Jira-like project node.
func JiraProjectID(key string) string { return "jira:project:" + key }

// JiraIssueID builds the ID for a Jira-like issue node.
func JiraIssueID(key string) string { return "jira:issue:" + key }

// LinearID builds the ID for a Linear-like issue node.
func LinearID(uuid string) string { return "linear:" + uuid }

// NotionID builds the ID for a Notion-like document node.
func NotionID(objectType, notionUUID string) string {
	return fmt.Sprintf("notion:%s:%s", objectType, notionUUID)
}

// RepositoryID builds the ID for a repository registry row: the hex MD5 of
// the absolute path, so that the same on-disk checkout always maps to the
// same repo_id across rebuilds.
func RepositoryID(absPath string) string {
	sum := md5.Sum([]byte(absPath))
	return "repository:" + hex.EncodeToString(sum[:])
}
