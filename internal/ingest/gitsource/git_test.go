package gitsource

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arc-computer/arc-memory/internal/ingest"
	"github.com/arc-computer/arc-memory/internal/schema"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Skipf("git %v failed (%v): %s", args, err, out)
		}
	}

	run("init")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test User")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\n"), 0o644))
	run("add", "a.go")
	run("commit", "-m", "first commit")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.go"), []byte("package b\n"), 0o644))
	run("add", "b.go")
	run("commit", "-m", "second commit")

	return dir
}

func TestIngest_EmitsCommitAndFileNodes(t *testing.T) {
	dir := initRepo(t)
	p := New()

	result, err := p.Ingest(context.Background(), ingest.Request{RepoPath: dir, RepoID: "repo:1"})
	require.NoError(t, err)

	var commitCount, fileCount int
	for _, n := range result.Nodes {
		switch n.Type {
		case schema.NodeCommit:
			commitCount++
			assert.Equal(t, "repo:1", n.RepoID)
		case schema.NodeFile:
			fileCount++
		}
	}
	assert.Equal(t, 2, commitCount)
	assert.Equal(t, 2, fileCount)
	assert.Len(t, result.Edges, 2)
}

func TestIngest_DedupesFileNodesAcrossCommits(t *testing.T) {
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Skipf("git %v failed (%v): %s", args, err, out)
		}
	}
	run("init")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test User")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\n"), 0o644))
	run("add", "a.go")
	run("commit", "-m", "first")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\n\nfunc A(){}\n"), 0o644))
	run("add", "a.go")
	run("commit", "-m", "second")

	p := New()
	result, err := p.Ingest(context.Background(), ingest.Request{RepoPath: dir, RepoID: "repo:1"})
	require.NoError(t, err)

	var fileNodes int
	for _, n := range result.Nodes {
		if n.Type == schema.NodeFile {
			fileNodes++
		}
	}
	assert.Equal(t, 1, fileNodes)
	assert.Len(t, result.Edges, 2)
}

func TestIngest_CursorIsNewestCommit(t *testing.T) {
	dir := initRepo(t)
	p := New()

	result, err := p.Ingest(context.Background(), ingest.Request{RepoPath: dir, RepoID: "repo:1"})
	require.NoError(t, err)

	sha, ok := result.NewLastProcessed["last_commit_hash"].(string)
	require.True(t, ok)
	assert.NotEmpty(t, sha)

	cmd := exec.Command("git", "rev-parse", "HEAD")
	cmd.Dir = dir
	out, err := cmd.Output()
	require.NoError(t, err)
	assert.Contains(t, string(out), sha)
}

func TestIngest_FallsBackToLastProcessedCursorWhenConfigEmpty(t *testing.T) {
	dir := initRepo(t)

	cmd := exec.Command("git", "log", "--format=%H")
	cmd.Dir = dir
	out, err := cmd.Output()
	require.NoError(t, err)
	shas := strings.Fields(string(out))
	require.Len(t, shas, 2)
	firstCommit := shas[1]

	p := New()
	result, err := p.Ingest(context.Background(), ingest.Request{
		RepoPath:      dir,
		RepoID:        "repo:1",
		LastProcessed: ingest.Cursor{"last_commit_hash": firstCommit},
	})
	require.NoError(t, err)

	var commitCount int
	for _, n := range result.Nodes {
		if n.Type == schema.NodeCommit {
			commitCount++
		}
	}
	assert.Equal(t, 1, commitCount, "only the commit after the cursor should be walked")
	assert.Equal(t, shas[0], result.NewLastProcessed["last_commit_hash"])
}

func TestNodeTypesAndEdgeTypes(t *testing.T) {
	p := New()
	assert.Equal(t, "git", p.Name())
	assert.ElementsMatch(t, []schema.NodeType{schema.NodeCommit, schema.NodeFile}, p.NodeTypes())
	assert.Equal(t, []schema.EdgeRel{schema.RelAffects}, p.EdgeTypes())
}
