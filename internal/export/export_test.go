package export

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arc-computer/arc-memory/internal/graphstore"
	"github.com/arc-computer/arc-memory/internal/schema"
)

func initRepo(t *testing.T) (dir, base, head string) {
	t.Helper()
	dir = t.TempDir()

	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Skipf("git %v failed (%v): %s", args, err, out)
		}
	}
	rev := func(ref string) string {
		cmd := exec.Command("git", "rev-parse", ref)
		cmd.Dir = dir
		out, err := cmd.Output()
		require.NoError(t, err)
		s := string(out)
		for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
			s = s[:len(s)-1]
		}
		return s
	}

	run("init")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test User")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\n"), 0o644))
	run("add", "a.go")
	run("commit", "-m", "base")
	base = rev("HEAD")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\n\nfunc A() {}\n"), 0o644))
	run("add", "a.go")
	run("commit", "-m", "add A")
	head = rev("HEAD")

	return dir, base, head
}

func openTestStore(t *testing.T) graphstore.Store {
	t.Helper()
	ctx := context.Background()
	store := graphstore.NewBboltStore(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, store.Connect(ctx))
	require.NoError(t, store.InitSchema(ctx))
	t.Cleanup(func() { _ = store.Disconnect() })
	return store
}

func TestBuild_IncludesChangedFileAndConnectedNodes(t *testing.T) {
	dir, base, head := initRepo(t)
	store := openTestStore(t)
	ctx := context.Background()

	nodes := []schema.Node{
		{ID: schema.FileID("a.go"), Type: schema.NodeFile, Extra: map[string]any{"path": "a.go", "language": "go"}},
		{ID: schema.CommitID(head), Type: schema.NodeCommit, Title: "add A", Extra: map[string]any{"author": "Test User", "sha": head}},
		{ID: schema.PRID("github", 1), Type: schema.NodePR, Title: "Add A", Extra: map[string]any{"number": 1, "state": "merged"}},
	}
	edges := []schema.Edge{
		{Src: schema.CommitID(head), Dst: schema.FileID("a.go"), Rel: schema.RelContains},
		{Src: schema.CommitID(head), Dst: schema.PRID("github", 1), Rel: schema.RelMerges},
	}
	require.NoError(t, store.AddNodesAndEdges(ctx, nodes, edges))

	exp, err := Build(ctx, store, dir, head, base, 2, map[string]any{"number": 1})
	require.NoError(t, err)

	assert.Equal(t, []string{"a.go"}, exp.PR.ChangedFiles)
	assert.Equal(t, schemaVersion, exp.SchemaVersion)

	var ids []string
	for _, n := range exp.Nodes {
		ids = append(ids, n.ID)
	}
	sort.Strings(ids)
	assert.Contains(t, ids, schema.FileID("a.go"))
	assert.Contains(t, ids, schema.CommitID(head))
	assert.Contains(t, ids, schema.PRID("github", 1))
}

func TestBuild_AlwaysIncludesADRsRegardlessOfHops(t *testing.T) {
	dir, base, head := initRepo(t)
	store := openTestStore(t)
	ctx := context.Background()

	nodes := []schema.Node{
		{ID: schema.ADRID("0001-decision"), Type: schema.NodeADR, Title: "Decide something", Extra: map[string]any{"status": "accepted"}},
	}
	require.NoError(t, store.AddNodesAndEdges(ctx, nodes, nil))

	exp, err := Build(ctx, store, dir, head, base, 1, nil)
	require.NoError(t, err)

	require.Len(t, exp.Nodes, 1)
	assert.Equal(t, schema.ADRID("0001-decision"), exp.Nodes[0].ID)
	assert.Equal(t, "accepted", exp.Nodes[0].Metadata["status"])
}

func TestBuild_DropsEdgesWithUnvisitedEndpoints(t *testing.T) {
	dir, base, head := initRepo(t)
	store := openTestStore(t)
	ctx := context.Background()

	nodes := []schema.Node{
		{ID: schema.FileID("a.go"), Type: schema.NodeFile, Extra: map[string]any{"path": "a.go"}},
		{ID: schema.CommitID(head), Type: schema.NodeCommit},
		{ID: schema.PRID("github", 1), Type: schema.NodePR},
		{ID: schema.IssueID("github", 2), Type: schema.NodeIssue},
	}
	edges := []schema.Edge{
		{Src: schema.CommitID(head), Dst: schema.FileID("a.go"), Rel: schema.RelContains},
		{Src: schema.CommitID(head), Dst: schema.PRID("github", 1), Rel: schema.RelMerges},
		{Src: schema.PRID("github", 1), Dst: schema.IssueID("github", 2), Rel: schema.RelMentions},
	}
	require.NoError(t, store.AddNodesAndEdges(ctx, nodes, edges))

	exp, err := Build(ctx, store, dir, head, base, 1, nil)
	require.NoError(t, err)

	for _, e := range exp.Edges {
		assert.NotEqual(t, schema.IssueID("github", 2), e.Dst, "issue is three hops out, should not appear as an edge endpoint")
	}
}

func TestMarshalJSON_FlattensPRExtra(t *testing.T) {
	exp := &Export{
		SchemaVersion: schemaVersion,
		PR:            PR{SHA: "abc", ChangedFiles: []string{"a.go"}, Extra: map[string]any{"number": float64(7), "title": "Add A"}},
	}

	payload, err := json.Marshal(exp)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	pr := decoded["pr"].(map[string]any)
	assert.Equal(t, "abc", pr["sha"])
	assert.Equal(t, float64(7), pr["number"])
	assert.Equal(t, "Add A", pr["title"])
}

func TestWrite_Uncompressed(t *testing.T) {
	exp := &Export{SchemaVersion: schemaVersion, PR: PR{SHA: "abc"}}
	outPath := filepath.Join(t.TempDir(), "export.json")

	finalPath, err := Write(exp, outPath, false)
	require.NoError(t, err)
	assert.Equal(t, outPath, finalPath)

	data, err := os.ReadFile(finalPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"sha": "abc"`)
}

func TestWrite_CompressedAppendsGzSuffix(t *testing.T) {
	exp := &Export{SchemaVersion: schemaVersion, PR: PR{SHA: "abc"}}
	outPath := filepath.Join(t.TempDir(), "export.json")

	finalPath, err := Write(exp, outPath, true)
	require.NoError(t, err)
	assert.Equal(t, outPath+".gz", finalPath)

	f, err := os.Open(finalPath)
	require.NoError(t, err)
	defer f.Close()
	gr, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gr.Close()
	data, err := io.ReadAll(gr)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"sha": "abc"`)
}

func TestWrite_CompressedDoesNotDoubleAppendGzSuffix(t *testing.T) {
	exp := &Export{SchemaVersion: schemaVersion}
	outPath := filepath.Join(t.TempDir(), "export.json.gz")

	finalPath, err := Write(exp, outPath, true)
	require.NoError(t, err)
	assert.Equal(t, outPath, finalPath)
}

func TestSign_SkipsWithoutGPG(t *testing.T) {
	if _, err := exec.LookPath("gpg"); err != nil {
		t.Skip("gpg not available")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "export.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	_, err := Sign(context.Background(), path, "nonexistent-key-id")
	assert.Error(t, err)
}
