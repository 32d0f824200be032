package ticketing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arc-computer/arc-memory/internal/ingest"
	"github.com/arc-computer/arc-memory/internal/schema"
)

// rewriteTransport redirects every outbound request to a local test server
// regardless of the hardcoded Atlassian base URL, so reqURL construction in
// searchIssues doesn't need to change for tests.
type rewriteTransport struct {
	base *url.URL
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = t.base.Scheme
	req.URL.Host = t.base.Host
	return http.DefaultTransport.RoundTrip(req)
}

func testHTTPClient(t *testing.T, handler http.HandlerFunc) *http.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	base, err := url.Parse(server.URL)
	require.NoError(t, err)
	return &http.Client{Transport: &rewriteTransport{base: base}}
}

func TestIngest_MissingCredentialsReturnsError(t *testing.T) {
	p := New()
	_, err := p.Ingest(context.Background(), ingest.Request{})
	require.Error(t, err)
}

func TestNodeTypesEdgeTypesAndName(t *testing.T) {
	p := New()
	assert.Equal(t, "ticketing", p.Name())
	assert.ElementsMatch(t, []schema.NodeType{schema.NodeJiraProject, schema.NodeIssue}, p.NodeTypes())
	assert.ElementsMatch(t,
		[]schema.EdgeRel{schema.RelPartOf, schema.RelBlocks, schema.RelDependsOn, schema.RelMentions},
		p.EdgeTypes())
}

func TestIngest_ParsesIssuesProjectsAndLinks(t *testing.T) {
	p := New()
	p.HTTPClient = testHTTPClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"startAt": 0, "maxResults": 50, "total": 1,
			"issues": [{
				"key": "ENG-1",
				"fields": {
					"summary": "First issue",
					"description": "see ENG-3",
					"status": {"name": "Open"},
					"created": "2026-01-01T00:00:00Z",
					"updated": "2026-01-02T00:00:00Z",
					"project": {"key": "ENG"},
					"issuelinks": [{
						"type": {"name": "Blocks"},
						"outwardIssue": {"key": "ENG-2"}
					}]
				}
			}]
		}`))
	})

	result, err := p.Ingest(context.Background(), ingest.Request{
		RepoID:       "repo:1",
		AuthToken:    "tok",
		SourceConfig: Config{CloudID: "cloud1"},
	})
	require.NoError(t, err)

	var issueNode, projectNode *schema.Node
	for i := range result.Nodes {
		switch result.Nodes[i].Type {
		case schema.NodeIssue:
			issueNode = &result.Nodes[i]
		case schema.NodeJiraProject:
			projectNode = &result.Nodes[i]
		}
	}
	require.NotNil(t, issueNode)
	require.NotNil(t, projectNode)
	assert.Equal(t, schema.JiraIssueID("ENG-1"), issueNode.ID)
	assert.Equal(t, "First issue", issueNode.Title)
	assert.Equal(t, schema.JiraProjectID("ENG"), projectNode.ID)

	var relsByDst = map[string]schema.EdgeRel{}
	for _, e := range result.Edges {
		relsByDst[e.Dst] = e.Rel
	}
	assert.Equal(t, schema.RelPartOf, relsByDst[schema.JiraProjectID("ENG")])
	assert.Equal(t, schema.RelBlocks, relsByDst[schema.JiraIssueID("ENG-2")])
	assert.Equal(t, schema.RelMentions, relsByDst[schema.JiraIssueID("ENG-3")])

	assert.Equal(t, "2026-01-02T00:00:00Z", result.NewLastProcessed["updated_since"])
}

func TestIngest_PaginatesAcrossStartAt(t *testing.T) {
	calls := 0
	p := New()
	p.HTTPClient = testHTTPClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		startAt := r.URL.Query().Get("startAt")
		if startAt == "0" {
			_ = json.NewEncoder(w).Encode(jiraSearchResponse{
				StartAt: 0, MaxResults: 1, Total: 2,
				Issues: []jiraIssue{{Key: "ENG-1"}},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(jiraSearchResponse{
			StartAt: 1, MaxResults: 1, Total: 2,
			Issues: []jiraIssue{{Key: "ENG-2"}},
		})
	})

	result, err := p.Ingest(context.Background(), ingest.Request{
		AuthToken:    "tok",
		SourceConfig: Config{CloudID: "cloud1"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	var keys []string
	for _, n := range result.Nodes {
		if n.Type == schema.NodeIssue {
			keys = append(keys, n.Extra["key"].(string))
		}
	}
	assert.ElementsMatch(t, []string{"ENG-1", "ENG-2"}, keys)
}

func TestIngest_RateLimitExhaustsRetriesAndReturnsError(t *testing.T) {
	calls := 0
	p := New()
	p.HTTPClient = testHTTPClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := p.Ingest(context.Background(), ingest.Request{
		AuthToken:    "tok",
		SourceConfig: Config{CloudID: "cloud1"},
	})
	require.Error(t, err)
	assert.Greater(t, calls, 1, "rate limit is retryable and should be attempted more than once")
}

func TestBuildJQL_CombinesProjectAndSinceClauses(t *testing.T) {
	jql := buildJQL([]string{"ENG", "OPS"}, ingest.Cursor{"updated_since": "2026-01-01T00:00:00Z"})
	assert.Contains(t, jql, `project in ("ENG","OPS")`)
	assert.Contains(t, jql, `updated >= "2026-01-01T00:00:00Z"`)
	assert.Contains(t, jql, "order by updated desc")
}

func TestBuildJQL_DefaultsWhenNoFilters(t *testing.T) {
	assert.Equal(t, "order by updated desc", buildJQL(nil, ingest.Cursor{}))
}

func TestLinkRelation(t *testing.T) {
	assert.Equal(t, schema.RelBlocks, linkRelation("Blocks"))
	assert.Equal(t, schema.RelDependsOn, linkRelation("Dependency"))
	assert.Equal(t, schema.RelMentions, linkRelation("Cloners"))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 5*time.Second, parseRetryAfter("5"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("not-a-number"))
}
