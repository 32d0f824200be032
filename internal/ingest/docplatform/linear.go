// Package docplatform implements the doc-platform ingestor family (§4.3):
// a Linear-like GraphQL issue tracker and a Notion-like REST document store,
// both emitting document/issue nodes under CONTAINS/MENTIONS edges.
// Grounded on original_source/arc_memory/ingest/linear.py (GraphQL POST,
// cursor-based pageInfo.hasNextPage pagination) and notion.py (REST search +
// block-children walk flattened to Markdown).
package docplatform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/arc-computer/arc-memory/internal/httpx"
	"github.com/arc-computer/arc-memory/internal/ingest"
	"github.com/arc-computer/arc-memory/internal/schema"
)

const (
	linearAPIURL   = "https://api.linear.app/graphql"
	linearUserAgent = "arc-memory/1.0"
)

var linearIssuesQuery = `
query Issues($cursor: String) {
  issues(first: 50, after: $cursor) {
    pageInfo { hasNextPage endCursor }
    nodes {
      id identifier title description createdAt archivedAt url
      state { name }
      labels { nodes { name } }
      assignee { name }
      creator { name }
      team { key }
    }
  }
}`

// LinearConfig is the Linear-like source's configuration (§6.4).
type LinearConfig struct {
	Token string
}

// LinearPlugin implements ingest.Plugin for a Linear-like issue tracker.
type LinearPlugin struct {
	HTTPClient *http.Client
}

func NewLinear() *LinearPlugin { return &LinearPlugin{HTTPClient: &http.Client{Timeout: 30 * time.Second}} }

func (p *LinearPlugin) Name() string { return "doc_platform_linear" }

func (p *LinearPlugin) NodeTypes() []schema.NodeType { return []schema.NodeType{schema.NodeIssue} }

func (p *LinearPlugin) EdgeTypes() []schema.EdgeRel { return []schema.EdgeRel{schema.RelMentions} }

type linearIssue struct {
	ID          string `json:"id"`
	Identifier  string `json:"identifier"`
	Title       string `json:"title"`
	Description string `json:"description"`
	CreatedAt   string `json:"createdAt"`
	ArchivedAt  string `json:"archivedAt"`
	URL         string `json:"url"`
	State       struct{ Name string `json:"name"` } `json:"state"`
	Labels      struct {
		Nodes []struct{ Name string `json:"name"` } `json:"nodes"`
	} `json:"labels"`
	Assignee *struct{ Name string `json:"name"` } `json:"assignee"`
	Creator  *struct{ Name string `json:"name"` } `json:"creator"`
	Team     *struct{ Key string `json:"key"` } `json:"team"`
}

type linearIssuesPage struct {
	Issues struct {
		PageInfo struct {
			HasNextPage bool   `json:"hasNextPage"`
			EndCursor   string `json:"endCursor"`
		} `json:"pageInfo"`
		Nodes []linearIssue `json:"nodes"`
	} `json:"issues"`
}

func (p *LinearPlugin) Ingest(ctx context.Context, req ingest.Request) (ingest.Result, error) {
	cfg, _ := req.SourceConfig.(LinearConfig)
	token := cfg.Token
	if token == "" {
		token = req.AuthToken
	}
	if token == "" {
		return ingest.Result{}, nil // optional source: absent token means skip, not fatal
	}

	result := ingest.Result{}
	var cursor string

	for {
		page, err := p.executeIssuesQuery(ctx, token, cursor)
		if err != nil {
			return result, err
		}

		for _, issue := range page.Issues.Nodes {
			issueID := schema.LinearID(issue.ID)

			var labels []string
			for _, l := range issue.Labels.Nodes {
				labels = append(labels, l.Name)
			}

			createdAt, _ := time.Parse(time.RFC3339, issue.CreatedAt)
			var closedAt *time.Time
			if issue.ArchivedAt != "" {
				if t, err := time.Parse(time.RFC3339, issue.ArchivedAt); err == nil {
					closedAt = &t
				}
			}

			team, assignee, creator := "", "", ""
			if issue.Team != nil {
				team = issue.Team.Key
			}
			if issue.Assignee != nil {
				assignee = issue.Assignee.Name
			}
			if issue.Creator != nil {
				creator = issue.Creator.Name
			}

			result.Nodes = append(result.Nodes, schema.Node{
				ID:     issueID,
				Type:   schema.NodeIssue,
				Title:  issue.Title,
				Body:   issue.Description,
				TS:     &createdAt,
				RepoID: req.RepoID,
				Extra: map[string]any{
					"source":     "linear",
					"identifier": issue.Identifier,
					"state":      issue.State.Name,
					"labels":     labels,
					"url":        issue.URL,
					"team":       team,
					"assignee":   assignee,
					"creator":    creator,
					"closed_at":  closedAt,
				},
			})

			for _, ref := range extractLinearReferences(issue.Description) {
				if ref == issue.Identifier {
					continue
				}
				result.Edges = append(result.Edges, schema.Edge{
					Src: issueID,
					Dst: fmt.Sprintf("linear:issue:%s", ref),
					Rel: schema.RelMentions,
				})
			}
		}

		if !page.Issues.PageInfo.HasNextPage {
			break
		}
		cursor = page.Issues.PageInfo.EndCursor
	}

	return result, nil
}

func (p *LinearPlugin) executeIssuesQuery(ctx context.Context, token, cursor string) (*linearIssuesPage, error) {
	variables := map[string]any{}
	if cursor != "" {
		variables["cursor"] = cursor
	}
	body, err := json.Marshal(map[string]any{"query": linearIssuesQuery, "variables": variables})
	if err != nil {
		return nil, err
	}

	var decoded struct {
		Data   linearIssuesPage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}

	err = httpx.Do(ctx, httpx.DefaultRetryPolicy(), "ingest.doc_platform_linear", "executeIssuesQuery", func(ctx context.Context) (int, time.Duration, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, linearAPIURL, bytes.NewReader(body))
		if err != nil {
			return 0, 0, err
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("User-Agent", linearUserAgent)

		resp, err := p.HTTPClient.Do(httpReq)
		if err != nil {
			return 0, 0, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return resp.StatusCode, 0, fmt.Errorf("linear API error: status %d", resp.StatusCode)
		}
		return resp.StatusCode, 0, json.NewDecoder(resp.Body).Decode(&decoded)
	})
	if err != nil {
		return nil, err
	}
	if len(decoded.Errors) > 0 {
		return nil, fmt.Errorf("linear GraphQL error: %s", decoded.Errors[0].Message)
	}
	return &decoded.Data, nil
}

var linearRefRe = regexp.MustCompile(`\b([A-Z0-9]+-[0-9]+)\b`)

func extractLinearReferences(text string) []string {
	matches := linearRefRe.FindAllStringSubmatch(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}
