// Package ticketing implements the ticketing ingestor (§4.3): REST-based
// pagination over JQL-filtered, incrementally-fetched issues, with project
// nodes taken from each issue's project field (projects are not paged).
// Grounded on original_source/arc_memory/ingest/jira.py's endpoint/params
// shape (JIRA_API_BASE_URL, /rest/api/3/search, startAt/maxResults paging,
// Authorization: Bearer header), re-expressed with net/http directly since
// no Jira client library is present anywhere in the example pack, and the
// retry/backoff cross-cutting rule (§4.3 rule 1) via internal/httpx.
package ticketing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/arc-computer/arc-memory/internal/httpx"
	"github.com/arc-computer/arc-memory/internal/ingest"
	"github.com/arc-computer/arc-memory/internal/ingest/mentions"
	"github.com/arc-computer/arc-memory/internal/schema"
)

const (
	apiBaseURL = "https://api.atlassian.com"
	apiVersion = "3"
	userAgent  = "arc-memory/1.0"
)

// Config is the ticketing ingestor's source configuration (§6.4).
type Config struct {
	Token       string
	CloudID     string
	ProjectKeys []string
}

// Plugin implements ingest.Plugin for a Jira-like ticketing source.
type Plugin struct {
	HTTPClient *http.Client
}

func New() *Plugin { return &Plugin{HTTPClient: &http.Client{Timeout: 30 * time.Second}} }

func (p *Plugin) Name() string { return "ticketing" }

func (p *Plugin) NodeTypes() []schema.NodeType {
	return []schema.NodeType{schema.NodeJiraProject, schema.NodeIssue}
}

func (p *Plugin) EdgeTypes() []schema.EdgeRel {
	return []schema.EdgeRel{schema.RelPartOf, schema.RelBlocks, schema.RelDependsOn, schema.RelMentions}
}

type jiraIssue struct {
	Key    string `json:"key"`
	Fields struct {
		Summary     string    `json:"summary"`
		Description string    `json:"description"`
		Status      struct{ Name string `json:"name"` } `json:"status"`
		Created     time.Time `json:"created"`
		Updated     time.Time `json:"updated"`
		Project     struct{ Key string `json:"key"` } `json:"project"`
		Labels      []string  `json:"labels"`
		IssueLinks  []struct {
			Type struct {
				Name    string `json:"name"`
				Inward  string `json:"inward"`
				Outward string `json:"outward"`
			} `json:"type"`
			OutwardIssue *struct{ Key string `json:"key"` } `json:"outwardIssue"`
			InwardIssue  *struct{ Key string `json:"key"` } `json:"inwardIssue"`
		} `json:"issuelinks"`
	} `json:"fields"`
}

type jiraSearchResponse struct {
	StartAt    int         `json:"startAt"`
	MaxResults int         `json:"maxResults"`
	Total      int         `json:"total"`
	Issues     []jiraIssue `json:"issues"`
}

func (p *Plugin) Ingest(ctx context.Context, req ingest.Request) (ingest.Result, error) {
	cfg, _ := req.SourceConfig.(Config)
	token := cfg.Token
	if token == "" {
		token = req.AuthToken
	}
	if token == "" || cfg.CloudID == "" {
		return ingest.Result{}, fmt.Errorf("ticketing ingestor requires token and cloud_id")
	}

	jql := buildJQL(cfg.ProjectKeys, req.LastProcessed)

	result := ingest.Result{}
	seenProjects := make(map[string]bool)

	startAt := 0
	const pageSize = 50
	var newest time.Time

	for {
		resp, err := p.searchIssues(ctx, cfg.CloudID, token, jql, startAt, pageSize)
		if err != nil {
			if startAt > 0 {
				break // partial result: resume from startAt next run
			}
			return ingest.Result{}, err
		}

		for _, issue := range resp.Issues {
			issueID := schema.JiraIssueID(issue.Key)

			if issue.Fields.Updated.After(newest) {
				newest = issue.Fields.Updated
			}

			var labels []string
			labels = append(labels, issue.Fields.Labels...)

			result.Nodes = append(result.Nodes, schema.Node{
				ID:     issueID,
				Type:   schema.NodeIssue,
				Title:  issue.Fields.Summary,
				Body:   issue.Fields.Description,
				TS:     &issue.Fields.Created,
				RepoID: req.RepoID,
				Extra: map[string]any{
					"key":    issue.Key,
					"status": issue.Fields.Status.Name,
					"labels": labels,
				},
			})

			projectKey := issue.Fields.Project.Key
			if projectKey != "" {
				projectID := schema.JiraProjectID(projectKey)
				if !seenProjects[projectKey] {
					seenProjects[projectKey] = true
					result.Nodes = append(result.Nodes, schema.Node{
						ID:     projectID,
						Type:   schema.NodeJiraProject,
						Title:  projectKey,
						RepoID: req.RepoID,
					})
				}
				result.Edges = append(result.Edges, schema.Edge{Src: issueID, Dst: projectID, Rel: schema.RelPartOf})
			}

			for _, link := range issue.Fields.IssueLinks {
				rel := linkRelation(link.Type.Name)
				if link.OutwardIssue != nil {
					result.Edges = append(result.Edges, schema.Edge{
						Src: issueID, Dst: schema.JiraIssueID(link.OutwardIssue.Key), Rel: rel,
					})
				}
				if link.InwardIssue != nil {
					result.Edges = append(result.Edges, schema.Edge{
						Src: schema.JiraIssueID(link.InwardIssue.Key), Dst: issueID, Rel: rel,
					})
				}
			}

			extracted := mentions.Extract(issue.Fields.Description)
			for _, ticketKey := range extracted.Tickets {
				if ticketKey == issue.Key {
					continue
				}
				result.Edges = append(result.Edges, schema.Edge{
					Src: issueID, Dst: schema.JiraIssueID(ticketKey), Rel: schema.RelMentions,
				})
			}
		}

		startAt += len(resp.Issues)
		if len(resp.Issues) == 0 || startAt >= resp.Total {
			break
		}
	}

	cursor := ingest.Cursor{}
	if !newest.IsZero() {
		cursor["updated_since"] = newest.UTC().Format(time.RFC3339)
	} else if prev, ok := req.LastProcessed["updated_since"]; ok {
		cursor["updated_since"] = prev
	}
	result.NewLastProcessed = cursor

	return result, nil
}

func (p *Plugin) searchIssues(ctx context.Context, cloudID, token, jql string, startAt, maxResults int) (*jiraSearchResponse, error) {
	var decoded jiraSearchResponse
	reqURL := fmt.Sprintf("%s/ex/jira/%s/rest/api/%s/search?jql=%s&startAt=%d&maxResults=%d",
		apiBaseURL, cloudID, apiVersion, url.QueryEscape(jql), startAt, maxResults)

	err := httpx.Do(ctx, httpx.DefaultRetryPolicy(), "ingest.ticketing", "searchIssues", func(ctx context.Context) (int, time.Duration, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return 0, 0, err
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
		httpReq.Header.Set("Accept", "application/json")
		httpReq.Header.Set("User-Agent", userAgent)

		resp, err := p.HTTPClient.Do(httpReq)
		if err != nil {
			return 0, 0, err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			return resp.StatusCode, retryAfter, fmt.Errorf("rate limited")
		}
		if resp.StatusCode >= 400 {
			return resp.StatusCode, 0, fmt.Errorf("jira API error: status %d", resp.StatusCode)
		}

		return resp.StatusCode, 0, json.NewDecoder(resp.Body).Decode(&decoded)
	})
	if err != nil {
		return nil, err
	}
	return &decoded, nil
}

func buildJQL(projectKeys []string, lastProcessed ingest.Cursor) string {
	var clauses []string
	if len(projectKeys) > 0 {
		quoted := make([]string, len(projectKeys))
		for i, k := range projectKeys {
			quoted[i] = `"` + k + `"`
		}
		clauses = append(clauses, "project in ("+strings.Join(quoted, ",")+")")
	}
	if since, ok := lastProcessed["updated_since"].(string); ok && since != "" {
		clauses = append(clauses, fmt.Sprintf(`updated >= "%s"`, since))
	}
	if len(clauses) == 0 {
		return "order by updated desc"
	}
	return strings.Join(clauses, " AND ") + " order by updated desc"
}

func linkRelation(linkType string) schema.EdgeRel {
	switch strings.ToLower(linkType) {
	case "blocks":
		return schema.RelBlocks
	case "depends", "dependency":
		return schema.RelDependsOn
	default:
		return schema.RelMentions
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}

