// Package githost implements the code-hosting ingestor (§4.3). The spec
// names paginated GraphQL for PR/issue listing enriched by REST; the only
// GitHub client available in this stack is go-github, which is REST-only,
// so this ingestor drives the whole contract (pagination, cursors, rate
// limiting) over go-github's REST surface instead — the observable
// contract (nodes/edges/cursor/backoff behaviour) is unchanged, only the
// wire protocol differs from the spec's literal wording. Grounded on the
// teacher's internal/github/client.go: same rate.Limiter + cursor-based
// pagination loop, generalized from coderisk's models to schema.Node/Edge.
package githost

import (
	"context"
	"fmt"
	"time"

	"github.com/google/go-github/v57/github"
	"golang.org/x/time/rate"

	arcerrors "github.com/arc-computer/arc-memory/internal/errors"
	"github.com/arc-computer/arc-memory/internal/ingest"
	"github.com/arc-computer/arc-memory/internal/ingest/mentions"
	"github.com/arc-computer/arc-memory/internal/schema"
)

// Config is the code-hosting ingestor's source configuration (§6.4).
type Config struct {
	Token string
	Owner string
	Repo  string
}

// Plugin implements ingest.Plugin for a GitHub-like code-hosting source.
type Plugin struct {
	// RateLimit is requests/second; the teacher's client.go uses a
	// conservative 1 req/sec default to stay well under GitHub's quota.
	RateLimit float64
}

func New() *Plugin { return &Plugin{RateLimit: 1} }

func (p *Plugin) Name() string { return "code_hosting" }

func (p *Plugin) NodeTypes() []schema.NodeType {
	return []schema.NodeType{schema.NodePR, schema.NodeIssue}
}

func (p *Plugin) EdgeTypes() []schema.EdgeRel {
	return []schema.EdgeRel{schema.RelMerges, schema.RelMentions}
}

func (p *Plugin) Ingest(ctx context.Context, req ingest.Request) (ingest.Result, error) {
	cfg, _ := req.SourceConfig.(Config)
	if req.AuthToken == "" && cfg.Token == "" {
		return ingest.Result{}, arcerrors.New(arcerrors.KindAuth, "ingest.code_hosting", "Ingest", "missing GitHub token")
	}
	token := cfg.Token
	if token == "" {
		token = req.AuthToken
	}

	client := github.NewClient(nil).WithAuthToken(token)
	limiter := rate.NewLimiter(rate.Limit(p.RateLimit), 1)

	var since time.Time
	if s, ok := req.LastProcessed["updated_since"].(string); ok {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			since = t
		}
	}
	resumePage := 0
	if page, ok := req.LastProcessed["page"].(float64); ok {
		resumePage = int(page)
	}

	result := ingest.Result{}
	prNumbers := make(map[int]string)  // number -> node ID, for MENTIONS resolution
	issueNumbers := make(map[int]string)

	prs, lastPage, err := fetchPullRequests(ctx, client, limiter, cfg.Owner, cfg.Repo, since, resumePage)
	if err != nil && len(prs) == 0 {
		return ingest.Result{}, err
	}
	for _, pr := range prs {
		prID := schema.PRID("github", pr.GetNumber())
		prNumbers[pr.GetNumber()] = prID

		var mergedAt *time.Time
		if pr.MergedAt != nil {
			t := pr.GetMergedAt().Time
			mergedAt = &t
		}
		createdAt := pr.GetCreatedAt().Time

		result.Nodes = append(result.Nodes, schema.Node{
			ID:    prID,
			Type:  schema.NodePR,
			Title: pr.GetTitle(),
			Body:  pr.GetBody(),
			TS:    &createdAt,
			Extra: map[string]any{
				"number":    pr.GetNumber(),
				"state":     pr.GetState(),
				"url":       pr.GetHTMLURL(),
				"merged_at": mergedAt,
				"author":    pr.GetUser().GetLogin(),
			},
		})

		if pr.GetMerged() && pr.MergeCommitSHA != nil {
			result.Edges = append(result.Edges, schema.Edge{
				Src: prID,
				Dst: schema.CommitID(pr.GetMergeCommitSHA()),
				Rel: schema.RelMerges,
			})
		}
	}

	issues, err := fetchIssues(ctx, client, limiter, cfg.Owner, cfg.Repo, since)
	if err != nil && len(issues) == 0 {
		return ingest.Result{}, err
	}
	for _, issue := range issues {
		issueID := schema.IssueID("github", issue.GetNumber())
		issueNumbers[issue.GetNumber()] = issueID

		var closedAt *time.Time
		if issue.ClosedAt != nil {
			t := issue.GetClosedAt().Time
			closedAt = &t
		}
		createdAt := issue.GetCreatedAt().Time

		var labels []string
		for _, l := range issue.Labels {
			labels = append(labels, l.GetName())
		}

		result.Nodes = append(result.Nodes, schema.Node{
			ID:    issueID,
			Type:  schema.NodeIssue,
			Title: issue.GetTitle(),
			Body:  issue.GetBody(),
			TS:    &createdAt,
			Extra: map[string]any{
				"number":    issue.GetNumber(),
				"state":     issue.GetState(),
				"closed_at": closedAt,
				"labels":    labels,
			},
		})
	}

	// Mention extraction (§4.3 rule 4): bodies scanned for @user/#number,
	// resolved against the in-batch PR/issue map.
	for _, pr := range prs {
		extracted := mentions.Extract(pr.GetBody())
		addMentionEdges(&result, schema.PRID("github", pr.GetNumber()), extracted, prNumbers, issueNumbers)
	}
	for _, issue := range issues {
		extracted := mentions.Extract(issue.GetBody())
		addMentionEdges(&result, schema.IssueID("github", issue.GetNumber()), extracted, prNumbers, issueNumbers)
	}

	result.NewLastProcessed = ingest.Cursor{
		"updated_since": time.Now().UTC().Format(time.RFC3339),
		"page":          float64(lastPage),
	}
	return result, nil
}

func addMentionEdges(result *ingest.Result, srcID string, extracted mentions.Extracted, prNumbers, issueNumbers map[int]string) {
	for _, numStr := range extracted.Numbers {
		var num int
		if _, err := fmt.Sscanf(numStr, "%d", &num); err != nil {
			continue
		}
		if dst, ok := prNumbers[num]; ok && dst != srcID {
			result.Edges = append(result.Edges, schema.Edge{Src: srcID, Dst: dst, Rel: schema.RelMentions})
		}
		if dst, ok := issueNumbers[num]; ok && dst != srcID {
			result.Edges = append(result.Edges, schema.Edge{Src: srcID, Dst: dst, Rel: schema.RelMentions})
		}
	}
}

func fetchPullRequests(ctx context.Context, client *github.Client, limiter *rate.Limiter, owner, repo string, since time.Time, resumePage int) ([]*github.PullRequest, int, error) {
	opts := &github.PullRequestListOptions{
		State: "all",
		ListOptions: github.ListOptions{
			PerPage: 100,
			Page:    resumePage,
		},
	}

	var all []*github.PullRequest
	lastPage := resumePage
	for {
		if err := limiter.Wait(ctx); err != nil {
			return all, lastPage, arcerrors.Wrap(err, arcerrors.KindCancelled, "ingest.code_hosting", "fetchPullRequests", "rate limiter wait cancelled")
		}

		prs, resp, err := client.PullRequests.List(ctx, owner, repo, opts)
		if err != nil {
			return all, lastPage, classifyGitHubErr(err, "fetchPullRequests")
		}

		for _, pr := range prs {
			if !since.IsZero() && pr.GetUpdatedAt().Time.Before(since) {
				continue
			}
			all = append(all, pr)
		}

		lastPage = opts.Page
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, lastPage, nil
}

func fetchIssues(ctx context.Context, client *github.Client, limiter *rate.Limiter, owner, repo string, since time.Time) ([]*github.Issue, error) {
	opts := &github.IssueListByRepoOptions{
		State: "all",
		ListOptions: github.ListOptions{
			PerPage: 100,
		},
	}
	if !since.IsZero() {
		opts.Since = since
	}

	var all []*github.Issue
	for {
		if err := limiter.Wait(ctx); err != nil {
			return all, arcerrors.Wrap(err, arcerrors.KindCancelled, "ingest.code_hosting", "fetchIssues", "rate limiter wait cancelled")
		}

		issues, resp, err := client.Issues.ListByRepo(ctx, owner, repo, opts)
		if err != nil {
			return all, classifyGitHubErr(err, "fetchIssues")
		}

		for _, issue := range issues {
			if issue.IsPullRequest() {
				continue
			}
			all = append(all, issue)
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

func classifyGitHubErr(err error, operation string) error {
	if rlErr, ok := err.(*github.RateLimitError); ok {
		return arcerrors.Wrap(err, arcerrors.KindRateLimit, "ingest.code_hosting", operation, "rate limit exceeded").
			WithDetail("reset_at", rlErr.Rate.Reset.Time)
	}
	if _, ok := err.(*github.AcceptedError); ok {
		return arcerrors.Wrap(err, arcerrors.KindNetwork, "ingest.code_hosting", operation, "request accepted, not yet processed")
	}
	if ghErr, ok := err.(*github.ErrorResponse); ok && ghErr.Response != nil {
		switch ghErr.Response.StatusCode {
		case 401, 403:
			return arcerrors.Wrap(err, arcerrors.KindAuth, "ingest.code_hosting", operation, "authentication failed")
		case 404:
			return arcerrors.Wrap(err, arcerrors.KindNotFound, "ingest.code_hosting", operation, "repository not found")
		}
	}
	return arcerrors.Wrap(err, arcerrors.KindNetwork, "ingest.code_hosting", operation, "request failed")
}
