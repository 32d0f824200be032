package docplatform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/arc-computer/arc-memory/internal/httpx"
	"github.com/arc-computer/arc-memory/internal/ingest"
	"github.com/arc-computer/arc-memory/internal/schema"
)

const (
	notionAPIURL     = "https://api.notion.com/v1"
	notionAPIVersion = "2022-06-28"
	notionUserAgent  = "arc-memory/1.0"
)

// NotionConfig is the Notion-like source's configuration (§6.4).
type NotionConfig struct {
	Token       string
	DatabaseIDs []string
	PageIDs     []string
}

// NotionPlugin implements ingest.Plugin for a Notion-like document store.
type NotionPlugin struct {
	HTTPClient *http.Client
}

func NewNotion() *NotionPlugin { return &NotionPlugin{HTTPClient: &http.Client{Timeout: 30 * time.Second}} }

func (p *NotionPlugin) Name() string { return "doc_platform_notion" }

func (p *NotionPlugin) NodeTypes() []schema.NodeType { return []schema.NodeType{schema.NodeDocument} }

func (p *NotionPlugin) EdgeTypes() []schema.EdgeRel {
	return []schema.EdgeRel{schema.RelContains, schema.RelMentions}
}

type notionPage struct {
	ID             string `json:"id"`
	URL            string `json:"url"`
	CreatedTime    string `json:"created_time"`
	LastEditedTime string `json:"last_edited_time"`
	Parent         map[string]any `json:"parent"`
	Properties     map[string]any `json:"properties"`
}

type notionDatabase struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	CreatedTime string `json:"created_time"`
	Parent      map[string]any `json:"parent"`
	Title       []struct {
		PlainText string `json:"plain_text"`
	} `json:"title"`
}

type notionSearchResponse struct {
	Results    []notionPage `json:"results"`
	HasMore    bool         `json:"has_more"`
	NextCursor string       `json:"next_cursor"`
}

type notionBlock struct {
	Type       string         `json:"type"`
	Paragraph  *notionRichSet `json:"paragraph,omitempty"`
	Heading1   *notionRichSet `json:"heading_1,omitempty"`
	Heading2   *notionRichSet `json:"heading_2,omitempty"`
	Heading3   *notionRichSet `json:"heading_3,omitempty"`
	Bulleted   *notionRichSet `json:"bulleted_list_item,omitempty"`
	Numbered   *notionRichSet `json:"numbered_list_item,omitempty"`
	Quote      *notionRichSet `json:"quote,omitempty"`
}

type notionRichSet struct {
	RichText []struct {
		Text struct {
			Content string `json:"content"`
		} `json:"text"`
	} `json:"rich_text"`
}

type notionBlockChildrenResponse struct {
	Results    []notionBlock `json:"results"`
	HasMore    bool          `json:"has_more"`
	NextCursor string        `json:"next_cursor"`
}

func (p *NotionPlugin) Ingest(ctx context.Context, req ingest.Request) (ingest.Result, error) {
	cfg, _ := req.SourceConfig.(NotionConfig)
	token := cfg.Token
	if token == "" {
		token = req.AuthToken
	}
	if token == "" {
		return ingest.Result{}, nil // optional source: absent token means skip, not fatal
	}

	result := ingest.Result{}

	var pages []notionPage
	if len(cfg.PageIDs) > 0 {
		for _, id := range cfg.PageIDs {
			page, err := p.getPage(ctx, token, id)
			if err != nil {
				continue // partial-failure tolerance: one bad page ID doesn't abort the run
			}
			pages = append(pages, *page)
		}
	} else {
		fetched, err := p.searchPages(ctx, token)
		if err != nil {
			return result, err
		}
		pages = fetched
	}

	for _, page := range pages {
		nodeID := schema.NotionID("page", page.ID)
		createdAt, _ := time.Parse(time.RFC3339, page.CreatedTime)

		body, err := p.getPageContent(ctx, token, page.ID)
		if err != nil {
			body = ""
		}

		result.Nodes = append(result.Nodes, schema.Node{
			ID:     nodeID,
			Type:   schema.NodeDocument,
			Title:  extractPageTitle(page.Properties),
			Body:   body,
			TS:     &createdAt,
			RepoID: req.RepoID,
			Extra: map[string]any{
				"source":    "notion",
				"notion_id": page.ID,
				"url":       page.URL,
			},
		})

		if parentType, parentID := parentInfo(page.Parent); parentID != "" {
			result.Edges = append(result.Edges, schema.Edge{
				Src: schema.NotionID(parentType, parentID),
				Dst: nodeID,
				Rel: schema.RelContains,
			})
		}
	}

	for _, dbID := range cfg.DatabaseIDs {
		db, err := p.getDatabase(ctx, token, dbID)
		if err != nil {
			continue // partial-failure tolerance, as above
		}

		dbNodeID := schema.NotionID("database", db.ID)
		createdAt, _ := time.Parse(time.RFC3339, db.CreatedTime)

		result.Nodes = append(result.Nodes, schema.Node{
			ID:     dbNodeID,
			Type:   schema.NodeDocument,
			Title:  extractDatabaseTitle(db.Title),
			TS:     &createdAt,
			RepoID: req.RepoID,
			Extra: map[string]any{
				"source":    "notion",
				"notion_id": db.ID,
				"url":       db.URL,
				"kind":      "database",
			},
		})

		if parentType, parentID := parentInfo(db.Parent); parentID != "" {
			result.Edges = append(result.Edges, schema.Edge{
				Src: schema.NotionID(parentType, parentID),
				Dst: dbNodeID,
				Rel: schema.RelContains,
			})
		}
	}

	return result, nil
}

func (p *NotionPlugin) getPage(ctx context.Context, token, pageID string) (*notionPage, error) {
	var decoded notionPage
	err := p.doJSON(ctx, token, http.MethodGet, "/pages/"+pageID, nil, &decoded)
	if err != nil {
		return nil, err
	}
	return &decoded, nil
}

func (p *NotionPlugin) searchPages(ctx context.Context, token string) ([]notionPage, error) {
	var all []notionPage
	var cursor string
	for {
		reqBody := map[string]any{
			"page_size": 100,
			"filter":    map[string]any{"value": "page", "property": "object"},
		}
		if cursor != "" {
			reqBody["start_cursor"] = cursor
		}

		var decoded notionSearchResponse
		if err := p.doJSON(ctx, token, http.MethodPost, "/search", reqBody, &decoded); err != nil {
			return all, err
		}
		all = append(all, decoded.Results...)

		if !decoded.HasMore || decoded.NextCursor == "" {
			break
		}
		cursor = decoded.NextCursor
	}
	return all, nil
}

func (p *NotionPlugin) getDatabase(ctx context.Context, token, databaseID string) (*notionDatabase, error) {
	var decoded notionDatabase
	if err := p.doJSON(ctx, token, http.MethodGet, "/databases/"+databaseID, nil, &decoded); err != nil {
		return nil, err
	}
	return &decoded, nil
}

func extractDatabaseTitle(title []struct {
	PlainText string `json:"plain_text"`
}) string {
	var sb strings.Builder
	for _, part := range title {
		sb.WriteString(part.PlainText)
	}
	if sb.Len() == 0 {
		return "Untitled Database"
	}
	return sb.String()
}

func (p *NotionPlugin) getPageContent(ctx context.Context, token, pageID string) (string, error) {
	blocks, err := p.fetchAllBlocks(ctx, token, pageID)
	if err != nil {
		return "", err
	}
	return blocksToMarkdown(blocks), nil
}

func (p *NotionPlugin) fetchAllBlocks(ctx context.Context, token, blockID string) ([]notionBlock, error) {
	var all []notionBlock
	var cursor string
	for {
		endpoint := fmt.Sprintf("/blocks/%s/children?page_size=100", blockID)
		if cursor != "" {
			endpoint += "&start_cursor=" + cursor
		}
		var decoded notionBlockChildrenResponse
		if err := p.doJSON(ctx, token, http.MethodGet, endpoint, nil, &decoded); err != nil {
			return all, err
		}
		all = append(all, decoded.Results...)
		if !decoded.HasMore || decoded.NextCursor == "" {
			break
		}
		cursor = decoded.NextCursor
	}
	return all, nil
}

func (p *NotionPlugin) doJSON(ctx context.Context, token, method, endpoint string, body any, out any) error {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = encoded
	}

	return httpx.Do(ctx, httpx.DefaultRetryPolicy(), "ingest.doc_platform_notion", endpoint, func(ctx context.Context) (int, time.Duration, error) {
		httpReq, err := http.NewRequestWithContext(ctx, method, notionAPIURL+endpoint, bytes.NewReader(payload))
		if err != nil {
			return 0, 0, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Notion-Version", notionAPIVersion)
		httpReq.Header.Set("User-Agent", notionUserAgent)
		httpReq.Header.Set("Authorization", "Bearer "+token)

		resp, err := p.HTTPClient.Do(httpReq)
		if err != nil {
			return 0, 0, err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			return resp.StatusCode, 5 * time.Second, fmt.Errorf("rate limited")
		}
		if resp.StatusCode >= 400 {
			return resp.StatusCode, 0, fmt.Errorf("notion API error: status %d", resp.StatusCode)
		}
		return resp.StatusCode, 0, json.NewDecoder(resp.Body).Decode(out)
	})
}

func extractPageTitle(properties map[string]any) string {
	for _, v := range properties {
		prop, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if prop["type"] != "title" {
			continue
		}
		titleParts, ok := prop["title"].([]any)
		if !ok {
			continue
		}
		var sb strings.Builder
		for _, part := range titleParts {
			if m, ok := part.(map[string]any); ok {
				if text, ok := m["plain_text"].(string); ok {
					sb.WriteString(text)
				}
			}
		}
		if sb.Len() > 0 {
			return sb.String()
		}
	}
	return "Untitled"
}

func parentInfo(parent map[string]any) (kind, id string) {
	if v, ok := parent["page_id"].(string); ok {
		return "page", v
	}
	if v, ok := parent["database_id"].(string); ok {
		return "database", v
	}
	if ws, ok := parent["workspace"].(bool); ok && ws {
		return "workspace", "workspace"
	}
	return "", ""
}

func blocksToMarkdown(blocks []notionBlock) string {
	var lines []string
	for _, b := range blocks {
		switch b.Type {
		case "paragraph":
			if t := richText(b.Paragraph); t != "" {
				lines = append(lines, t, "")
			}
		case "heading_1":
			if t := richText(b.Heading1); t != "" {
				lines = append(lines, "# "+t, "")
			}
		case "heading_2":
			if t := richText(b.Heading2); t != "" {
				lines = append(lines, "## "+t, "")
			}
		case "heading_3":
			if t := richText(b.Heading3); t != "" {
				lines = append(lines, "### "+t, "")
			}
		case "bulleted_list_item":
			if t := richText(b.Bulleted); t != "" {
				lines = append(lines, "- "+t)
			}
		case "numbered_list_item":
			if t := richText(b.Numbered); t != "" {
				lines = append(lines, "1. "+t)
			}
		case "quote":
			if t := richText(b.Quote); t != "" {
				lines = append(lines, "> "+t, "")
			}
		case "divider":
			lines = append(lines, "---", "")
		}
	}
	return strings.Join(lines, "\n")
}

func richText(set *notionRichSet) string {
	if set == nil {
		return ""
	}
	var sb strings.Builder
	for _, rt := range set.RichText {
		sb.WriteString(rt.Text.Content)
	}
	return sb.String()
}
