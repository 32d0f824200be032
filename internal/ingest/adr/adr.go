// Package adr implements the ADR ingestor (§4.3): globs a configurable
// pattern, parses YAML frontmatter with a blockquote/heading fallback
// chain, and emits adr nodes + DECIDES edges. Grounded on
// original_source/arc_memory/ingest/adr.py's parsing chain, re-expressed
// in the teacher's Go idiom (os/exec-free, pure filepath.Glob + regexp).
package adr

import (
	"bufio"
	"fmt"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arc-computer/arc-memory/internal/ingest"
	"github.com/arc-computer/arc-memory/internal/logging"
	"github.com/arc-computer/arc-memory/internal/schema"
)

// Config is the ADR ingestor's source configuration (§6.4).
type Config struct {
	GlobPattern string
}

// Plugin implements ingest.Plugin for architecture decision records.
type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "adr" }

func (p *Plugin) NodeTypes() []schema.NodeType { return []schema.NodeType{schema.NodeADR} }

func (p *Plugin) EdgeTypes() []schema.EdgeRel { return []schema.EdgeRel{schema.RelDecides} }

var frontmatterRe = regexp.MustCompile(`(?s)^---\s*\n(.*?)\n---\s*\n`)
var headingRe = regexp.MustCompile(`(?m)^#\s+(.*?)\s*$`)
var blockquoteKVRe = regexp.MustCompile(`\*\*(.*?)\*\*\s*(.*)`)

func (p *Plugin) Ingest(ctx context.Context, req ingest.Request) (ingest.Result, error) {
	cfg, _ := req.SourceConfig.(Config)
	pattern := cfg.GlobPattern
	if pattern == "" {
		pattern = "**/adr/**/*.md"
	}

	files, err := globRecursive(req.RepoPath, pattern)
	if err != nil {
		return ingest.Result{}, fmt.Errorf("glob ADR pattern: %w", err)
	}

	prevFiles, _ := req.LastProcessed["files"].(map[string]any)
	processedFiles := make(map[string]any, len(files))
	result := ingest.Result{}

	log := logging.Global()

	for _, path := range files {
		rel, err := filepath.Rel(req.RepoPath, path)
		if err != nil {
			rel = path
		}

		info, err := os.Stat(path)
		if err != nil {
			log.WithError(err).Warnf("adr: stat %s failed, skipping", rel)
			continue
		}
		mtime := info.ModTime().UTC().Format(time.RFC3339)

		if prevFiles != nil {
			if prevMtime, ok := prevFiles[rel]; ok {
				if s, ok := prevMtime.(string); ok && s >= mtime {
					processedFiles[rel] = s
					continue
				}
			}
		}

		content, err := os.ReadFile(path)
		if err != nil {
			log.WithError(err).Warnf("adr: read %s failed, skipping", rel)
			continue
		}

		node, edge, err := parseADR(rel, string(content))
		if err != nil {
			log.WithError(err).Warnf("adr: parse %s failed, skipping", rel)
			continue
		}
		node.RepoID = req.RepoID

		result.Nodes = append(result.Nodes, node)
		result.Edges = append(result.Edges, edge)
		processedFiles[rel] = mtime
	}

	result.NewLastProcessed = ingest.Cursor{
		"files":     processedFiles,
		"adr_count": len(result.Nodes),
	}
	return result, nil
}

func parseADR(relPath, content string) (schema.Node, schema.Edge, error) {
	frontmatter := parseFrontmatter(content)
	title := parseTitle(content)

	adrID := schema.ADRID(filepath.Base(relPath))
	status, _ := frontmatter["status"].(string)
	if status == "" {
		status = "Unknown"
	}

	var decisionMakers []string
	switch v := frontmatter["decision_makers"].(type) {
	case []any:
		for _, x := range v {
			if s, ok := x.(string); ok {
				decisionMakers = append(decisionMakers, s)
			}
		}
	case string:
		decisionMakers = []string{v}
	}

	createdAt := time.Now().UTC()
	if dateStr, ok := frontmatter["date"].(string); ok {
		if parsed, ok := schema.ParseTimestamp(dateStr); ok {
			createdAt = parsed
		}
	}

	extra := make(map[string]any, len(frontmatter)+3)
	for k, v := range frontmatter {
		extra[k] = v
	}
	extra["status"] = status
	extra["decision_makers"] = decisionMakers
	extra["path"] = relPath

	node := schema.Node{
		ID:    adrID,
		Type:  schema.NodeADR,
		Title: title,
		Body:  content,
		TS:    &createdAt,
		Extra: extra,
	}

	edge := schema.Edge{
		Src: adrID,
		Dst: schema.FileID(relPath),
		Rel: schema.RelDecides,
	}

	return node, edge, nil
}

func parseFrontmatter(content string) map[string]any {
	if m := frontmatterRe.FindStringSubmatch(content); m != nil {
		var parsed map[string]any
		if err := yaml.Unmarshal([]byte(m[1]), &parsed); err == nil && parsed != nil {
			return parsed
		}
	}
	return parseBlockquoteFrontmatter(content)
}

// parseBlockquoteFrontmatter reads the leading run of "> " lines as a
// key/value fallback when no YAML frontmatter block is present.
func parseBlockquoteFrontmatter(content string) map[string]any {
	scanner := bufio.NewScanner(strings.NewReader(content))
	var lines []string
	started := false
scan:
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, ">"):
			started = true
			lines = append(lines, strings.TrimSpace(strings.TrimPrefix(line, ">")))
		case line == "" && started:
			continue
		case started:
			break scan
		}
	}
	if len(lines) == 0 {
		return map[string]any{}
	}

	frontmatter := make(map[string]any)
	for _, line := range lines {
		if m := blockquoteKVRe.FindStringSubmatch(line); m != nil {
			key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(m[1]), " ", "_"))
			frontmatter[key] = strings.TrimSpace(m[2])
			continue
		}
		if idx := strings.Index(line, ":"); idx > 0 {
			key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(line[:idx]), " ", "_"))
			frontmatter[key] = strings.TrimSpace(line[idx+1:])
		}
	}
	return frontmatter
}

func parseTitle(content string) string {
	if m := headingRe.FindStringSubmatch(content); m != nil {
		return strings.TrimSpace(m[1])
	}
	return "Untitled ADR"
}

// globRecursive supports the "**" recursive-wildcard segment that
// filepath.Glob alone does not, by walking the tree and matching each
// candidate against the pattern translated to a regexp.
func globRecursive(root, pattern string) ([]string, error) {
	full := filepath.Join(root, pattern)
	if !strings.Contains(full, "**") {
		return filepath.Glob(full)
	}

	re, err := globToRegexp(full)
	if err != nil {
		return nil, err
	}

	var matches []string
	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if re.MatchString(path) {
			matches = append(matches, path)
		}
		return nil
	})
	return matches, err
}

func globToRegexp(pattern string) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteString("^")
	i := 0
	for i < len(pattern) {
		switch {
		case strings.HasPrefix(pattern[i:], "**/"):
			sb.WriteString("(.*/)?")
			i += 3
		case pattern[i] == '*':
			sb.WriteString("[^/]*")
			i++
		case strings.ContainsRune(`.+()[]{}^$|\`, rune(pattern[i])):
			sb.WriteString(regexp.QuoteMeta(string(pattern[i])))
			i++
		default:
			sb.WriteRune(rune(pattern[i]))
			i++
		}
	}
	sb.WriteString("$")
	return regexp.Compile(sb.String())
}
