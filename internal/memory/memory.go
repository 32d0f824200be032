// Package memory implements the Query Layer (C9): read-only lookups over
// simulations and their metrics, plus a similarity search used to surface
// past runs relevant to a new one. Grounded on the teacher's own read-path
// query helpers (graphstore lookups by type/edge, composed rather than
// adding new store methods) and original_source/arc_memory/simulate's
// attestation/metric shapes produced by C8.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	arcerrors "github.com/arc-computer/arc-memory/internal/errors"
	"github.com/arc-computer/arc-memory/internal/graphstore"
	"github.com/arc-computer/arc-memory/internal/schema"
)

// Simulation is a simulation node projected to the fields callers need.
type Simulation struct {
	ID          string         `json:"id"`
	Scenario    string         `json:"scenario"`
	Severity    int            `json:"severity"`
	RiskScore   int            `json:"risk_score"`
	Services    []string       `json:"affected_services"`
	Files       []string       `json:"affected_files,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// Metric is one metric node attached to a simulation.
type Metric struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Similar is one row of get_similar_simulations: a past simulation plus
// its Jaccard similarity to the query's affected-service set.
type Similar struct {
	Simulation Simulation `json:"simulation"`
	Score      float64    `json:"score"`
}

// Store is the graph store the memory layer reads from (an alias of
// graphstore.Store).
type Store = graphstore.Store

// GetSimulationByID implements get_simulation_by_id.
func GetSimulationByID(ctx context.Context, store Store, simID string) (*Simulation, error) {
	node, err := store.GetNodeByID(ctx, schema.SimulationID(simID))
	if err != nil {
		if arcerrors.KindOf(err) == arcerrors.KindNotFound {
			return nil, nil
		}
		return nil, arcerrors.Wrap(err, arcerrors.KindDatabase, "memory", "get_simulation_by_id", "could not load simulation "+simID)
	}
	if node == nil {
		return nil, nil
	}
	return toSimulation(ctx, store, *node)
}

// GetSimulationsByService implements get_simulations_by_service: every
// simulation whose SIMULATES/AFFECTS edge points at serviceID.
func GetSimulationsByService(ctx context.Context, store Store, serviceID string) ([]Simulation, error) {
	edges, err := store.GetEdgesByDst(ctx, serviceID, schema.RelSimulates)
	if err != nil {
		return nil, arcerrors.Wrap(err, arcerrors.KindDatabase, "memory", "get_simulations_by_service", "could not load SIMULATES edges for "+serviceID)
	}
	return loadSimulations(ctx, store, edgeSrcs(edges))
}

// GetSimulationsByFile implements get_simulations_by_file: returns the
// simulations whose recorded affected_files extra field lists path. A
// simulation that reaches the file only through one of its services is
// not returned.
func GetSimulationsByFile(ctx context.Context, store Store, path string) ([]Simulation, error) {
	nodes, err := store.GetNodesByType(ctx, schema.NodeSimulation, nil)
	if err != nil {
		return nil, arcerrors.Wrap(err, arcerrors.KindDatabase, "memory", "get_simulations_by_file", "could not load simulation nodes")
	}

	var out []Simulation
	for _, n := range nodes {
		sim, err := toSimulation(ctx, store, n)
		if err != nil {
			return nil, err
		}
		for _, f := range sim.Files {
			if f == path {
				out = append(out, *sim)
				break
			}
		}
	}
	sortByID(out)
	return out, nil
}

// GetSimulationMetrics implements get_simulation_metrics: every metric
// node reachable from simID via MEASURES.
func GetSimulationMetrics(ctx context.Context, store Store, simID string) ([]Metric, error) {
	simNodeID := schema.SimulationID(simID)
	edges, err := store.GetEdgesBySrc(ctx, simNodeID, schema.RelMeasures)
	if err != nil {
		return nil, arcerrors.Wrap(err, arcerrors.KindDatabase, "memory", "get_simulation_metrics", "could not load MEASURES edges for "+simID)
	}

	metrics := make([]Metric, 0, len(edges))
	for _, e := range edges {
		node, err := store.GetNodeByID(ctx, e.Dst)
		if err != nil {
			return nil, arcerrors.Wrap(err, arcerrors.KindDatabase, "memory", "get_node", "could not load metric node "+e.Dst)
		}
		if node == nil {
			continue
		}
		value, _ := node.Extra["value"].(float64)
		metrics = append(metrics, Metric{Name: node.Title, Value: value})
	}
	sort.Slice(metrics, func(i, j int) bool { return metrics[i].Name < metrics[j].Name })
	return metrics, nil
}

// GetSimilarSimulations implements get_similar_simulations: ranks every
// other simulation by Jaccard similarity of affected_services against
// simID's own set, returning the topN highest-scoring non-zero matches.
func GetSimilarSimulations(ctx context.Context, store Store, simID string, topN int) ([]Similar, error) {
	target, err := GetSimulationByID(ctx, store, simID)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, arcerrors.New(arcerrors.KindNotFound, "memory", "get_similar_simulations", "no such simulation: "+simID)
	}

	nodes, err := store.GetNodesByType(ctx, schema.NodeSimulation, nil)
	if err != nil {
		return nil, arcerrors.Wrap(err, arcerrors.KindDatabase, "memory", "get_similar_simulations", "could not load simulation nodes")
	}

	targetSet := toSet(target.Services)
	var ranked []Similar
	for _, n := range nodes {
		if n.ID == target.ID {
			continue
		}
		sim, err := toSimulation(ctx, store, n)
		if err != nil {
			return nil, err
		}
		score := jaccard(targetSet, toSet(sim.Services))
		if score <= 0 {
			continue
		}
		ranked = append(ranked, Similar{Simulation: *sim, Score: score})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Simulation.ID < ranked[j].Simulation.ID
	})

	if topN > 0 && len(ranked) > topN {
		ranked = ranked[:topN]
	}
	return ranked, nil
}

// EnhanceExplanation implements enhance_explanation: appends a short note
// pointing at the most similar prior run, when one exists above
// similarityFloor, so a caller's templated explanation can reference
// precedent without re-deriving it.
func EnhanceExplanation(ctx context.Context, store Store, simID, explanation string, similarityFloor float64) (string, error) {
	similar, err := GetSimilarSimulations(ctx, store, simID, 1)
	if err != nil {
		return explanation, err
	}
	if len(similar) == 0 || similar[0].Score < similarityFloor {
		return explanation, nil
	}

	var b strings.Builder
	b.WriteString(explanation)
	b.WriteString(" This overlaps with a previous simulation (")
	b.WriteString(similar[0].Simulation.ID)
	b.WriteString(") affecting the same services at a similarity of ")
	b.WriteString(formatScore(similar[0].Score))
	b.WriteString(".")
	return b.String(), nil
}

func toSimulation(ctx context.Context, store Store, node schema.Node) (*Simulation, error) {
	sim := &Simulation{
		ID:    strings.TrimPrefix(node.ID, "simulation:"),
		Extra: node.Extra,
	}
	if scenario, ok := node.Extra["scenario"].(string); ok {
		sim.Scenario = scenario
	}
	if severity, ok := node.Extra["severity"].(int); ok {
		sim.Severity = severity
	} else if f, ok := node.Extra["severity"].(float64); ok {
		sim.Severity = int(f)
	}
	if risk, ok := node.Extra["risk_score"].(int); ok {
		sim.RiskScore = risk
	} else if f, ok := node.Extra["risk_score"].(float64); ok {
		sim.RiskScore = int(f)
	}
	sim.Files = stringSlice(node.Extra["affected_files"])

	affects, err := store.GetEdgesBySrc(ctx, node.ID, schema.RelAffects)
	if err != nil {
		return nil, arcerrors.Wrap(err, arcerrors.KindDatabase, "memory", "get_affects_edges", "could not load AFFECTS edges for "+node.ID)
	}
	sim.Services = edgeDsts(affects)

	return sim, nil
}

func loadSimulations(ctx context.Context, store Store, ids []string) ([]Simulation, error) {
	out := make([]Simulation, 0, len(ids))
	for _, id := range ids {
		node, err := store.GetNodeByID(ctx, id)
		if err != nil {
			return nil, arcerrors.Wrap(err, arcerrors.KindDatabase, "memory", "get_node", "could not load simulation node "+id)
		}
		if node == nil || node.Type != schema.NodeSimulation {
			continue
		}
		sim, err := toSimulation(ctx, store, *node)
		if err != nil {
			return nil, err
		}
		out = append(out, *sim)
	}
	sortByID(out)
	return out, nil
}

func edgeSrcs(edges []schema.Edge) []string {
	out := make([]string, 0, len(edges))
	for _, e := range edges {
		out = append(out, e.Src)
	}
	return out
}

func edgeDsts(edges []schema.Edge) []string {
	out := make([]string, 0, len(edges))
	for _, e := range edges {
		out = append(out, e.Dst)
	}
	return out
}

// stringSlice normalizes a []string that may have round-tripped through
// JSON (and so arrived as []any with string elements) back to []string.
func stringSlice(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

// jaccard computes |a n b| / |a u b| for two service-ID sets.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	union := make(map[string]bool, len(a)+len(b))
	for v := range a {
		union[v] = true
		if b[v] {
			intersection++
		}
	}
	for v := range b {
		union[v] = true
	}
	if len(union) == 0 {
		return 0
	}
	return float64(intersection) / float64(len(union))
}

func sortByID(sims []Simulation) {
	sort.Slice(sims, func(i, j int) bool { return sims[i].ID < sims[j].ID })
}

func formatScore(score float64) string {
	return fmt.Sprintf("%.0f%%", score*100)
}
