package memory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arc-computer/arc-memory/internal/graphstore"
	"github.com/arc-computer/arc-memory/internal/schema"
)

func openTestStore(t *testing.T) graphstore.Store {
	t.Helper()
	ctx := context.Background()
	store := graphstore.NewBboltStore(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, store.Connect(ctx))
	require.NoError(t, store.InitSchema(ctx))
	t.Cleanup(func() { _ = store.Disconnect() })
	return store
}

// seedSimulation writes one simulation node plus its service/metric edges,
// round-tripping through the real bbolt/JSON storage path so tests exercise
// the same []any-vs-[]string subtlety the production code has to handle.
func seedSimulation(t *testing.T, store graphstore.Store, simID, scenario string, severity, riskScore int, services, files []string, metrics map[string]float64) {
	t.Helper()
	ctx := context.Background()

	simNodeID := schema.SimulationID(simID)
	nodes := []schema.Node{{
		ID:   simNodeID,
		Type: schema.NodeSimulation,
		Extra: map[string]any{
			"scenario":       scenario,
			"severity":       severity,
			"risk_score":     riskScore,
			"affected_files": files,
		},
	}}
	var edges []schema.Edge
	for _, svc := range services {
		edges = append(edges, schema.Edge{Src: simNodeID, Dst: svc, Rel: schema.RelSimulates})
		edges = append(edges, schema.Edge{Src: simNodeID, Dst: svc, Rel: schema.RelAffects})
	}
	for name, value := range metrics {
		metricNodeID := schema.MetricID(simID, name)
		nodes = append(nodes, schema.Node{
			ID:    metricNodeID,
			Type:  schema.NodeMetric,
			Title: name,
			Extra: map[string]any{"value": value, "name": name},
		})
		edges = append(edges, schema.Edge{Src: simNodeID, Dst: metricNodeID, Rel: schema.RelMeasures})
	}

	require.NoError(t, store.AddNodesAndEdges(ctx, nodes, edges))
}

func TestGetSimulationByID(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	seedSimulation(t, store, "sim_abc", "pod_failure", 60, 30,
		[]string{"svc:api"}, []string{"api/handler.go"}, map[string]float64{"error_rate_pct": 12.5})

	sim, err := GetSimulationByID(ctx, store, "sim_abc")
	require.NoError(t, err)
	require.NotNil(t, sim)
	assert.Equal(t, "sim_abc", sim.ID)
	assert.Equal(t, "pod_failure", sim.Scenario)
	assert.Equal(t, 60, sim.Severity)
	assert.Equal(t, 30, sim.RiskScore)
	assert.Equal(t, []string{"api/handler.go"}, sim.Files)
	assert.Equal(t, []string{"svc:api"}, sim.Services)
}

func TestGetSimulationByID_NotFound(t *testing.T) {
	store := openTestStore(t)
	sim, err := GetSimulationByID(context.Background(), store, "sim_missing")
	require.NoError(t, err)
	assert.Nil(t, sim)
}

func TestGetSimulationsByService(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	seedSimulation(t, store, "sim_1", "pod_failure", 40, 20, []string{"svc:api"}, nil, nil)
	seedSimulation(t, store, "sim_2", "cpu_stress", 80, 40, []string{"svc:api", "svc:worker"}, nil, nil)
	seedSimulation(t, store, "sim_3", "disk_stress", 20, 10, []string{"svc:worker"}, nil, nil)

	sims, err := GetSimulationsByService(ctx, store, "svc:api")
	require.NoError(t, err)
	require.Len(t, sims, 2)
	assert.Equal(t, "sim_1", sims[0].ID)
	assert.Equal(t, "sim_2", sims[1].ID)
}

func TestGetSimulationsByFile(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	seedSimulation(t, store, "sim_1", "pod_failure", 40, 20, nil, []string{"a.go", "b.go"}, nil)
	seedSimulation(t, store, "sim_2", "cpu_stress", 80, 40, nil, []string{"c.go"}, nil)

	sims, err := GetSimulationsByFile(ctx, store, "b.go")
	require.NoError(t, err)
	require.Len(t, sims, 1)
	assert.Equal(t, "sim_1", sims[0].ID)

	sims, err = GetSimulationsByFile(ctx, store, "missing.go")
	require.NoError(t, err)
	assert.Empty(t, sims)
}

func TestGetSimulationMetrics(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	seedSimulation(t, store, "sim_1", "pod_failure", 40, 20, nil, nil, map[string]float64{
		"error_rate_pct": 5,
		"latency_ms":     120,
	})

	metrics, err := GetSimulationMetrics(ctx, store, "sim_1")
	require.NoError(t, err)
	require.Len(t, metrics, 2)
	assert.Equal(t, "error_rate_pct", metrics[0].Name)
	assert.Equal(t, 5.0, metrics[0].Value)
	assert.Equal(t, "latency_ms", metrics[1].Name)
	assert.Equal(t, 120.0, metrics[1].Value)
}

func TestGetSimilarSimulations(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	seedSimulation(t, store, "sim_target", "pod_failure", 50, 25, []string{"svc:a", "svc:b"}, nil, nil)
	seedSimulation(t, store, "sim_full_overlap", "pod_failure", 50, 25, []string{"svc:a", "svc:b"}, nil, nil)
	seedSimulation(t, store, "sim_partial", "cpu_stress", 50, 25, []string{"svc:a", "svc:c"}, nil, nil)
	seedSimulation(t, store, "sim_disjoint", "disk_stress", 50, 25, []string{"svc:z"}, nil, nil)

	similar, err := GetSimilarSimulations(ctx, store, "sim_target", 5)
	require.NoError(t, err)
	require.Len(t, similar, 2)
	assert.Equal(t, "sim_full_overlap", similar[0].Simulation.ID)
	assert.Equal(t, 1.0, similar[0].Score)
	assert.Equal(t, "sim_partial", similar[1].Simulation.ID)
	assert.InDelta(t, 1.0/3.0, similar[1].Score, 0.001)
}

func TestGetSimilarSimulations_UnknownID(t *testing.T) {
	store := openTestStore(t)
	_, err := GetSimilarSimulations(context.Background(), store, "sim_missing", 5)
	assert.Error(t, err)
}

func TestEnhanceExplanation(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	seedSimulation(t, store, "sim_target", "pod_failure", 50, 25, []string{"svc:a", "svc:b"}, nil, nil)
	seedSimulation(t, store, "sim_prior", "pod_failure", 50, 25, []string{"svc:a", "svc:b"}, nil, nil)

	enhanced, err := EnhanceExplanation(ctx, store, "sim_target", "Base explanation.", 0.5)
	require.NoError(t, err)
	assert.Contains(t, enhanced, "Base explanation.")
	assert.Contains(t, enhanced, "sim_prior")
	assert.Contains(t, enhanced, "100%")
}

func TestEnhanceExplanation_BelowFloor(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	seedSimulation(t, store, "sim_target", "pod_failure", 50, 25, []string{"svc:a", "svc:b"}, nil, nil)
	seedSimulation(t, store, "sim_prior", "pod_failure", 50, 25, []string{"svc:a"}, nil, nil)

	enhanced, err := EnhanceExplanation(ctx, store, "sim_target", "Base explanation.", 0.9)
	require.NoError(t, err)
	assert.Equal(t, "Base explanation.", enhanced)
}

func TestStringSlice(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, stringSlice([]string{"a", "b"}))
	assert.Equal(t, []string{"a", "b"}, stringSlice([]any{"a", "b"}))
	assert.Nil(t, stringSlice(nil))
	assert.Nil(t, stringSlice(42))
}

func TestJaccard(t *testing.T) {
	assert.Equal(t, 0.0, jaccard(map[string]bool{}, map[string]bool{}))
	assert.Equal(t, 1.0, jaccard(toSet([]string{"a", "b"}), toSet([]string{"a", "b"})))
	assert.Equal(t, 0.0, jaccard(toSet([]string{"a"}), toSet([]string{"b"})))
	assert.InDelta(t, 1.0/3.0, jaccard(toSet([]string{"a", "b"}), toSet([]string{"a", "c"})), 0.001)
}
