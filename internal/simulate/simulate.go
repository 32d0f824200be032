// Package simulate implements the Simulation Workflow (C8): a linear
// seven-step pipeline from a git rev-range to a risk attestation (plain,
// unsigned JSON).
// Grounded on original_source/arc_memory/simulate/langgraph_flow.py's
// StateGraph (extract_diff -> analyze_changes -> build_causal_graph ->
// generate_manifest -> run_simulation -> generate_explanation ->
// generate_attestation), re-expressed as a plain sequential Go pipeline in
// the style of internal/orchestrator's build loop rather than a graph
//-execution library — the workflow here has no branching or parallel
// fan-out for a generic DAG engine to earn its keep over.
package simulate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arc-computer/arc-memory/internal/causal"
	arcerrors "github.com/arc-computer/arc-memory/internal/errors"
	"github.com/arc-computer/arc-memory/internal/git"
	"github.com/arc-computer/arc-memory/internal/graphstore"
	"github.com/arc-computer/arc-memory/internal/schema"
)

const schemaVersion = "0.2"

// Options are run_sim's input parameters (§4.8).
type Options struct {
	RevRange   string
	Scenario   string
	Severity   int // 0-100
	Timeout    time.Duration
	RepoPath   string
	RepoID     string
	Backend    string // "docker" or "mock", from config.SimConfig.SandboxBackend
	AttestDir  string
}

// Result is run_sim's return value (§4.8 step 7 / final state).
type Result struct {
	Status           string             `json:"status"` // "completed" or "failed"
	Error            string             `json:"error,omitempty"`
	RevRange         string             `json:"rev_range"`
	Attestation      *Attestation       `json:"attestation,omitempty"`
	Explanation      string             `json:"explanation,omitempty"`
	RiskScore        int                `json:"risk_score"`
	Metrics          map[string]float64 `json:"metrics,omitempty"`
	AffectedServices []string           `json:"affected_services,omitempty"`
}

// Attestation is the append-only record written to .attest/<sim_id>.json
// (§4.8 step 7).
type Attestation struct {
	SimID         string             `json:"sim_id"`
	ManifestHash  string             `json:"manifest_hash"`
	CommitTarget  string             `json:"commit_target"`
	Metrics       map[string]float64 `json:"metrics"`
	Timestamp     time.Time          `json:"timestamp"`
	DiffHash      string             `json:"diff_hash"`
	RiskScore     int                `json:"risk_score"`
	Explanation   string             `json:"explanation"`
}

// Workflow runs the simulation pipeline against a graph store, persisting
// its own results back into the graph.
type Workflow struct {
	Store  graphstore.Store
	Logger *logrus.Logger
}

// New builds a Workflow. log may be nil; logging.Global() semantics are
// mirrored via logrus.StandardLogger() as in internal/orchestrator.
func New(store graphstore.Store, log *logrus.Logger) *Workflow {
	return &Workflow{Store: store, Logger: log}
}

func (w *Workflow) logger() *logrus.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return logrus.StandardLogger()
}

// state threads data between the seven steps, mirroring SimulationState.
type state struct {
	opts Options

	diff             git.RevRangeDiff
	affectedServices []string
	scopedGraph      *causal.Graph
	manifest         Manifest
	manifestHash     string
	sandboxResult    SandboxResult
	metrics          map[string]float64
	riskScore        int
	explanation      string
	attestation      *Attestation

	failed bool
	errMsg string
}

// Run executes the seven-step workflow end to end (§4.8). Each of the
// first four steps gates on should_continue: a failure there ends the run
// immediately rather than proceeding with partial state, matching the
// conditional edges in the reference workflow.
func (w *Workflow) Run(ctx context.Context, opts Options) Result {
	log := w.logger().WithField("rev_range", opts.RevRange)
	log.Info("starting simulation workflow")

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	s := &state{opts: opts}

	steps := []struct {
		name string
		fn   func(context.Context, *state) error
		gate bool // should_continue applies after this step
	}{
		{"extract_diff", w.extractDiff, true},
		{"analyze_changes", w.analyzeChanges, true},
		{"build_causal_graph", w.buildCausalGraph, true},
		{"generate_manifest", w.generateManifest, true},
		{"run_simulation", w.runSimulation, false},
		{"generate_explanation", w.generateExplanation, false},
		{"generate_attestation", w.generateAttestation, false},
	}

	for _, step := range steps {
		if ctx.Err() != nil {
			s.failed = true
			s.errMsg = "simulation timed out"
			log.WithField("step", step.name).Warn("context expired before step ran")
			break
		}

		if err := step.fn(ctx, s); err != nil {
			s.failed = true
			if arcerrors.KindOf(err) == arcerrors.KindCancelled {
				s.errMsg = "simulation timed out"
			} else {
				s.errMsg = err.Error()
			}
			log.WithError(err).WithField("step", step.name).Warn("simulation step failed")
			break
		}

		if step.gate && s.failed {
			break
		}
	}

	if s.failed {
		return Result{Status: "failed", Error: s.errMsg, RevRange: opts.RevRange}
	}

	return Result{
		Status:           "completed",
		RevRange:         opts.RevRange,
		Attestation:      s.attestation,
		Explanation:      s.explanation,
		RiskScore:        s.riskScore,
		Metrics:          s.metrics,
		AffectedServices: s.affectedServices,
	}
}

// extractDiff is step 1: parse the rev-range into a structured diff record.
func (w *Workflow) extractDiff(ctx context.Context, s *state) error {
	diff, err := git.ExtractDiff(ctx, s.opts.RepoPath, s.opts.RevRange)
	if err != nil {
		s.failed = true
		s.errMsg = fmt.Sprintf("could not extract diff: %v", err)
		return nil
	}
	s.diff = diff
	return nil
}

// analyzeChanges is step 2: map each changed file to the services it
// belongs to, via the causal graph's path-ownership projection.
func (w *Workflow) analyzeChanges(ctx context.Context, s *state) error {
	full, err := causal.Derive(ctx, w.Store)
	if err != nil {
		return err
	}

	paths := make([]string, 0, len(s.diff.Files))
	for _, f := range s.diff.Files {
		paths = append(paths, f.Path)
	}

	scoped := causal.Scoped(full, paths)
	services := causal.AffectedServices(scoped)
	if len(services) == 0 {
		s.failed = true
		s.errMsg = "no services affected by this change set"
		return nil
	}

	s.affectedServices = services
	s.scopedGraph = scoped
	return nil
}

// buildCausalGraph is step 3: the diff-scoped sub-graph was already
// derived as a side effect of analyze_changes; this step exists as its own
// gated stage to mirror the reference workflow's node boundary, in case a
// future revision wants independent retry/caching at this seam.
func (w *Workflow) buildCausalGraph(ctx context.Context, s *state) error {
	if s.scopedGraph == nil {
		s.failed = true
		s.errMsg = "causal graph was not built"
	}
	return nil
}

// generateManifest is step 4: build and hash the fault-injection manifest.
func (w *Workflow) generateManifest(ctx context.Context, s *state) error {
	files := make([]string, 0, len(s.diff.Files))
	for _, f := range s.diff.Files {
		files = append(files, f.Path)
	}

	manifest, hash, err := GenerateManifest(s.opts.Scenario, s.opts.Severity, files, s.affectedServices, s.scopedGraph)
	if err != nil {
		s.failed = true
		s.errMsg = err.Error()
		return nil
	}
	s.manifest = manifest
	s.manifestHash = hash
	return nil
}

// runSimulation is step 5: execute the manifest's scenario in the sandbox
// and derive a risk score. Only a cancellation error from the sandbox fails
// the workflow; any other sandbox failure falls back to the severity-only
// formula, matching the reference
// implementation's except-and-continue behaviour.
func (w *Workflow) runSimulation(ctx context.Context, s *state) error {
	sandbox := NewSandbox(ctx, s.opts.Backend)
	defer sandbox.Close()

	result, err := sandbox.Run(ctx, s.manifest)
	if err != nil {
		return err
	}

	s.sandboxResult = result
	s.metrics = result.Metrics
	s.riskScore = RiskScore(s.opts.Severity, result)
	return nil
}

// generateExplanation is step 6: a templated summary of the run. The
// reference implementation's primary path calls out to an LLM
// (ChatOpenAI via get_llm()) and only falls back to a templated string
// when no API key is configured; here the templated form is the only
// path, consistent with §4.8's framing of LLM explanation as optional and
// externally delegated.
func (w *Workflow) generateExplanation(ctx context.Context, s *state) error {
	s.explanation = Explain(s)
	return nil
}

// Explain renders the templated explanation (§4.8 step 6).
func Explain(s *state) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Simulation for %d service(s) based on %d changed file(s) under the %q scenario (severity %d). ",
		len(s.affectedServices), len(s.diff.Files), s.opts.Scenario, s.opts.Severity)
	fmt.Fprintf(&b, "Risk score: %d out of 100.", s.riskScore)
	if len(s.affectedServices) > 0 {
		b.WriteString(" Affected services: ")
		b.WriteString(strings.Join(s.affectedServices, ", "))
		b.WriteString(".")
	}
	if s.sandboxResult.Mock {
		b.WriteString(" (sandbox backend unavailable; metrics synthesized from severity)")
	}
	return b.String()
}

// generateAttestation is step 7: assemble and persist the attestation,
// both to disk (append-only .attest/<sim_id>.json) and to the graph
// (simulation/metric nodes, SIMULATES/MEASURES/AFFECTS/PREDICTS edges).
func (w *Workflow) generateAttestation(ctx context.Context, s *state) error {
	diffHash, err := canonicalHash(s.diff)
	if err != nil {
		return err
	}

	simID := simulationID(s.opts.RevRange)
	attestation := &Attestation{
		SimID:        simID,
		ManifestHash: s.manifestHash,
		CommitTarget: s.diff.EndCommit,
		Metrics:      s.metrics,
		Timestamp:    s.diff.Timestamp,
		DiffHash:     diffHash,
		RiskScore:    s.riskScore,
		Explanation:  s.explanation,
	}

	if s.opts.AttestDir != "" {
		if err := writeAttestation(s.opts.AttestDir, simID, attestation); err != nil {
			return err
		}
	}

	if w.Store != nil {
		if err := w.persist(ctx, simID, s, attestation); err != nil {
			w.logger().WithError(err).Warn("could not persist simulation to graph store")
		}
	}

	s.attestation = attestation
	return nil
}

func simulationID(revRange string) string {
	clean := strings.NewReplacer("..", "_", "/", "_").Replace(revRange)
	return fmt.Sprintf("sim_%s", clean)
}

// writeAttestation writes attestation to <attestDir>/<simID>.json. Each
// simulation ID writes exactly once; an existing file for the same ID is
// left untouched rather than overwritten, so the attestation trail is
// append-only across repeated runs of a fixed rev-range.
func writeAttestation(attestDir, simID string, attestation *Attestation) error {
	if err := os.MkdirAll(attestDir, 0o755); err != nil {
		return arcerrors.Wrap(err, arcerrors.KindDatabase, "simulate", "attest_dir", "could not create attestation directory")
	}

	path := filepath.Join(attestDir, simID+".json")
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	payload, err := json.MarshalIndent(attestation, "", "  ")
	if err != nil {
		return arcerrors.Wrap(err, arcerrors.KindParse, "simulate", "marshal_attestation", "could not encode attestation")
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return arcerrors.Wrap(err, arcerrors.KindDatabase, "simulate", "write_attestation", "could not write attestation file")
	}
	return nil
}

// persist writes the simulation's graph footprint: a simulation node, a
// metric node per observed metric, SIMULATES/AFFECTS edges to each affected
// service and MEASURES/PREDICTS edges to each metric node. Affected files
// get no edge; they are recorded only in the node's affected_files field.
func (w *Workflow) persist(ctx context.Context, simID string, s *state, attestation *Attestation) error {
	simNodeID := schema.SimulationID(simID)
	ts := attestation.Timestamp

	nodes := []schema.Node{{
		ID:     simNodeID,
		Type:   schema.NodeSimulation,
		Title:  fmt.Sprintf("Simulation %s (%s)", simID, s.opts.Scenario),
		TS:     &ts,
		RepoID: s.opts.RepoID,
		Extra: map[string]any{
			"scenario":       s.opts.Scenario,
			"severity":       s.opts.Severity,
			"risk_score":     s.riskScore,
			"manifest_hash":  s.manifestHash,
			"affected_files": s.manifest.AffectedFiles,
		},
	}}
	var edges []schema.Edge

	for _, svc := range s.affectedServices {
		edges = append(edges, schema.Edge{Src: simNodeID, Dst: svc, Rel: schema.RelSimulates})
		edges = append(edges, schema.Edge{Src: simNodeID, Dst: svc, Rel: schema.RelAffects})
	}

	for name, value := range s.metrics {
		metricNodeID := schema.MetricID(simID, name)
		nodes = append(nodes, schema.Node{
			ID:     metricNodeID,
			Type:   schema.NodeMetric,
			Title:  name,
			TS:     &ts,
			RepoID: s.opts.RepoID,
			Extra:  map[string]any{"value": value, "name": name},
		})
		edges = append(edges, schema.Edge{Src: simNodeID, Dst: metricNodeID, Rel: schema.RelMeasures})
		edges = append(edges, schema.Edge{Src: simNodeID, Dst: metricNodeID, Rel: schema.RelPredicts})
	}

	return w.Store.AddNodesAndEdges(ctx, nodes, edges)
}
