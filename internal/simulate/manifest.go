package simulate

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/arc-computer/arc-memory/internal/causal"
	arcerrors "github.com/arc-computer/arc-memory/internal/errors"
)

// Scenario describes one entry of the closed fault-scenario enumeration
// (§6.6). Grounded on original_source/arc_memory/simulate/manifest.py's
// list_available_scenarios.
type Scenario struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Scenarios is the closed set generate_manifest validates against.
var Scenarios = []Scenario{
	{ID: "network_latency", Name: "Network Latency", Description: "Introduces latency in network communication between services"},
	{ID: "network_loss", Name: "Network Packet Loss", Description: "Simulates packet loss in network communication"},
	{ID: "cpu_stress", Name: "CPU Stress", Description: "Introduces CPU stress on target services"},
	{ID: "memory_stress", Name: "Memory Stress", Description: "Introduces memory pressure on target services"},
	{ID: "disk_stress", Name: "Disk I/O Stress", Description: "Introduces disk I/O pressure on target services"},
	{ID: "pod_failure", Name: "Pod Failure", Description: "Simulates pod failures for target services"},
}

func validScenario(id string) bool {
	for _, s := range Scenarios {
		if s.ID == id {
			return true
		}
	}
	return false
}

// Manifest is the fault-injection plan of §4.8 step 4.
type Manifest struct {
	Scenario         string        `json:"scenario"`
	Severity         int           `json:"severity"`
	AffectedServices []string      `json:"affected_services"`
	AffectedFiles    []string      `json:"affected_files"`
	CausalGraph      *causal.Graph `json:"causal_graph"`
}

// ManifestHash is the hex digest of the manifest's canonical JSON
// encoding. encoding/json already serializes struct fields in declaration
// order and map keys in sorted order, which is sufficient canonicalization
// for a stable, reproducible digest without a dedicated canonical-JSON
// library.
func ManifestHash(m Manifest) (string, error) {
	return canonicalHash(m)
}

func canonicalHash(v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", arcerrors.Wrap(err, arcerrors.KindParse, "simulate", "canonical_hash", "could not encode value")
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// GenerateManifest builds and hashes a Manifest (§4.8 step 4), rejecting
// any scenario outside the closed enumeration.
func GenerateManifest(scenario string, severity int, affectedFiles, affectedServices []string, scoped *causal.Graph) (Manifest, string, error) {
	if !validScenario(scenario) {
		return Manifest{}, "", arcerrors.New(arcerrors.KindParse, "simulate", "generate_manifest", fmt.Sprintf("invalid scenario %q", scenario))
	}

	manifest := Manifest{
		Scenario:         scenario,
		Severity:         severity,
		AffectedServices: affectedServices,
		AffectedFiles:    affectedFiles,
		CausalGraph:      scoped,
	}

	hash, err := ManifestHash(manifest)
	if err != nil {
		return Manifest{}, "", err
	}
	return manifest, hash, nil
}
