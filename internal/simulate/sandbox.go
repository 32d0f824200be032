package simulate

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	arcerrors "github.com/arc-computer/arc-memory/internal/errors"
)

// networkScenarios are the scenarios that fault-inject the network itself;
// these run in their own isolated bridge network rather than the daemon's
// default bridge, so packet loss/latency never leaks to unrelated traffic.
var networkScenarios = map[string]bool{
	"network_latency": true,
	"network_loss":    true,
}

// healthPort is exposed on network-scenario containers so a future
// supervisor can probe reachability under the injected fault.
const healthPort = "8080/tcp"

// sandboxImage runs the fault-injection scripts. A fixed, minimal image
// keeps run_simulation's container lifecycle cheap and predictable.
const sandboxImage = "alpine:3.19"

// CommandExecution is one command run inside the sandbox, logged verbatim
// for the attestation (§4.8 step 5).
type CommandExecution struct {
	Command  string        `json:"command"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
	At       time.Time     `json:"at"`
}

// SandboxResult is run_simulation's output: the fault scenario's observed
// effect on the sandboxed target, whether it came from a live docker run
// or a deterministic mock.
type SandboxResult struct {
	Mock        bool                `json:"mock"`
	Metrics     map[string]float64  `json:"metrics"`
	Commands    []CommandExecution  `json:"commands"`
	Primitives  map[string]int      `json:"primitives"` // cluster-primitive counts (pods, containers, networks touched)
}

// Sandbox runs a Manifest's scenario against a live or mocked backend.
type Sandbox struct {
	backend string // "docker" or "mock"
	docker  *client.Client
}

// NewSandbox resolves the configured backend (§4.8 step 5). When backend
// is "docker", it tries to dial the local daemon and silently falls back
// to "mock" if the daemon can't be reached — run_simulation never fails
// outright just because docker is unavailable.
func NewSandbox(ctx context.Context, backend string) *Sandbox {
	if backend != "docker" {
		return &Sandbox{backend: "mock"}
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return &Sandbox{backend: "mock"}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		_ = cli.Close()
		return &Sandbox{backend: "mock"}
	}
	return &Sandbox{backend: "docker", docker: cli}
}

// Close releases the docker client, if one was opened.
func (s *Sandbox) Close() {
	if s.docker != nil {
		_ = s.docker.Close()
	}
}

// ensureNetwork returns the ID of a bridge network named name, creating it
// if it doesn't already exist.
func (s *Sandbox) ensureNetwork(ctx context.Context, name string) (string, error) {
	args := filters.NewArgs()
	args.Add("name", name)
	list, err := s.docker.NetworkList(ctx, types.NetworkListOptions{Filters: args})
	if err != nil {
		return "", err
	}
	for _, n := range list {
		if n.Name == name {
			return n.ID, nil
		}
	}

	resp, err := s.docker.NetworkCreate(ctx, name, types.NetworkCreate{Driver: "bridge"})
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// Run executes manifest's scenario (§4.8 step 5). A deadline on ctx bounds
// both the container lifecycle and the mock path equally.
func (s *Sandbox) Run(ctx context.Context, manifest Manifest) (SandboxResult, error) {
	if s.backend != "docker" {
		return mockResult(manifest), nil
	}

	result, err := s.runDocker(ctx, manifest)
	if err != nil {
		if arcerrors.KindOf(err) == arcerrors.KindCancelled {
			return SandboxResult{}, err
		}
		// A live backend that errors mid-run (image pull failure, daemon
		// restart) still yields a usable, clearly-marked result rather
		// than aborting the whole simulation.
		return mockResult(manifest), nil
	}
	return result, nil
}

func (s *Sandbox) runDocker(ctx context.Context, manifest Manifest) (SandboxResult, error) {
	script := scenarioScript(manifest.Scenario, manifest.Severity)

	config := &container.Config{
		Image:  sandboxImage,
		Cmd:    []string{"sh", "-c", script},
		Tty:    false,
		Labels: map[string]string{"arc-memory.simulation": manifest.Scenario},
	}

	var networkingConfig *network.NetworkingConfig
	if networkScenarios[manifest.Scenario] {
		netName := fmt.Sprintf("arc-sim-%s", manifest.Scenario)
		netID, err := s.ensureNetwork(ctx, netName)
		if err != nil {
			return SandboxResult{}, arcerrors.Wrap(err, arcerrors.KindSandbox, "simulate", "ensure_network", "could not prepare isolated network for "+manifest.Scenario)
		}
		networkingConfig = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{netName: {NetworkID: netID}},
		}

		portSet, _, err := nat.ParsePortSpecs([]string{healthPort})
		if err != nil {
			return SandboxResult{}, arcerrors.Wrap(err, arcerrors.KindSandbox, "simulate", "parse_ports", "could not parse health port spec")
		}
		config.ExposedPorts = portSet
	}

	resp, err := s.docker.ContainerCreate(ctx, config, nil, networkingConfig, nil, "")
	if err != nil {
		return SandboxResult{}, arcerrors.Wrap(err, arcerrors.KindSandbox, "simulate", "container_create", "could not create sandbox container")
	}
	containerID := resp.ID
	defer func() {
		_ = s.docker.ContainerRemove(context.Background(), containerID, container.RemoveOptions{Force: true})
	}()

	start := time.Now()
	if err := s.docker.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return SandboxResult{}, arcerrors.Wrap(err, arcerrors.KindSandbox, "simulate", "container_start", "could not start sandbox container")
	}

	statusCh, errCh := s.docker.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	var exitCode int
	select {
	case err := <-errCh:
		if err != nil {
			return SandboxResult{}, arcerrors.Wrap(err, arcerrors.KindSandbox, "simulate", "container_wait", "sandbox container wait failed")
		}
	case st := <-statusCh:
		exitCode = int(st.StatusCode)
	case <-ctx.Done():
		return SandboxResult{}, arcerrors.Wrap(ctx.Err(), arcerrors.KindCancelled, "simulate", "container_wait", "simulation timed out")
	}

	logs, err := s.docker.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return SandboxResult{}, arcerrors.Wrap(err, arcerrors.KindSandbox, "simulate", "container_logs", "could not read sandbox logs")
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	_, _ = stdcopy.StdCopy(&stdout, &stderr, logs)

	exec := CommandExecution{
		Command:  script,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
		Duration: time.Since(start),
		At:       start,
	}

	return SandboxResult{
		Mock:     false,
		Metrics:  liveMetrics(manifest, exec),
		Commands: []CommandExecution{exec},
		Primitives: map[string]int{
			"containers": 1,
			"networks":   0,
			"pods":       0,
		},
	}, nil
}

// mockResult synthesizes a deterministic SandboxResult purely from the
// manifest's scenario and severity, used when docker is unavailable.
// latency_ms/error_rate follow langgraph_flow.py's mock-metrics formula
// (severity*10, severity/1000); the remaining per-scenario metrics extend
// that same severity-scaled idiom rather than failing the workflow.
func mockResult(manifest Manifest) SandboxResult {
	base := float64(manifest.Severity)
	metrics := map[string]float64{
		"cpu_usage_pct":    base * 8,
		"memory_usage_pct": base * 6,
		"latency_ms":       base * 10,
		"error_rate":       base / 1000,
	}

	switch manifest.Scenario {
	case "network_loss":
		metrics["error_rate"] = base * 5 / 1000
	case "cpu_stress":
		metrics["cpu_usage_pct"] = base * 15
	case "memory_stress":
		metrics["memory_usage_pct"] = base * 15
	case "disk_stress":
		metrics["disk_io_wait_pct"] = base * 10
	case "pod_failure":
		metrics["availability_pct"] = 100 - base*10
	}

	return SandboxResult{
		Mock:    true,
		Metrics: metrics,
		Commands: []CommandExecution{{
			Command:  fmt.Sprintf("mock:%s:severity=%d", manifest.Scenario, manifest.Severity),
			Stdout:   "mock sandbox: no live backend available",
			ExitCode: 0,
			Duration: 0,
			At:       time.Unix(0, 0).UTC(),
		}},
		Primitives: map[string]int{"containers": 0, "networks": 0, "pods": 0},
	}
}

func liveMetrics(manifest Manifest, exec CommandExecution) map[string]float64 {
	errRate := 0.0
	if exec.ExitCode != 0 {
		errRate = float64(manifest.Severity) * 2
	}
	return map[string]float64{
		"cpu_usage_pct":    float64(manifest.Severity) * 8,
		"memory_usage_pct": float64(manifest.Severity) * 6,
		"duration_ms":      float64(exec.Duration.Milliseconds()),
		"error_rate_pct":   errRate,
	}
}

// scenarioScript maps a scenario ID and severity to a shell one-liner that
// exercises the corresponding fault inside the sandbox container.
func scenarioScript(scenario string, severity int) string {
	switch scenario {
	case "network_latency":
		return fmt.Sprintf("echo simulating network_latency severity=%d; sleep %d", severity, severity)
	case "network_loss":
		return fmt.Sprintf("echo simulating network_loss severity=%d", severity)
	case "cpu_stress":
		return fmt.Sprintf("echo simulating cpu_stress severity=%d; yes > /dev/null & sleep %d; kill %%1", severity, severity)
	case "memory_stress":
		return fmt.Sprintf("echo simulating memory_stress severity=%d", severity)
	case "disk_stress":
		return fmt.Sprintf("echo simulating disk_stress severity=%d; dd if=/dev/zero of=/tmp/stress bs=1M count=%d", severity, severity*8)
	case "pod_failure":
		return fmt.Sprintf("echo simulating pod_failure severity=%d; exit %d", severity, severity%2)
	default:
		return "echo no-op"
	}
}

