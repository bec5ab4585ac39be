package container

import (
	"fmt"
	"strings"
)

// IsolationConfig is the sandbox posture applied to a worker container.
type IsolationConfig struct {
	NetworkMode         string   `json:"networkMode"`
	NoNewPrivileges     bool     `json:"noNewPrivileges"`
	DropAllCapabilities bool     `json:"dropAllCapabilities"`
	PidsLimit           int      `json:"pidsLimit"`
	TmpfsMounts         []string `json:"tmpfsMounts"`
	TmpfsOptions        string   `json:"tmpfsOptions"`
	ReadOnlyRoot        bool     `json:"readOnlyRoot"`
}

// DefaultIsolationConfig returns the locked-down defaults: no network,
// all capabilities dropped, bounded pids, noexec scratch space.
func DefaultIsolationConfig() IsolationConfig {
	return IsolationConfig{
		NetworkMode:         "none",
		NoNewPrivileges:     true,
		DropAllCapabilities: true,
		PidsLimit:           256,
		TmpfsMounts:         []string{"/tmp", "/var/tmp"},
		TmpfsOptions:        "rw,noexec,nosuid,size=256m",
	}
}

// IsolationReport is the result of checking one container's effective
// configuration. Produced without calling the runtime.
type IsolationReport struct {
	NetworkIsolated       bool     `json:"networkIsolated"`
	FilesystemIsolated    bool     `json:"filesystemIsolated"`
	ReadOnlySharedCorrect bool     `json:"readOnlySharedCorrect"`
	SecurityOptionsCorrect bool    `json:"securityOptionsCorrect"`
	Errors                []string `json:"errors"`
}

// PairIsolationReport is the result of checking two workers against each
// other.
type PairIsolationReport struct {
	Isolated           bool     `json:"isolated"`
	NetworkIsolated    bool     `json:"networkIsolated"`
	FilesystemIsolated bool     `json:"filesystemIsolated"`
	Errors             []string `json:"errors"`
}

// VerifyIsolation checks the container's effective configuration against the
// expected sandbox posture.
func (w *WorkerContainer) VerifyIsolation() IsolationReport {
	w.mu.Lock()
	defer w.mu.Unlock()

	report := IsolationReport{
		NetworkIsolated:       true,
		FilesystemIsolated:    true,
		ReadOnlySharedCorrect: true,
		SecurityOptionsCorrect: true,
	}

	if w.isolation.NetworkMode != "none" {
		report.NetworkIsolated = false
		report.Errors = append(report.Errors,
			fmt.Sprintf("Network mode is %q, expected \"none\"", w.isolation.NetworkMode))
	}

	// Filesystem isolation: no writable host mounts. The only permitted bind
	// is the read-only results directory.
	for _, volume := range w.volumes() {
		if !strings.HasSuffix(volume, ":ro") {
			report.FilesystemIsolated = false
			report.Errors = append(report.Errors,
				fmt.Sprintf("Writable host volume %q breaks filesystem isolation", volume))
		}
	}

	if w.opts.ResultsDir != "" {
		found := false
		for _, volume := range w.volumes() {
			if strings.HasPrefix(volume, w.opts.ResultsDir+":") && strings.HasSuffix(volume, ":ro") {
				found = true
			}
		}
		if !found {
			report.ReadOnlySharedCorrect = false
			report.Errors = append(report.Errors, "Results directory is not mounted read-only")
		}
	}

	if !w.isolation.NoNewPrivileges {
		report.SecurityOptionsCorrect = false
		report.Errors = append(report.Errors, "no-new-privileges is disabled")
	}
	if !w.isolation.DropAllCapabilities {
		report.SecurityOptionsCorrect = false
		report.Errors = append(report.Errors, "Capabilities are not dropped")
	}
	if w.isolation.PidsLimit <= 0 {
		report.SecurityOptionsCorrect = false
		report.Errors = append(report.Errors, "pids-limit is unbounded")
	}

	return report
}

// VerifyContainerIsolation checks that two worker containers are isolated
// from each other. Two containers sharing a worker ID are never isolated.
func VerifyContainerIsolation(a, b *WorkerContainer) PairIsolationReport {
	report := PairIsolationReport{
		Isolated:           true,
		NetworkIsolated:    true,
		FilesystemIsolated: true,
	}

	if a.WorkerID() == b.WorkerID() {
		report.Isolated = false
		report.Errors = append(report.Errors,
			fmt.Sprintf("Both containers belong to worker %q", a.WorkerID()))
	}

	for _, w := range []*WorkerContainer{a, b} {
		r := w.VerifyIsolation()
		if !r.NetworkIsolated {
			report.NetworkIsolated = false
		}
		if !r.FilesystemIsolated {
			report.FilesystemIsolated = false
		}
		report.Errors = append(report.Errors, r.Errors...)
	}

	if !report.NetworkIsolated || !report.FilesystemIsolated {
		report.Isolated = false
	}
	return report
}
