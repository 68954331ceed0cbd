package compute

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/opensandbox/poolmgr/pkg/types"
)

// slurmStatusTable maps squeue compact state codes to canonical statuses.
var slurmStatusTable = map[string]types.Status{
	"PD": types.StatusPending,
	"R":  types.StatusRunning,
	"CA": types.StatusCancelled,
	"CF": types.StatusPending, // configuring
	"CG": types.StatusRunning, // completing
	"CD": types.StatusCompleted,
	"F":  types.StatusFailed,
	"TO": types.StatusTimeout,
	"NF": types.StatusFailed, // node failure
	"RV": types.StatusFailed, // revoked
	"SE": types.StatusFailed, // special exit state
}

// commandRunner runs a command and reports its exit code and output. err is
// only set when the command could not be run at all.
type commandRunner func(ctx context.Context, name string, args ...string) (SubmitResult, error)

// SlurmConfig configures the Slurm driver.
type SlurmConfig struct {
	CommandTimeout time.Duration // per sbatch/squeue/scancel invocation, default 10s
}

// SlurmDriver implements BatchDriver by shelling out to the Slurm CLI.
type SlurmDriver struct {
	run     commandRunner
	timeout time.Duration
}

// NewSlurmDriver creates a Slurm driver that invokes sbatch, squeue and scancel from PATH.
func NewSlurmDriver(cfg SlurmConfig) *SlurmDriver {
	return newSlurmDriver(execRunner, cfg)
}

func newSlurmDriver(run commandRunner, cfg SlurmConfig) *SlurmDriver {
	timeout := cfg.CommandTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SlurmDriver{run: run, timeout: timeout}
}

func (d *SlurmDriver) Name() string { return "slurm" }

func (d *SlurmDriver) StatusTable() map[string]types.Status { return slurmStatusTable }

func (d *SlurmDriver) SubmitJob(ctx context.Context, scriptPath string) (SubmitResult, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	res, err := d.run(ctx, "sbatch", scriptPath)
	if err != nil {
		return res, fmt.Errorf("slurm: sbatch failed: %w", err)
	}
	return res, nil
}

func (d *SlurmDriver) TerminateUnits(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	res, err := d.run(ctx, "scancel", ids...)
	if err != nil {
		return fmt.Errorf("slurm: scancel failed: %w", err)
	}
	if res.ExitCode != 0 && !onlyFinishedJobs(res.Stderr) {
		return fmt.Errorf("slurm: scancel exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// onlyFinishedJobs reports whether every scancel complaint is about a job
// that has already left the queue. scancel still cancels the other ids.
func onlyFinishedJobs(stderr string) bool {
	complaints := 0
	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		complaints++
		if !strings.Contains(line, "Invalid job id") && !strings.Contains(line, "already completing or completed") {
			return false
		}
	}
	return complaints > 0
}

// DescribeUnits runs squeue for the given job ids. squeue only lists jobs
// still in the queue, and rejects the whole query with "Invalid job id" once
// every listed job has left it; that case is an empty report, not an error.
func (d *SlurmDriver) DescribeUnits(ctx context.Context, ids []string) (map[string]string, error) {
	states := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return states, nil
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	res, err := d.run(ctx, "squeue", "--noheader", "--format=%i %t", "--job", strings.Join(ids, ","))
	if err != nil {
		return nil, fmt.Errorf("slurm: squeue failed: %w", err)
	}
	if res.ExitCode != 0 {
		if strings.Contains(res.Stderr, "Invalid job id") {
			return states, nil
		}
		return nil, fmt.Errorf("slurm: squeue exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	return parseSqueue(res.Stdout), nil
}

func parseSqueue(out string) map[string]string {
	states := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] == "JOBID" {
			continue
		}
		states[fields[0]] = fields[1]
	}
	return states
}

// ParseSubmitted extracts the job id from sbatch output ("Submitted batch job 123").
func ParseSubmitted(stdout string) (string, bool) {
	const marker = "Submitted batch job"
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, marker) {
			continue
		}
		id := strings.TrimSpace(strings.TrimPrefix(line, marker))
		if id != "" {
			return id, true
		}
	}
	return "", false
}

func execRunner(ctx context.Context, name string, args ...string) (SubmitResult, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := SubmitResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, err
	}
	return res, nil
}
