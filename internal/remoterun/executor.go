// Package remoterun executes scripts inside a build VM through the QEMU
// guest agent. No network path to the guest is required; commands travel
// over the agent's virtio channel.
package remoterun

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/digitalocean/go-libvirt"
)

// AgentClient is the interface for the guest agent operations used by the
// executor. In production it is satisfied by *libvirt.Libvirt.
type AgentClient interface {
	QEMUDomainAgentCommand(Dom libvirt.Domain, Cmd string, Timeout int32, Flags uint32) (libvirt.OptString, error)
}

// Result holds the outcome of a completed in-guest script.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Error reports a failed in-guest execution: a nonzero exit, an agent
// failure, or a command that never finished within the deadline.
type Error struct {
	VMName string
	Step   string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("remote execution failed on %s (%s): %v", e.VMName, e.Step, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// agentTimeoutBlock tells the agent command RPC to block until the agent
// responds. See VIR_DOMAIN_QEMU_AGENT_COMMAND_BLOCK.
const agentTimeoutBlock = int32(-2)

// Executor runs scripts inside guests via guest-exec.
type Executor struct {
	client AgentClient

	// PollInterval is how often guest-exec-status is polled while a command
	// runs. Timeout bounds the total run time of one script.
	PollInterval time.Duration
	Timeout      time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an executor with the given polling cadence and
// per-script deadline.
func NewExecutor(client AgentClient, pollInterval, timeout time.Duration) *Executor {
	return &Executor{
		client:       client,
		PollInterval: pollInterval,
		Timeout:      timeout,
		sleep:        sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type agentRequest struct {
	Execute   string `json:"execute"`
	Arguments any    `json:"arguments,omitempty"`
}

type guestExecArgs struct {
	Path          string   `json:"path"`
	Arg           []string `json:"arg"`
	CaptureOutput bool     `json:"capture-output"`
}

type guestExecReturn struct {
	Return struct {
		PID int `json:"pid"`
	} `json:"return"`
}

type guestExecStatusArgs struct {
	PID int `json:"pid"`
}

type guestExecStatusReturn struct {
	Return struct {
		Exited   bool   `json:"exited"`
		ExitCode int    `json:"exitcode"`
		OutData  string `json:"out-data"`
		ErrData  string `json:"err-data"`
	} `json:"return"`
}

// Execute runs a shell script inside the guest and waits for it to finish.
//
// The script is handed to /bin/sh -c with output capture enabled; stdout and
// stderr come back base64-encoded in guest-exec-status. A nonzero exit code
// is returned as an *Error alongside the decoded Result so callers can log
// the output.
func (e *Executor) Execute(ctx context.Context, dom libvirt.Domain, script string) (*Result, error) {
	pid, err := e.startExec(dom, script)
	if err != nil {
		return nil, &Error{VMName: dom.Name, Step: "guest-exec", Err: err}
	}

	deadline := time.Now().Add(e.Timeout)
	for {
		status, err := e.execStatus(dom, pid)
		if err != nil {
			return nil, &Error{VMName: dom.Name, Step: "guest-exec-status", Err: err}
		}

		if status.Return.Exited {
			result, err := decodeResult(status)
			if err != nil {
				return nil, &Error{VMName: dom.Name, Step: "decode output", Err: err}
			}
			if result.ExitCode != 0 {
				return result, &Error{
					VMName: dom.Name,
					Step:   "script",
					Err:    fmt.Errorf("exited with code %d: %s", result.ExitCode, result.Stderr),
				}
			}
			return result, nil
		}

		if time.Now().After(deadline) {
			return nil, &Error{
				VMName: dom.Name,
				Step:   "script",
				Err:    fmt.Errorf("did not finish within %s (pid %d)", e.Timeout, pid),
			}
		}

		if err := e.sleep(ctx, e.PollInterval); err != nil {
			return nil, &Error{VMName: dom.Name, Step: "script", Err: err}
		}
	}
}

// WaitReady polls guest-ping until the agent answers or maxWait elapses.
// Cloud-init brings the agent up partway through first boot, so the first
// pings after VM start are expected to fail.
func (e *Executor) WaitReady(ctx context.Context, dom libvirt.Domain, maxWait time.Duration) error {
	deadline := time.Now().Add(maxWait)
	for {
		if err := e.ping(dom); err == nil {
			return nil
		}

		if time.Now().After(deadline) {
			return &Error{
				VMName: dom.Name,
				Step:   "guest-ping",
				Err:    fmt.Errorf("agent not ready after %s", maxWait),
			}
		}

		if err := e.sleep(ctx, e.PollInterval); err != nil {
			return &Error{VMName: dom.Name, Step: "guest-ping", Err: err}
		}
	}
}

func (e *Executor) startExec(dom libvirt.Domain, script string) (int, error) {
	req := agentRequest{
		Execute: "guest-exec",
		Arguments: guestExecArgs{
			Path:          "/bin/sh",
			Arg:           []string{"-c", script},
			CaptureOutput: true,
		},
	}

	raw, err := e.command(dom, req)
	if err != nil {
		return 0, err
	}

	var resp guestExecReturn
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return 0, fmt.Errorf("unexpected guest-exec response: %w", err)
	}
	return resp.Return.PID, nil
}

func (e *Executor) execStatus(dom libvirt.Domain, pid int) (*guestExecStatusReturn, error) {
	req := agentRequest{
		Execute:   "guest-exec-status",
		Arguments: guestExecStatusArgs{PID: pid},
	}

	raw, err := e.command(dom, req)
	if err != nil {
		return nil, err
	}

	var resp guestExecStatusReturn
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("unexpected guest-exec-status response: %w", err)
	}
	return &resp, nil
}

func (e *Executor) ping(dom libvirt.Domain) error {
	_, err := e.command(dom, agentRequest{Execute: "guest-ping"})
	return err
}

func (e *Executor) command(dom libvirt.Domain, req agentRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal agent command: %w", err)
	}

	result, err := e.client.QEMUDomainAgentCommand(dom, string(payload), agentTimeoutBlock, 0)
	if err != nil {
		return "", err
	}
	if len(result) == 0 {
		return "", fmt.Errorf("empty agent response")
	}
	return result[0], nil
}

func decodeResult(status *guestExecStatusReturn) (*Result, error) {
	stdout, err := base64.StdEncoding.DecodeString(status.Return.OutData)
	if err != nil {
		return nil, fmt.Errorf("invalid stdout encoding: %w", err)
	}
	stderr, err := base64.StdEncoding.DecodeString(status.Return.ErrData)
	if err != nil {
		return nil, fmt.Errorf("invalid stderr encoding: %w", err)
	}
	return &Result{
		ExitCode: status.Return.ExitCode,
		Stdout:   string(stdout),
		Stderr:   string(stderr),
	}, nil
}
