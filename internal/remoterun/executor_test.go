package remoterun

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/digitalocean/go-libvirt"
)

// mockAgentClient scripts guest agent responses in order. Each entry is
// either a response body or an error.
type mockAgentClient struct {
	responses []agentResponse
	commands  []string
}

type agentResponse struct {
	body string
	err  error
}

func (m *mockAgentClient) QEMUDomainAgentCommand(dom libvirt.Domain, cmd string, timeout int32, flags uint32) (libvirt.OptString, error) {
	m.commands = append(m.commands, cmd)
	if len(m.responses) == 0 {
		return nil, errors.New("no scripted response")
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	if resp.err != nil {
		return nil, resp.err
	}
	return libvirt.OptString{resp.body}, nil
}

func execResponse(pid int) agentResponse {
	return agentResponse{body: fmt.Sprintf(`{"return":{"pid":%d}}`, pid)}
}

func statusRunning() agentResponse {
	return agentResponse{body: `{"return":{"exited":false}}`}
}

func statusExited(code int, stdout, stderr string) agentResponse {
	return agentResponse{body: fmt.Sprintf(`{"return":{"exited":true,"exitcode":%d,"out-data":%q,"err-data":%q}}`,
		code,
		base64.StdEncoding.EncodeToString([]byte(stdout)),
		base64.StdEncoding.EncodeToString([]byte(stderr)))}
}

func newTestExecutor(client AgentClient) *Executor {
	e := NewExecutor(client, 10*time.Millisecond, time.Second)
	e.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return e
}

func TestExecute_Success(t *testing.T) {
	mock := &mockAgentClient{responses: []agentResponse{
		execResponse(1234),
		statusRunning(),
		statusExited(0, "customized\n", ""),
	}}
	e := newTestExecutor(mock)
	dom := libvirt.Domain{Name: "wli-build-vm-job5-20260826093015"}

	result, err := e.Execute(context.Background(), dom, "apt-get update")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", result.ExitCode)
	}
	if result.Stdout != "customized\n" {
		t.Errorf("Stdout = %q", result.Stdout)
	}

	// First command must be a guest-exec carrying the script under /bin/sh -c.
	var req struct {
		Execute   string        `json:"execute"`
		Arguments guestExecArgs `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(mock.commands[0]), &req); err != nil {
		t.Fatalf("first command is not valid JSON: %v", err)
	}
	if req.Execute != "guest-exec" {
		t.Errorf("first command = %q, want guest-exec", req.Execute)
	}
	if req.Arguments.Path != "/bin/sh" || len(req.Arguments.Arg) != 2 || req.Arguments.Arg[1] != "apt-get update" {
		t.Errorf("guest-exec arguments = %+v", req.Arguments)
	}
	if !req.Arguments.CaptureOutput {
		t.Error("capture-output must be set")
	}
}

func TestExecute_NonzeroExit(t *testing.T) {
	mock := &mockAgentClient{responses: []agentResponse{
		execResponse(1234),
		statusExited(3, "", "No space left on device"),
	}}
	e := newTestExecutor(mock)
	dom := libvirt.Domain{Name: "wli-build-vm-job5-20260826093015"}

	result, err := e.Execute(context.Background(), dom, "exit 3")
	if err == nil {
		t.Fatal("Execute() expected error for nonzero exit")
	}

	var execErr *Error
	if !errors.As(err, &execErr) {
		t.Fatalf("Execute() error = %T, want *Error", err)
	}
	if execErr.VMName != dom.Name {
		t.Errorf("VMName = %q", execErr.VMName)
	}
	if !strings.Contains(err.Error(), "exited with code 3") {
		t.Errorf("error message = %q", err)
	}

	// Result is still returned so callers can log the captured output.
	if result == nil || result.ExitCode != 3 || result.Stderr != "No space left on device" {
		t.Errorf("result = %+v", result)
	}
}

func TestExecute_AgentError(t *testing.T) {
	mock := &mockAgentClient{responses: []agentResponse{
		{err: errors.New("Guest agent is not responding")},
	}}
	e := newTestExecutor(mock)
	dom := libvirt.Domain{Name: "wli-build-vm-job5-20260826093015"}

	_, err := e.Execute(context.Background(), dom, "true")
	if err == nil {
		t.Fatal("Execute() expected error when agent command fails")
	}
	var execErr *Error
	if !errors.As(err, &execErr) || execErr.Step != "guest-exec" {
		t.Errorf("error = %v, want guest-exec step failure", err)
	}
}

func TestExecute_Timeout(t *testing.T) {
	// The command never exits; the scripted mock keeps answering "running".
	mock := &mockAgentClient{responses: []agentResponse{
		execResponse(1234),
		statusRunning(),
		statusRunning(),
		statusRunning(),
	}}
	e := NewExecutor(mock, 10*time.Millisecond, 0) // deadline already passed
	e.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	dom := libvirt.Domain{Name: "wli-build-vm-job5-20260826093015"}

	_, err := e.Execute(context.Background(), dom, "sleep infinity")
	if err == nil {
		t.Fatal("Execute() expected timeout error")
	}
	if !strings.Contains(err.Error(), "did not finish within") {
		t.Errorf("error = %q", err)
	}
}

func TestExecute_ContextCancelled(t *testing.T) {
	mock := &mockAgentClient{responses: []agentResponse{
		execResponse(1234),
		statusRunning(),
	}}
	e := NewExecutor(mock, 10*time.Millisecond, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Execute(ctx, libvirt.Domain{Name: "vm"}, "true")
	if err == nil {
		t.Fatal("Execute() expected error for cancelled context")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestWaitReady_EventualSuccess(t *testing.T) {
	mock := &mockAgentClient{responses: []agentResponse{
		{err: errors.New("Guest agent is not responding")},
		{err: errors.New("Guest agent is not responding")},
		{body: `{"return":{}}`},
	}}
	e := newTestExecutor(mock)

	if err := e.WaitReady(context.Background(), libvirt.Domain{Name: "vm"}, time.Second); err != nil {
		t.Fatalf("WaitReady() error = %v", err)
	}
	if len(mock.commands) != 3 {
		t.Errorf("agent pinged %d times, want 3", len(mock.commands))
	}
}

func TestWaitReady_Timeout(t *testing.T) {
	mock := &mockAgentClient{} // every ping fails
	e := newTestExecutor(mock)

	err := e.WaitReady(context.Background(), libvirt.Domain{Name: "vm"}, 0)
	if err == nil {
		t.Fatal("WaitReady() expected timeout error")
	}
	if !strings.Contains(err.Error(), "agent not ready") {
		t.Errorf("error = %q", err)
	}
}
