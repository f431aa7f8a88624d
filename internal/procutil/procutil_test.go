package procutil_test

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"drover/internal/procutil"
)

func TestAliveReportsCurrentProcess(t *testing.T) {
	var probe procutil.OS
	if !probe.Alive(os.Getpid()) {
		t.Fatal("expected current process to be alive")
	}
	if probe.Alive(0) || probe.Alive(-1) {
		t.Fatal("expected non-positive pids to be dead")
	}
}

func TestAliveReportsExitedChild(t *testing.T) {
	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Skipf("true unavailable: %v", err)
	}
	var probe procutil.OS
	if probe.Alive(cmd.Process.Pid) {
		t.Fatalf("expected reaped child %d to be dead", cmd.Process.Pid)
	}
}

func TestTerminateStopsChild(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Skipf("sleep unavailable: %v", err)
	}
	var probe procutil.OS
	if err := probe.Terminate(cmd.Process.Pid); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}
	if err := cmd.Wait(); err == nil {
		t.Fatal("expected terminated child to report an error")
	}
}

func TestPIDFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drover.pid")

	if _, err := procutil.ReadPIDFile(path); !errors.Is(err, procutil.ErrNoPIDFile) {
		t.Fatalf("expected ErrNoPIDFile, got %v", err)
	}
	if err := procutil.WritePIDFile(path, 4242); err != nil {
		t.Fatalf("WritePIDFile failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read pidfile: %v", err)
	}
	if string(data) != "4242\n" {
		t.Fatalf("unexpected pidfile content %q", data)
	}
	pid, err := procutil.ReadPIDFile(path)
	if err != nil || pid != 4242 {
		t.Fatalf("ReadPIDFile = %d, %v", pid, err)
	}
	if err := procutil.RemovePIDFile(path); err != nil {
		t.Fatalf("RemovePIDFile failed: %v", err)
	}
	if err := procutil.RemovePIDFile(path); err != nil {
		t.Fatalf("RemovePIDFile should ignore missing file: %v", err)
	}
}

func TestReadPIDFileRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drover.pid")
	if err := os.WriteFile(path, []byte("not-a-pid\n"), 0o644); err != nil {
		t.Fatalf("write pidfile: %v", err)
	}
	if _, err := procutil.ReadPIDFile(path); !errors.Is(err, procutil.ErrNoPIDFile) {
		t.Fatalf("expected ErrNoPIDFile for garbage, got %v", err)
	}
}

func TestLoadAverageNonNegative(t *testing.T) {
	load, err := procutil.LoadAverage()
	if err != nil {
		t.Skipf("load average unavailable: %v", err)
	}
	if load < 0 {
		t.Fatalf("unexpected negative load %f", load)
	}
}
