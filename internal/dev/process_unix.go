//go:build !windows

package dev

import (
	"io"
	"os/exec"
	"syscall"
	"time"
)

type processHandle struct {
	cmd  *exec.Cmd
	done chan struct{}
}

func startProcess(name string, args []string, dir string, env []string, stdout, stderr io.Writer) (*processHandle, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	proc := &processHandle{cmd: cmd, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(proc.done)
	}()
	return proc, nil
}

func (p *processHandle) pid() int {
	return p.cmd.Process.Pid
}

func (p *processHandle) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// stopProcess sends SIGTERM to the process group and SIGKILL after timeout.
func stopProcess(proc *processHandle, timeout time.Duration) {
	if proc == nil || proc.exited() {
		return
	}

	pgid, err := syscall.Getpgid(proc.cmd.Process.Pid)
	if err == nil {
		_ = syscall.Kill(-pgid, syscall.SIGTERM)
	} else {
		_ = proc.cmd.Process.Signal(syscall.SIGTERM)
	}

	select {
	case <-proc.done:
		return
	case <-time.After(timeout):
		if pgid > 0 {
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
		} else {
			_ = proc.cmd.Process.Kill()
		}
		<-proc.done
	}
}
