package process

import (
	"os"
	"os/exec"
)

// Task wraps a running external process as an awaitable unit, so that the
// parity pipeline's parallel and sequential modes can be expressed over the
// same primitive.
type Task struct {
	cmd  *exec.Cmd
	done chan error
}

// Start launches cmd and returns a Task tracking it.
func Start(cmd *exec.Cmd) (*Task, error) {
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	t := &Task{cmd: cmd, done: make(chan error, 1)}
	go func() {
		t.done <- t.cmd.Wait()
	}()
	return t, nil
}

// Poll reports whether the task has finished without blocking. If it has,
// done is true and err is the result of Wait.
func (t *Task) Poll() (done bool, err error) {
	select {
	case err = <-t.done:
		// Put the result back so a subsequent Wait observes it too.
		t.done <- err
		return true, err
	default:
		return false, nil
	}
}

// Wait blocks until the task finishes and returns its result.
func (t *Task) Wait() error {
	err := <-t.done
	t.done <- err
	return err
}

// Terminate sends a graceful termination signal to the task's process.
func (t *Task) Terminate() error {
	return t.cmd.Process.Signal(os.Interrupt)
}

// Kill forcibly kills the task's process.
func (t *Task) Kill() error {
	return t.cmd.Process.Kill()
}

// Pid returns the underlying process ID.
func (t *Task) Pid() int {
	return t.cmd.Process.Pid
}
