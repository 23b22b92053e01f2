// Package remote runs commands on cluster head nodes over ssh and reports
// their outcome as data. A nonzero exit or a timeout is a Result, never an
// error: the only error paths are programming mistakes.
package remote

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// ExecCommandFunc abstracts exec.CommandContext so tests can substitute a
// fake process.
type ExecCommandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// Result is the outcome of one remote command.
type Result struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	OK       bool   `json:"ok"`
}

// Runner executes a shell command on a cluster and returns its outcome.
type Runner interface {
	Run(ctx context.Context, command string) Result
}

// Client runs commands on one cluster's head node as "ssh user@head '<cmd>'".
type Client struct {
	user        string
	headNode    string
	timeout     time.Duration
	execCommand ExecCommandFunc
	logger      *slog.Logger
}

func New(user, headNode string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		user:        user,
		headNode:    headNode,
		timeout:     timeout,
		execCommand: exec.CommandContext,
		logger:      logger,
	}
}

// SetExecCommand replaces the process launcher; test use only.
func (c *Client) SetExecCommand(fn ExecCommandFunc) *Client {
	c.execCommand = fn
	return c
}

// Run executes command on the head node, bounded by the client timeout. The
// ssh target's stdout and stderr come back in the Result; exit -1 marks a
// timeout or a launch failure.
func (c *Client) Run(ctx context.Context, command string) Result {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := c.execCommand(ctx, "ssh", c.user+"@"+c.headNode, command)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.logger.Debug("executing remote command", "host", c.headNode, "cmd", command)
	err := cmd.Run()
	res := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	switch {
	case err == nil:
		res.ExitCode = 0
		res.OK = true
	case isExitError(err):
		res.ExitCode = cmd.ProcessState.ExitCode()
	default:
		// timeout, missing binary, or the context was cancelled
		res.ExitCode = -1
		if res.Stderr == "" {
			res.Stderr = err.Error()
		}
	}
	if !res.OK {
		c.logger.Warn("remote command failed",
			"host", c.headNode, "cmd", command, "exit", res.ExitCode, "stderr", res.Stderr)
	}
	return res
}

func isExitError(err error) bool {
	var ee *exec.ExitError
	return errors.As(err, &ee)
}
