package main

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
)

// Command wraps an external tool invocation with combined stdout/stderr
// capture, so failures can surface the tool's own diagnostics.
type Command struct {
	cmd    *exec.Cmd
	name   string
	output bytes.Buffer
}

func NewCommandContext(ctx context.Context, name string, args ...string) *Command {
	cmd := exec.CommandContext(ctx, name, args...)

	return &Command{
		cmd:  cmd,
		name: name + " " + strings.Join(args, " "),
	}
}

func (c *Command) String() string {
	return c.name
}

// SetDir sets the working directory, some tools resolve their model
// folders relative to it.
func (c *Command) SetDir(dir string) {
	c.cmd.Dir = dir
}

func (c *Command) CombinedOutput() (string, error) {
	c.cmd.Stdout = &c.output
	c.cmd.Stderr = &c.output

	err := c.cmd.Run()
	return c.output.String(), err
}
