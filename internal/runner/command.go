// Package runner composes and executes the shell command lines that invoke
// the external picking and training tools. Commands are chained with strict
// sequential-and semantics and run as one blocking child process.
package runner

import (
	"fmt"
	"strings"
)

// Command builds one tool invocation as an ordered token list: executable,
// then flags in the order they were added, then positional arguments.
type Command struct {
	tokens []string
}

// New starts a command for the given executable. The name may contain a
// subcommand ("topaz preprocess").
func New(executable string) *Command {
	return &Command{tokens: []string{executable}}
}

// Flag appends a flag and its value. An empty value emits the bare flag
// (switches like --fine_tune).
func (c *Command) Flag(name string, value any) *Command {
	c.tokens = append(c.tokens, name)
	if s := fmt.Sprint(value); s != "" {
		c.tokens = append(c.tokens, s)
	}
	return c
}

// Arg appends a positional argument.
func (c *Command) Arg(value string) *Command {
	c.tokens = append(c.tokens, value)
	return c
}

// String renders the command as a single shell line.
func (c *Command) String() string {
	return strings.Join(c.tokens, " ")
}

// Chain joins command lines with " && " so each command runs only if the
// previous one succeeded. Empty lines (e.g. an unset activation prefix) are
// skipped.
func Chain(lines ...string) string {
	parts := make([]string, 0, len(lines))
	for _, line := range lines {
		if line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, " && ")
}
