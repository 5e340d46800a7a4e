//go:build test

package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/suite"
	"gopkg.in/yaml.v3"
)

// CommandTestSuite bundles what the command suites share: a scratch tool
// config pointing at a fast sim driver, in-process command execution and
// stdout capture. Per-command suites embed this instead of suite.Suite.
type CommandTestSuite struct {
	suite.Suite
}

// newTestRoot builds a parent command carrying the same persistent flags
// as the real root, so subcommands can resolve --config and --driver.
func newTestRoot(children ...*cobra.Command) *cobra.Command {
	cmd := &cobra.Command{Use: "scanlink", SilenceErrors: true}
	cmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("driver", "", "Scanner driver (overrides the config file)")
	cmd.PersistentFlags().String("config", "scanlink.yaml", "Tool configuration file")
	for _, child := range children {
		cmd.AddCommand(child)
	}
	return cmd
}

// WriteSimConfig writes a tool config backed by the sim driver with
// shortened delays and returns its path. extra entries are merged into
// driver_params.
func (s *CommandTestSuite) WriteSimConfig(extra map[string]string) string {
	params := map[string]string{
		"pair_delay":     "30ms",
		"response_delay": "5ms",
		"scan_interval":  "25ms",
	}
	for k, v := range extra {
		params[k] = v
	}

	raw, err := yaml.Marshal(map[string]any{
		"driver":        "sim",
		"driver_params": params,
	})
	s.Require().NoError(err, "sim config MUST marshal")

	path := filepath.Join(s.T().TempDir(), "scanlink.yaml")
	s.Require().NoError(os.WriteFile(path, raw, 0o644), "sim config MUST be written")
	return path
}

// ExecuteCommand runs a cobra command with args, returns output and error
func (s *CommandTestSuite) ExecuteCommand(cmd *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return buf.String(), err
}

// CaptureStdout executes fn while capturing stdout, returns captured output.
// Stdout is restored even if fn panics.
func (s *CommandTestSuite) CaptureStdout(fn func()) string {
	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	s.Require().NoError(err, "pipe creation MUST succeed")
	os.Stdout = w
	defer func() { os.Stdout = oldStdout }()

	fn()

	w.Close()
	out, _ := io.ReadAll(r)
	return string(out)
}
