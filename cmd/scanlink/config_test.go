//go:build test

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// ConfigCmdSuite exercises config show, apply and reset against the sim
// driver.
type ConfigCmdSuite struct {
	CommandTestSuite
}

func (s *ConfigCmdSuite) SetupTest() {
	configTimeout = 10 * time.Second
}

func (s *ConfigCmdSuite) TestConfigShow() {
	// GOAL: Verify config show prints every value the scanner reports
	//
	// TEST SCENARIO: bonded sim → config show → stdout carries the factory settings one per line

	cfgPath := s.WriteSimConfig(map[string]string{"bonded": "true"})

	root := newTestRoot(configCmd)
	var err error
	out := s.CaptureStdout(func() {
		_, err = s.ExecuteCommand(root, "config", "show", "--config", cfgPath)
	})

	s.Require().NoError(err, "config show MUST succeed against a bonded sim")
	s.Assert().Contains(out, "beep_volume=high\n", "output MUST carry the beep volume")
	s.Assert().Contains(out, "scan_mode=single\n", "output MUST carry the scan mode")
	s.Assert().Contains(out, "illumination=on\n", "output MUST carry the illumination setting")
}

func (s *ConfigCmdSuite) TestConfigApply() {
	// GOAL: Verify config apply sends a settings file and prints what the scanner applied
	//
	// TEST SCENARIO: settings file with comments and two values → apply → the echoed values match the file, nothing else

	cfgPath := s.WriteSimConfig(map[string]string{"bonded": "true"})

	blobPath := filepath.Join(s.T().TempDir(), "settings.txt")
	blob := "# quieter beeps for the night shift\nbeep_volume=low\nscan_mode=continuous\n"
	s.Require().NoError(os.WriteFile(blobPath, []byte(blob), 0o644))

	root := newTestRoot(configCmd)
	var err error
	out := s.CaptureStdout(func() {
		_, err = s.ExecuteCommand(root, "config", "apply", blobPath, "--config", cfgPath)
	})

	s.Require().NoError(err, "config apply MUST succeed with a well-formed file")
	s.Assert().Contains(out, "beep_volume=low\n", "the scanner MUST echo the applied volume")
	s.Assert().Contains(out, "scan_mode=continuous\n", "the scanner MUST echo the applied mode")
	s.Assert().NotContains(out, "illumination", "values the file never set MUST NOT echo")
}

func (s *ConfigCmdSuite) TestConfigApplyMalformed() {
	// GOAL: Verify a malformed settings file is rejected as a whole
	//
	// TEST SCENARIO: file with a line missing '=' → apply fails naming the bad line

	cfgPath := s.WriteSimConfig(map[string]string{"bonded": "true"})

	blobPath := filepath.Join(s.T().TempDir(), "settings.txt")
	s.Require().NoError(os.WriteFile(blobPath, []byte("beep_volume low\n"), 0o644))

	root := newTestRoot(configCmd)
	var err error
	s.CaptureStdout(func() {
		_, err = s.ExecuteCommand(root, "config", "apply", blobPath, "--config", cfgPath)
	})

	s.Require().Error(err, "config apply MUST fail on a malformed file")
	s.Assert().Contains(err.Error(), "line 1: missing '='", "the error MUST name the bad line")
}

func (s *ConfigCmdSuite) TestConfigApplyMissingFile() {
	// GOAL: Verify a missing settings file fails before any session is opened
	//
	// TEST SCENARIO: apply with a path that does not exist → read error

	root := newTestRoot(configCmd)
	_, err := s.ExecuteCommand(root, "config", "apply", filepath.Join(s.T().TempDir(), "nope.txt"))
	s.Require().Error(err, "config apply MUST fail when the file is missing")
	s.Assert().Contains(err.Error(), "failed to read settings file")
}

func (s *ConfigCmdSuite) TestConfigReset() {
	// GOAL: Verify config reset restores and echoes the factory settings
	//
	// TEST SCENARIO: bonded sim → config reset → stdout carries the factory defaults

	cfgPath := s.WriteSimConfig(map[string]string{"bonded": "true"})

	root := newTestRoot(configCmd)
	var err error
	out := s.CaptureStdout(func() {
		_, err = s.ExecuteCommand(root, "config", "reset", "--config", cfgPath)
	})

	s.Require().NoError(err, "config reset MUST succeed against a bonded sim")
	s.Assert().Contains(out, "beep_volume=high\n")
	s.Assert().Contains(out, "scan_mode=single\n")
	s.Assert().Contains(out, "illumination=on\n")
}

func (s *ConfigCmdSuite) TestConfigNoScanner() {
	// GOAL: Verify config operations fail with a clear error when nothing is linked
	//
	// TEST SCENARIO: unbonded sim → config show times out → missing-link error

	cfgPath := s.WriteSimConfig(nil)

	root := newTestRoot(configCmd)
	var err error
	s.CaptureStdout(func() {
		_, err = s.ExecuteCommand(root, "config", "show", "--config", cfgPath, "--timeout", "300ms")
	})

	s.Require().Error(err, "config show MUST fail without a linked scanner")
	s.Assert().ErrorIs(err, ErrNoScanner, "the error MUST be the missing-link sentinel")
}

func TestConfigCmdSuite(t *testing.T) {
	suite.Run(t, new(ConfigCmdSuite))
}
