//go:build test

package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// FindCmdSuite exercises the find command against the sim driver.
type FindCmdSuite struct {
	CommandTestSuite
}

func (s *FindCmdSuite) SetupTest() {
	findTimeout = 10 * time.Second
}

func (s *FindCmdSuite) TestFindBeeps() {
	// GOAL: Verify find asks a linked scanner to beep and reports success
	//
	// TEST SCENARIO: bonded sim → find → no rejection within the failure window → success message

	cfgPath := s.WriteSimConfig(map[string]string{"bonded": "true"})

	root := newTestRoot(findCmd)
	var err error
	out := s.CaptureStdout(func() {
		_, err = s.ExecuteCommand(root, "find", "--config", cfgPath)
	})

	s.Require().NoError(err, "find MUST succeed against a bonded sim")
	s.Assert().Contains(out, "Asked the scanner to beep and flash.", "find MUST confirm the request")
}

func (s *FindCmdSuite) TestFindNoScanner() {
	// GOAL: Verify find fails with a clear error when nothing is linked
	//
	// TEST SCENARIO: unbonded sim → find waits out its timeout → missing-link error

	cfgPath := s.WriteSimConfig(nil)

	root := newTestRoot(findCmd)
	var err error
	s.CaptureStdout(func() {
		_, err = s.ExecuteCommand(root, "find", "--config", cfgPath, "--timeout", "300ms")
	})

	s.Require().Error(err, "find MUST fail without a linked scanner")
	s.Assert().ErrorIs(err, ErrNoScanner, "the error MUST be the missing-link sentinel")
}

func TestFindCmdSuite(t *testing.T) {
	suite.Run(t, new(FindCmdSuite))
}
