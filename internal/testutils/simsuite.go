//go:build test

package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/scanlink/internal/scanner"
	"github.com/srg/scanlink/internal/scanner/sim"
	"github.com/srg/scanlink/internal/session"
)

// SimScannerSuite provides a reusable test suite backed by the simulated
// scanner driver. It follows testify/suite conventions: every test gets a
// fresh sim device and a fresh session controller over it, torn down
// automatically.
//
// The sim driver runs with shortened delays so suites stay fast. Tests
// inject link faults directly through the Driver field (DropLink,
// RestoreLink, SetBondedElsewhere).
//
// Basic usage:
//
//	type PairingSuite struct {
//	    testutils.SimScannerSuite
//	}
//
//	func (s *PairingSuite) TestPairs() {
//	    s.Pair()
//	    s.Equal(session.PhaseConnected, s.Session.Snapshot().Phase)
//	}
//
//	func TestPairingSuite(t *testing.T) {
//	    suite.Run(t, new(PairingSuite))
//	}
//
// Custom driver parameters (configure first, call the parent last):
//
//	func (s *MySuite) SetupTest() {
//	    s.WithDriverParam(sim.ParamBarcodes, "012345678905")
//	    s.SimScannerSuite.SetupTest()
//	}
type SimScannerSuite struct {
	suite.Suite

	// Core test utilities
	Helper *TestHelper
	Logger *logrus.Logger

	// Driver is the simulated scanner behind the session. Use it to inject
	// link faults.
	Driver *sim.Device

	// Session is the controller under test, recreated for every test.
	Session *session.Controller

	// DriverParams overrides sim driver parameters for the next test. Set
	// entries in SetupTest before calling the parent.
	DriverParams map[string]string

	// SessionOptions overrides controller options for the next test.
	// Manager and Logger always come from the suite.
	SessionOptions session.Options

	// TestTimeout bounds every wait helper.
	TestTimeout time.Duration
}

// SetupSuite initializes shared utilities. Called once before all tests.
func (s *SimScannerSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 10 * time.Second

	s.Logger.Debug("Suite setup completed")
}

// SetupTest builds a fresh sim device and session controller. Called before
// each test method.
func (s *SimScannerSuite) SetupTest() {
	// Shortened delays keep suites fast; DriverParams may override any of
	// them.
	params := map[string]string{
		sim.ParamPairDelay:     "30ms",
		sim.ParamResponseDelay: "5ms",
		sim.ParamScanInterval:  "25ms",
	}
	for k, v := range s.DriverParams {
		params[k] = v
	}

	driver, err := sim.NewDevice(scanner.Options{
		Params: params,
		Logger: s.Logger,
	})
	s.Require().NoError(err, "sim driver MUST construct")
	s.Driver = driver

	opts := s.SessionOptions
	opts.Manager = driver
	opts.Logger = s.Logger
	ctrl, err := session.NewController(opts)
	s.Require().NoError(err, "session controller MUST construct")
	s.Session = ctrl

	s.Logger.Debug("Test setup completed - sim session ready")
}

// TearDownTest closes the session, which also closes the sim driver, and
// clears per-test configuration. Called after each test method.
func (s *SimScannerSuite) TearDownTest() {
	if s.Session != nil {
		s.Require().NoError(s.Session.Close(), "session MUST close cleanly")
	}
	s.Session = nil
	s.Driver = nil
	s.DriverParams = nil
	s.SessionOptions = session.Options{}
}

// WithDriverParam sets one sim driver parameter for the next test. Use it
// in SetupTest before calling the parent SetupTest.
func (s *SimScannerSuite) WithDriverParam(key, value string) *SimScannerSuite {
	if s.DriverParams == nil {
		s.DriverParams = make(map[string]string)
	}
	s.DriverParams[key] = value
	return s
}

// WaitPhase polls the session until its phase matches, returning the
// matching snapshot. Fails the test after TestTimeout.
func (s *SimScannerSuite) WaitPhase(phase session.Phase) session.Snapshot {
	s.T().Helper()
	deadline := time.Now().Add(s.TestTimeout)
	for {
		snap := s.Session.Snapshot()
		if snap.Phase == phase {
			return snap
		}
		if time.Now().After(deadline) {
			s.Require().Failf("phase wait timed out",
				"wanted phase %s, still %s after %s", phase, snap.Phase, s.TestTimeout)
			return snap
		}
		time.Sleep(time.Millisecond)
	}
}

// WaitChange reads the observer feed until a change with the given cause
// arrives. Fails the test after TestTimeout.
func (s *SimScannerSuite) WaitChange(cause string) session.Change {
	s.T().Helper()
	deadline := time.After(s.TestTimeout)
	for {
		select {
		case change := <-s.Session.Events():
			if change.Cause == cause {
				return change
			}
		case <-deadline:
			s.Require().Failf("change wait timed out",
				"no change with cause %q within %s", cause, s.TestTimeout)
			return session.Change{}
		}
	}
}

// Pair runs the full pairing exchange against the sim scanner and returns
// the connected snapshot.
func (s *SimScannerSuite) Pair() session.Snapshot {
	s.T().Helper()
	s.Session.StartPairing()
	return s.WaitPhase(session.PhaseConnected)
}
