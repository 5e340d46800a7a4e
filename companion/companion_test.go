//go:build test

package companion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/scanlink/internal/scanner/sim"
	"github.com/srg/scanlink/internal/session"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// fastOptions returns session options over the sim driver with shortened
// delays so tests finish quickly.
func fastOptions() *SessionOptions {
	return &SessionOptions{
		Driver: sim.DriverName,
		DriverParams: map[string]string{
			sim.ParamPairDelay:     "30ms",
			sim.ParamResponseDelay: "5ms",
			sim.ParamScanInterval:  "25ms",
		},
		Logger: quietLogger(),
	}
}

func TestRunSessionValidation(t *testing.T) {
	// GOAL: Verify option validation fails fast, before any driver opens
	//
	// TEST SCENARIO: nil options → error; empty driver name → error;
	// unknown driver name → wrapped registry error

	t.Run("NilOptions", func(t *testing.T) {
		_, err := RunSession(context.Background(), nil, nil, func(Companion) (string, error) {
			t.Fatal("callback MUST NOT run without options")
			return "", nil
		})
		if err == nil || !strings.Contains(err.Error(), "options are required") {
			t.Fatalf("expected options-required error, got %v", err)
		}
	})

	t.Run("MissingDriver", func(t *testing.T) {
		_, err := RunSession(context.Background(), &SessionOptions{Logger: quietLogger()}, nil,
			func(Companion) (string, error) { return "", nil })
		if err == nil || !strings.Contains(err.Error(), "driver name is required") {
			t.Fatalf("expected driver-required error, got %v", err)
		}
	})

	t.Run("UnknownDriver", func(t *testing.T) {
		opts := &SessionOptions{Driver: "no-such-driver", Logger: quietLogger()}
		_, err := RunSession(context.Background(), opts, nil,
			func(Companion) (string, error) { return "", nil })
		if err == nil || !strings.Contains(err.Error(), `failed to open scanner driver "no-such-driver"`) {
			t.Fatalf("expected driver-open error, got %v", err)
		}
	})
}

// CompanionTestSuite exercises RunSession end to end over the sim driver.
type CompanionTestSuite struct {
	suite.Suite
}

// waitPhase polls the controller until the wanted phase shows up.
func (s *CompanionTestSuite) waitPhase(ctrl *session.Controller, phase session.Phase) session.Snapshot {
	s.T().Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		snap := ctrl.Snapshot()
		if snap.Phase == phase {
			return snap
		}
		if time.Now().After(deadline) {
			s.Require().Failf("phase wait timed out", "wanted %s, still %s", phase, snap.Phase)
			return snap
		}
		time.Sleep(time.Millisecond)
	}
}

// readTTY reads from the wedge tty until want appears or the deadline
// passes, returning everything read so far.
func (s *CompanionTestSuite) readTTY(ttyName, want string) string {
	s.T().Helper()

	tty, err := os.OpenFile(ttyName, os.O_RDONLY|syscall.O_NOCTTY, 0)
	s.Require().NoError(err, "wedge tty MUST be openable for reading")
	defer func() { _ = tty.Close() }()

	chunks := make(chan []byte, 16)
	go func() {
		for {
			buf := make([]byte, 256)
			n, err := tty.Read(buf)
			if n > 0 {
				chunks <- buf[:n]
			}
			if err != nil {
				close(chunks)
				return
			}
		}
	}()

	var output strings.Builder
	deadline := time.After(5 * time.Second)
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				s.Require().Failf("tty closed early", "read so far: %q", output.String())
				return output.String()
			}
			output.Write(chunk)
			if strings.Contains(output.String(), want) {
				return output.String()
			}
		case <-deadline:
			s.Require().Failf("tty read timed out", "want %q, read so far: %q", want, output.String())
			return output.String()
		}
	}
}

func (s *CompanionTestSuite) TestCallbackReceivesRunningSession() {
	// GOAL: Verify the callback gets a working session and its return value
	// travels back through RunSession
	//
	// TEST SCENARIO: run with sim driver → callback pairs the scanner →
	// accessors reflect a wedge-less, hook-less session → result returned

	result, err := RunSession(context.Background(), fastOptions(), nil, func(c Companion) (string, error) {
		s.Require().NotNil(c.GetSession(), "session MUST be available to the callback")
		s.Equal(sim.DriverName, c.GetDriverName())
		s.Nil(c.GetWedge(), "no wedge was requested")
		s.Nil(c.GetHook(), "no hook was requested")
		s.Empty(c.GetTTYName(), "tty name MUST be empty without a wedge")
		s.Empty(c.GetTTYSymlink())

		c.GetSession().StartPairing()
		snap := s.waitPhase(c.GetSession(), session.PhaseConnected)
		s.Equal(session.PhaseConnected, snap.Phase)
		return "done", nil
	})

	s.Require().NoError(err)
	s.Equal("done", result)
}

func (s *CompanionTestSuite) TestProgressPhases() {
	// GOAL: Verify setup progress is reported in order
	//
	// TEST SCENARIO: successful run → Opening driver → Starting session →
	// Running; failed driver open → Opening driver → Failed

	var phases []string
	_, err := RunSession(context.Background(), fastOptions(), func(phase string) {
		phases = append(phases, phase)
	}, func(c Companion) (struct{}, error) {
		return struct{}{}, nil
	})
	s.Require().NoError(err)
	s.Equal([]string{"Opening driver", "Starting session", "Running"}, phases)

	phases = nil
	opts := &SessionOptions{Driver: "no-such-driver", Logger: quietLogger()}
	_, err = RunSession(context.Background(), opts, func(phase string) {
		phases = append(phases, phase)
	}, func(c Companion) (struct{}, error) {
		return struct{}{}, nil
	})
	s.Require().Error(err)
	s.Equal([]string{"Opening driver", "Failed"}, phases)
}

func (s *CompanionTestSuite) TestWedgeDeliversScans() {
	// GOAL: Verify an enabled wedge forwards scanned barcodes to its PTY and
	// the symlink lives exactly as long as the session
	//
	// TEST SCENARIO: wedge with symlink → pair → arm scanning → scripted
	// payload arrives on the tty with terminator → symlink removed after run

	symlink := filepath.Join(s.T().TempDir(), "wedge-tty")
	opts := fastOptions()
	opts.EnableWedge = true
	opts.WedgeSymlink = symlink
	opts.DriverParams[sim.ParamBarcodes] = "4006381333931"

	_, err := RunSession(context.Background(), opts, nil, func(c Companion) (struct{}, error) {
		s.Require().NotNil(c.GetWedge(), "wedge MUST be attached")
		s.Require().NotEmpty(c.GetTTYName())
		s.Equal(symlink, c.GetTTYSymlink())

		target, err := os.Readlink(symlink)
		s.Require().NoError(err, "symlink MUST exist while the session runs")
		s.Equal(c.GetTTYName(), target)

		c.GetSession().StartPairing()
		s.waitPhase(c.GetSession(), session.PhaseConnected)
		c.GetSession().StartScanning()

		output := s.readTTY(c.GetTTYName(), "4006381333931\n")
		s.Contains(output, "4006381333931\n", "payload MUST arrive terminated")
		return struct{}{}, nil
	})
	s.Require().NoError(err)

	_, err = os.Lstat(symlink)
	s.True(os.IsNotExist(err), "symlink MUST be removed after the session ends")
}

func (s *CompanionTestSuite) TestHookRewritesWedgeOutput() {
	// GOAL: Verify a loaded hook transforms payloads before they reach the
	// wedge PTY
	//
	// TEST SCENARIO: uppercase hook + wedge → scripted lowercase payload →
	// tty shows the rewritten payload

	hookPath := filepath.Join(s.T().TempDir(), "upper.lua")
	s.Require().NoError(os.WriteFile(hookPath, []byte(
		"function on_scan(payload)\n  return string.upper(payload)\nend\n"), 0o644))

	opts := fastOptions()
	opts.EnableWedge = true
	opts.HookPath = hookPath
	opts.DriverParams[sim.ParamBarcodes] = "abc-123"

	_, err := RunSession(context.Background(), opts, nil, func(c Companion) (struct{}, error) {
		s.Require().NotNil(c.GetHook(), "hook MUST be loaded")
		s.Equal(hookPath, c.GetHook().Source())

		c.GetSession().StartPairing()
		s.waitPhase(c.GetSession(), session.PhaseConnected)
		c.GetSession().StartScanning()

		output := s.readTTY(c.GetTTYName(), "ABC-123\n")
		s.Contains(output, "ABC-123\n", "hook output MUST replace the raw payload")
		s.NotContains(output, "abc-123", "raw payload MUST NOT leak past the hook")
		return struct{}{}, nil
	})
	s.Require().NoError(err)
}

func (s *CompanionTestSuite) TestHookWithoutWedgeSeesScans() {
	// GOAL: Verify the companion feeds scans through the hook even when no
	// wedge owns the scan feed
	//
	// TEST SCENARIO: hook that appends payloads to a file, no wedge → pair →
	// arm scanning → file fills with scripted payloads

	dir := s.T().TempDir()
	outPath := filepath.Join(dir, "scans.txt")
	hookPath := filepath.Join(dir, "record.lua")
	script := fmt.Sprintf(
		"function on_scan(payload)\n  local f = io.open(%q, \"a\")\n  f:write(payload .. \"\\n\")\n  f:close()\n  return nil\nend\n",
		outPath)
	s.Require().NoError(os.WriteFile(hookPath, []byte(script), 0o644))

	opts := fastOptions()
	opts.HookPath = hookPath
	opts.DriverParams[sim.ParamBarcodes] = "73513537"

	_, err := RunSession(context.Background(), opts, nil, func(c Companion) (struct{}, error) {
		s.Nil(c.GetWedge())
		s.Require().NotNil(c.GetHook())

		c.GetSession().StartPairing()
		s.waitPhase(c.GetSession(), session.PhaseConnected)
		c.GetSession().StartScanning()

		deadline := time.Now().Add(5 * time.Second)
		for {
			data, err := os.ReadFile(outPath)
			if err == nil && strings.Count(string(data), "73513537\n") >= 2 {
				return struct{}{}, nil
			}
			if time.Now().After(deadline) {
				s.Require().Failf("hook output wait timed out", "file so far: %q", string(data))
				return struct{}{}, nil
			}
			time.Sleep(5 * time.Millisecond)
		}
	})
	s.Require().NoError(err)
}

func (s *CompanionTestSuite) TestHookLoadFailure() {
	// GOAL: Verify a broken hook aborts the run with a useful error
	//
	// TEST SCENARIO: missing script file → load error wrapped, phase Failed

	var phases []string
	opts := fastOptions()
	opts.HookPath = filepath.Join(s.T().TempDir(), "missing.lua")

	_, err := RunSession(context.Background(), opts, func(phase string) {
		phases = append(phases, phase)
	}, func(c Companion) (struct{}, error) {
		s.Fail("callback MUST NOT run when the hook fails to load")
		return struct{}{}, nil
	})

	s.Require().Error(err)
	s.Contains(err.Error(), "failed to load scan hook")
	s.Require().NotEmpty(phases)
	s.Equal("Failed", phases[len(phases)-1])
}

func (s *CompanionTestSuite) TestCallbackErrorPropagates() {
	// GOAL: Verify a callback error comes back unwrapped and teardown still
	// runs
	//
	// TEST SCENARIO: callback fails → same error returned → session already
	// closed afterwards (second Close is a no-op)

	boom := errors.New("boom")
	var captured *session.Controller

	_, err := RunSession(context.Background(), fastOptions(), nil, func(c Companion) (int, error) {
		captured = c.GetSession()
		return 0, boom
	})

	s.Require().ErrorIs(err, boom)
	s.Require().NotNil(captured)
	s.NoError(captured.Close(), "session MUST already be closed after RunSession returns")
}

func TestCompanionTestSuite(t *testing.T) {
	suite.Run(t, new(CompanionTestSuite))
}
