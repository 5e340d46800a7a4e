package wedge

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/srg/scanlink/internal/scanner"
)

// WedgeTestSuite tests the full feed → transform → PTY → history path with
// a real pseudo-terminal.
type WedgeTestSuite struct {
	suite.Suite
}

// openWedge opens a Wedge over a fresh feed and registers cleanup.
func (suite *WedgeTestSuite) openWedge(opts Options) (chan scanner.Barcode, *Wedge) {
	feed := make(chan scanner.Barcode, 16)
	opts.Feed = feed

	w, err := Open(&opts)
	suite.Require().NoError(err)
	suite.T().Cleanup(func() { _ = w.Close() })
	return feed, w
}

func (suite *WedgeTestSuite) TestForwardsBarcodes() {
	// GOAL: Verify every barcode from the feed comes out the tty with the default terminator
	//
	// TEST SCENARIO: Send two barcodes → read the tty → verify newline-terminated payloads in order
	feed, w := suite.openWedge(Options{})
	tty := openTTY(suite.T(), w.TTYName())

	feed <- scanner.Barcode{ID: 1, Payload: "012345678905"}
	feed <- scanner.Barcode{ID: 2, Payload: "4006381333931"}

	want := "012345678905\n4006381333931\n"
	got := readOutput(suite.T(), tty, len(want), 2*time.Second)
	suite.Equal(want, got)

	stats := w.Stats()
	suite.Equal(uint64(len(want)), stats.Port.WrittenBytes)
	suite.Equal(uint64(0), stats.TransformDropped)
}

func (suite *WedgeTestSuite) TestAppliesTransform() {
	// GOAL: Verify the transform rewrites payloads and can drop scans entirely
	//
	// TEST SCENARIO: Send keep/drop/keep barcodes through an uppercasing transform → verify tty output and drop counter
	transform := func(payload string) (string, bool) {
		if payload == "drop-me" {
			return "", false
		}
		return strings.ToUpper(payload), true
	}
	feed, w := suite.openWedge(Options{Transform: transform})
	tty := openTTY(suite.T(), w.TTYName())

	feed <- scanner.Barcode{ID: 1, Payload: "abc123"}
	feed <- scanner.Barcode{ID: 2, Payload: "drop-me"}
	feed <- scanner.Barcode{ID: 3, Payload: "xyz789"}

	want := "ABC123\nXYZ789\n"
	got := readOutput(suite.T(), tty, len(want), 2*time.Second)
	suite.Equal(want, got)

	// The dropped scan was handled before xyz789 went out, so the counter
	// is already settled.
	suite.Equal(uint64(1), w.Stats().TransformDropped)

	suite.Require().NoError(w.Close())
	records, err := w.Drain()
	suite.NoError(err)
	suite.Require().Len(records, 2, "dropped scans MUST NOT enter the history")
	suite.Equal("ABC123", records[0].Payload)
	suite.Equal("XYZ789", records[1].Payload)
}

func (suite *WedgeTestSuite) TestCustomTerminator() {
	// GOAL: Verify a configured terminator replaces the default newline
	//
	// TEST SCENARIO: Open wedge with CRLF terminator → send one barcode → verify tty output ends with CRLF
	feed, w := suite.openWedge(Options{Terminator: "\r\n"})
	tty := openTTY(suite.T(), w.TTYName())

	feed <- scanner.Barcode{ID: 1, Payload: "73513537"}

	want := "73513537\r\n"
	got := readOutput(suite.T(), tty, len(want), 2*time.Second)
	suite.Equal(want, got)
}

func (suite *WedgeTestSuite) TestHistorySurvivesClose() {
	// GOAL: Verify the wedged-scan history is drainable after Close
	//
	// TEST SCENARIO: Send barcodes with no tty reader → close → drain → verify all payloads with timestamps
	feed, w := suite.openWedge(Options{})

	payloads := []string{"012345678905", "4006381333931", "73513537"}
	for i, p := range payloads {
		feed <- scanner.Barcode{ID: uint64(i + 1), Payload: p}
	}

	// Wait until the history collector has seen all records, then close.
	suite.Eventually(func() bool {
		return w.Stats().History.RecordsProcessed == int64(len(payloads))
	}, 2*time.Second, 5*time.Millisecond)

	suite.Require().NoError(w.Close())

	records, err := w.Drain()
	suite.NoError(err)
	suite.Require().Len(records, len(payloads))
	for i, rec := range records {
		suite.Equal(payloads[i], rec.Payload)
		suite.False(rec.At.IsZero())
	}
}

func (suite *WedgeTestSuite) TestSymlink() {
	// GOAL: Verify symlink lifecycle: created at open, points at the tty, removed at close
	//
	// TEST SCENARIO: Open with SymlinkPath → verify link target → close → verify link removed
	suite.Run("CreatedAndRemoved", func() {
		link := filepath.Join(suite.T().TempDir(), "scanlink-wedge")
		_, w := suite.openWedge(Options{SymlinkPath: link})

		suite.Equal(link, w.Symlink())

		target, err := os.Readlink(link)
		suite.Require().NoError(err)
		suite.Equal(w.TTYName(), target)

		suite.Require().NoError(w.Close())
		_, err = os.Lstat(link)
		suite.True(os.IsNotExist(err), "symlink MUST be removed on Close")
	})

	suite.Run("ReplacesStaleSymlink", func() {
		// GOAL: Verify a symlink left behind by a crashed run is replaced
		//
		// TEST SCENARIO: Pre-create a dangling symlink → open → verify it now points at the new tty
		link := filepath.Join(suite.T().TempDir(), "scanlink-wedge")
		suite.Require().NoError(os.Symlink("/dev/null-gone", link))

		_, w := suite.openWedge(Options{SymlinkPath: link})

		target, err := os.Readlink(link)
		suite.Require().NoError(err)
		suite.Equal(w.TTYName(), target)
	})

	suite.Run("RefusesRegularFile", func() {
		// GOAL: Verify Open never clobbers a regular file at the symlink path
		//
		// TEST SCENARIO: Pre-create a regular file → open → verify error and file intact
		link := filepath.Join(suite.T().TempDir(), "scanlink-wedge")
		suite.Require().NoError(os.WriteFile(link, []byte("precious"), 0o644))

		feed := make(chan scanner.Barcode, 1)
		w, err := Open(&Options{Feed: feed, SymlinkPath: link})
		suite.Require().Error(err)
		suite.Nil(w)
		suite.Contains(err.Error(), "not a symlink")

		content, err := os.ReadFile(link)
		suite.Require().NoError(err)
		suite.Equal("precious", string(content))
	})
}

func (suite *WedgeTestSuite) TestCloseIdempotent() {
	// GOAL: Verify Close can be called repeatedly without error
	//
	// TEST SCENARIO: Close the wedge twice → verify both calls return nil
	_, w := suite.openWedge(Options{})

	suite.NoError(w.Close())
	suite.NoError(w.Close())
}

func TestWedgeOpenValidation(t *testing.T) {
	// GOAL: Verify Open rejects missing options and missing feed
	//
	// TEST SCENARIO: Call Open with nil and with empty options → verify descriptive errors
	w, err := Open(nil)
	assert.Error(t, err)
	assert.Nil(t, w)
	assert.Contains(t, err.Error(), "options are required")

	w, err = Open(&Options{})
	assert.Error(t, err)
	assert.Nil(t, w)
	assert.Contains(t, err.Error(), "barcode feed is required")
}

func TestWedgeDefaults(t *testing.T) {
	// GOAL: Verify zero-value options resolve to the documented defaults
	//
	// TEST SCENARIO: Open with only a feed → verify terminator and queue capacity defaults
	feed := make(chan scanner.Barcode, 1)
	w, err := Open(&Options{Feed: feed})
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	assert.Equal(t, DefaultTerminator, w.terminator)
	assert.Equal(t, int32(DefaultQueueCap), w.Stats().Port.QueueCap)
	assert.Empty(t, w.Symlink())
}

// Run the test suite
func TestWedgeTestSuite(t *testing.T) {
	suite.Run(t, new(WedgeTestSuite))
}
