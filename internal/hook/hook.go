// Package hook runs a user-supplied Lua script against every scanned
// barcode. The script defines on_scan(payload); its return value decides
// what happens to the scan: a string replaces the payload, false drops it,
// nil (or true) keeps it unchanged.
package hook

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aarzilli/golua/lua"
	"github.com/sirupsen/logrus"
)

// HookFunction is the global the script must define.
const HookFunction = "on_scan"

// Error represents a failed script load or hook call.
type Error struct {
	Type       string // "syntax", "runtime", "contract"
	Message    string
	Line       int
	Source     string
	Underlying error
}

func (e *Error) Error() string {
	parts := []string{}
	if e.Source != "" {
		parts = append(parts, fmt.Sprintf("in %s", e.Source))
	}
	if e.Line > 0 {
		parts = append(parts, fmt.Sprintf("line %d", e.Line))
	}

	prefix := "hook error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("hook %s error (%s)", e.Type, strings.Join(parts, ", "))
	} else if e.Type != "" {
		prefix = fmt.Sprintf("hook %s error", e.Type)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	var herr *Error
	if errors.As(target, &herr) {
		return e.Type == herr.Type
	}
	return false
}

// Engine hosts one Lua state with a loaded scan hook. The state is
// single-threaded; all entry points serialize on an internal mutex.
type Engine struct {
	state      *lua.State
	stateMutex sync.Mutex
	logger     *logrus.Logger
	source     string
}

// New creates an engine with an empty Lua state. Load a script before
// calling OnScan.
func New(logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	e := &Engine{logger: logger}
	e.state = lua.NewState()
	e.state.OpenLibs()

	logger.Debug("scan hook engine initialized")
	return e
}

// LoadFile loads the scan hook script from a file.
func (e *Engine) LoadFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read hook script %s: %w", path, err)
	}
	return e.Load(string(content), path)
}

// Load runs the script so it can define its hook, then checks the on_scan
// contract.
func (e *Engine) Load(script, name string) error {
	if script == "" {
		return &Error{Type: "contract", Message: "empty script", Source: name}
	}

	e.stateMutex.Lock()
	defer e.stateMutex.Unlock()

	if e.state == nil {
		return &Error{Type: "contract", Message: "engine closed", Source: name}
	}

	if err := e.state.DoString(script); err != nil {
		return wrapError("syntax", name, err)
	}

	e.state.GetGlobal(HookFunction)
	defined := e.state.IsFunction(-1)
	e.state.Pop(1)
	if !defined {
		return &Error{
			Type:    "contract",
			Message: fmt.Sprintf("script must define function %s(payload)", HookFunction),
			Source:  name,
		}
	}

	e.source = name
	e.logger.WithFields(logrus.Fields{
		"script": name,
		"hook":   HookFunction,
	}).Info("Scan hook loaded")
	return nil
}

// Source returns the name of the loaded script.
func (e *Engine) Source() string {
	e.stateMutex.Lock()
	defer e.stateMutex.Unlock()
	return e.source
}

// OnScan runs the hook for one barcode payload. keep is false when the
// script dropped the scan; otherwise the returned payload carries the
// possibly rewritten value. On failure the original payload comes back with
// keep=true so a broken script never swallows scans; the caller decides how
// loudly to report the error.
func (e *Engine) OnScan(payload string) (string, bool, error) {
	e.stateMutex.Lock()
	defer e.stateMutex.Unlock()

	if e.state == nil {
		return payload, true, &Error{Type: "contract", Message: "engine closed", Source: e.source}
	}

	L := e.state
	L.GetGlobal(HookFunction)
	if !L.IsFunction(-1) {
		L.Pop(1)
		return payload, true, &Error{
			Type:    "contract",
			Message: fmt.Sprintf("global %s is not a function", HookFunction),
			Source:  e.source,
		}
	}

	L.PushString(payload)
	if err := L.Call(1, 1); err != nil {
		return payload, true, wrapError("runtime", e.source, err)
	}
	defer L.Pop(1)

	switch {
	case L.IsNil(-1):
		return payload, true, nil
	case L.IsBoolean(-1):
		if !L.ToBoolean(-1) {
			return "", false, nil
		}
		return payload, true, nil
	case L.IsString(-1):
		return L.ToString(-1), true, nil
	default:
		return payload, true, &Error{
			Type:    "contract",
			Message: fmt.Sprintf("%s returned unsupported type; want string, boolean or nil", HookFunction),
			Source:  e.source,
		}
	}
}

// Close releases the Lua state. Safe to call more than once.
func (e *Engine) Close() {
	e.stateMutex.Lock()
	defer e.stateMutex.Unlock()

	if e.state != nil {
		e.state.Close()
		e.state = nil
	}
}

// wrapError extracts line info from Lua's "source:line: message" format.
func wrapError(errType, source string, err error) *Error {
	msg := err.Error()
	line := 0
	message := msg
	if parts := strings.SplitN(msg, ":", 3); len(parts) >= 3 {
		if parsed, scanErr := fmt.Sscanf(strings.TrimSpace(parts[1]), "%d", &line); scanErr == nil && parsed == 1 {
			message = strings.TrimSpace(parts[2])
		}
	}
	return &Error{
		Type:       errType,
		Message:    message,
		Line:       line,
		Source:     source,
		Underlying: err,
	}
}
