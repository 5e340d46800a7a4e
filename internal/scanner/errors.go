package scanner

import (
	"errors"
	"fmt"
)

// TransportCode represents the specific kind of link failure between the
// companion and the scanner.
type TransportCode string

const (
	ConnectFailed   TransportCode = "connect_failed"
	BondedElsewhere TransportCode = "bonded_elsewhere"
	LinkLost        TransportCode = "link_lost"
)

// TransportError represents any link-level problem with the scanner.
type TransportError struct {
	Code       TransportCode
	DeviceName string // device holding the bond, set for BondedElsewhere
	Msg        string
}

// Error implements the error interface
func (e *TransportError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// Is allows errors.Is to compare TransportError values by Code
func (e *TransportError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*TransportError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Predefined sentinel errors for transport failures
var (
	ErrConnectFailed   = &TransportError{Code: ConnectFailed}
	ErrBondedElsewhere = &TransportError{Code: BondedElsewhere}
	ErrLinkLost        = &TransportError{Code: LinkLost}
)

// OperationError reports a command the scanner rejected or could not
// complete. It travels inside EventOperationFailed rather than as a
// synchronous return value.
type OperationError struct {
	Op  string
	Msg string
}

func (e *OperationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return fmt.Sprintf("%s failed", e.Op)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

// IsBondingConflict reports whether err means the scanner holds an active
// bond with another device and refused to pair.
func IsBondingConflict(err error) bool {
	return errors.Is(err, ErrBondedElsewhere)
}

// BondingConflictName extracts the name of the device holding the bond from
// a bonding-conflict error. ok is false when err is not a bonding conflict;
// the name may be empty when the transport did not report one.
func BondingConflictName(err error) (name string, ok bool) {
	var terr *TransportError
	if errors.As(err, &terr) && terr.Code == BondedElsewhere {
		return terr.DeviceName, true
	}
	return "", false
}
