package vmb

import (
	"errors"
	"fmt"
)

// Status is the integer result every native entry point returns.
//
// 0 is success, negative values are the closed set of runtime error kinds,
// positive values (>= StatusCustom) are reserved for user defined codes.
type Status int32

const (
	StatusSuccess                 Status = 0
	StatusInternalFault           Status = -1
	StatusApiNotStarted           Status = -2
	StatusNotFound                Status = -3
	StatusBadHandle               Status = -4
	StatusDeviceNotOpen           Status = -5
	StatusInvalidAccess           Status = -6
	StatusBadParameter            Status = -7
	StatusStructSize              Status = -8
	StatusMoreData                Status = -9
	StatusWrongType               Status = -10
	StatusInvalidValue            Status = -11
	StatusTimeout                 Status = -12
	StatusOther                   Status = -13
	StatusResources               Status = -14
	StatusInvalidCall             Status = -15
	StatusNoTL                    Status = -16
	StatusNotImplemented          Status = -17
	StatusNotSupported            Status = -18
	StatusIncomplete              Status = -19
	StatusIO                      Status = -20
	StatusValidValueSetNotPresent Status = -21
	StatusGenTLUnspecified        Status = -22
	StatusUnspecified             Status = -23
	StatusBusy                    Status = -24
	StatusNoData                  Status = -25
	StatusParsingChunkData        Status = -26
	StatusInUse                   Status = -27
	StatusUnknown                 Status = -28
	StatusXml                     Status = -29
	StatusNotAvailable            Status = -30
	StatusNotInitialized          Status = -31
	StatusInvalidAddress          Status = -32
	StatusAlready                 Status = -33
	StatusNoChunkData             Status = -34
	StatusUserCallbackException   Status = -35
	StatusFeaturesUnavailable     Status = -36
	StatusTLNotFound              Status = -37
	StatusAmbiguous               Status = -39
	StatusRetriesExceeded         Status = -40
	StatusInsufficientBufferCount Status = -41
	StatusCustom                  Status = 1
)

type statusEntry struct {
	kind    string
	message string
}

// statusTable is exhaustive over the runtime's closed set. Codes missing from
// it resolve to unknownStatus; positive codes resolve to the Custom entry.
var statusTable = map[Status]statusEntry{
	StatusSuccess:                 {"Success", "No error"},
	StatusInternalFault:           {"InternalFault", "Unexpected fault in VmbC or driver"},
	StatusApiNotStarted:           {"ApiNotStarted", "VmbStartup() was not called before the current command"},
	StatusNotFound:                {"NotFound", "The designated instance (camera, feature etc.) cannot be found"},
	StatusBadHandle:               {"BadHandle", "The given handle is not valid"},
	StatusDeviceNotOpen:           {"DeviceNotOpen", "Device was not opened for usage"},
	StatusInvalidAccess:           {"InvalidAccess", "Operation is invalid with the current access mode"},
	StatusBadParameter:            {"BadParameter", "One of the parameters is invalid (usually an illegal pointer)"},
	StatusStructSize:              {"StructSize", "The given struct size is not valid for this version of the API"},
	StatusMoreData:                {"MoreData", "More data available in a string/list than space is provided"},
	StatusWrongType:               {"WrongType", "Wrong feature type for this access function"},
	StatusInvalidValue:            {"InvalidValue", "The value is not valid; either out of bounds or not an increment of the minimum"},
	StatusTimeout:                 {"Timeout", "Timeout during wait"},
	StatusOther:                   {"Other", "Other error"},
	StatusResources:               {"Resources", "Resources not available (e.g. memory)"},
	StatusInvalidCall:             {"InvalidCall", "Call is invalid in the current context (e.g. callback)"},
	StatusNoTL:                    {"NoTL", "No transport layers are found"},
	StatusNotImplemented:          {"NotImplemented", "API feature is not implemented"},
	StatusNotSupported:            {"NotSupported", "API feature is not supported"},
	StatusIncomplete:              {"Incomplete", "The current operation was not completed (e.g. a multiple registers read or write)"},
	StatusIO:                      {"IO", "Low level IO error in transport layer"},
	StatusValidValueSetNotPresent: {"ValidValueSetNotPresent", "The valid value set could not be retrieved, since the feature does not provide this property"},
	StatusGenTLUnspecified:        {"GenTLUnspecified", "Unspecified GenTL runtime error"},
	StatusUnspecified:             {"Unspecified", "Unspecified runtime error"},
	StatusBusy:                    {"Busy", "The responsible module/entity is busy executing actions"},
	StatusNoData:                  {"NoData", "The function has no data to work on"},
	StatusParsingChunkData:        {"ParsingChunkData", "An error occurred parsing a buffer containing chunk data"},
	StatusInUse:                   {"InUse", "Something is already in use"},
	StatusUnknown:                 {"Unknown", "Error condition unknown"},
	StatusXml:                     {"Xml", "Error parsing XML"},
	StatusNotAvailable:            {"NotAvailable", "Something is not available"},
	StatusNotInitialized:          {"NotInitialized", "Something is not initialized"},
	StatusInvalidAddress:          {"InvalidAddress", "The given address is out of range or invalid for internal reasons"},
	StatusAlready:                 {"Already", "Something has already been done"},
	StatusNoChunkData:             {"NoChunkData", "A frame expected to contain chunk data does not contain chunk data"},
	StatusUserCallbackException:   {"UserCallbackException", "A callback provided by the user threw an exception"},
	StatusFeaturesUnavailable:     {"FeaturesUnavailable", "The XML for the module is currently not loaded; the module could be in the wrong state or the XML could not be retrieved or could not be parsed properly"},
	StatusTLNotFound:              {"TLNotFound", "A required transport layer could not be found or loaded"},
	StatusAmbiguous:               {"Ambiguous", "An entity cannot be uniquely identified based on the information provided"},
	StatusRetriesExceeded:         {"RetriesExceeded", "Something could not be accomplished with a given number of retries"},
	StatusInsufficientBufferCount: {"InsufficientBufferCount", "The operation requires more buffers"},
	StatusCustom:                  {"Custom", "User defined error"},
}

var unknownStatus = statusEntry{"Unknown", "Unknown error."}

func (s Status) entry() statusEntry {
	if s >= StatusCustom {
		return statusTable[StatusCustom]
	}
	if e, ok := statusTable[s]; ok {
		return e
	}
	return unknownStatus
}

// Kind returns the symbolic name of the status ("Busy", "NotFound", ...).
func (s Status) Kind() string { return s.entry().kind }

// Message returns the human readable description of the status.
func (s Status) Message() string { return s.entry().message }

// Error makes a Status usable as an errors.Is target.
func (s Status) Error() string {
	return fmt.Sprintf("%s (%d): %s", s.Kind(), int32(s), s.Message())
}

// Known reports whether the status is part of the closed set (or a custom code).
func (s Status) Known() bool {
	if s >= StatusCustom {
		return true
	}
	_, ok := statusTable[s]
	return ok
}

// Err converts a native status into an error, nil on success.
func (s Status) Err(op string) error {
	if s == StatusSuccess {
		return nil
	}
	return &Error{Op: op, Status: s}
}

// Error is a non-success status returned by the native runtime.
type Error struct {
	// Op is the entry point or control operation that failed.
	Op string
	// Status is the raw native status.
	Status Status
	// Cause is set for errors raised in application code (UserCallbackException).
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("vmb: %s: %s: %v", e.Op, e.Status.Kind(), e.Cause)
	}
	return fmt.Sprintf("vmb: %s: %s (%d): %s", e.Op, e.Status.Kind(), int32(e.Status), e.Status.Message())
}

// Is matches a Status target, so errors.Is(err, vmb.StatusBusy) works.
func (e *Error) Is(target error) bool {
	s, ok := target.(Status)
	return ok && s == e.Status
}

func (e *Error) Unwrap() error { return e.Cause }

// StatusOf extracts the native status carried by err, StatusSuccess if none.
func StatusOf(err error) Status {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return StatusSuccess
}

// Usage errors are raised by argument checks before any native call, so
// callers can tell "bad usage" apart from "driver rejected it".
var (
	ErrInvalidHandle   = errors.New("vmb: invalid handle")
	ErrInvalidArgument = errors.New("vmb: invalid argument")
	ErrNotLoaded       = errors.New("vmb: native library not loaded")
)

// NewCallbackError wraps a failure raised by application code inside a
// driver callback as the UserCallbackException kind.
func NewCallbackError(op string, cause error) error {
	return &Error{Op: op, Status: StatusUserCallbackException, Cause: cause}
}

// Tolerable reports whether err is a teardown-path status that leaves the
// handle in the desired end state anyway ("already done", "nothing there").
func Tolerable(err error) bool {
	return errors.Is(err, StatusAlready) ||
		errors.Is(err, StatusNotFound) ||
		errors.Is(err, StatusApiNotStarted)
}
