package feature

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/vmb"
)

var (
	errInvalidLine    = fmt.Errorf("feature: invalid trigger line: %w", vmb.ErrInvalidArgument)
	errInvalidProfile = fmt.Errorf("feature: invalid profile: %w", vmb.ErrInvalidArgument)

	// ErrEmptyUserData is returned when writing an empty user-data file.
	ErrEmptyUserData = errors.New("feature: empty user data")
)

// WriteUserData replaces the device user-data file with data, starting at
// offset zero: delete, open for write, write, close.
func (a *Access) WriteUserData(data []byte) error {
	if len(data) == 0 {
		return ErrEmptyUserData
	}
	if err := a.setEnum(FileSelector, userDataFile); err != nil {
		return err
	}
	if err := a.fileOp("Delete"); err != nil {
		return err
	}
	if err := a.openFile("Write"); err != nil {
		return err
	}
	defer a.closeFile()

	if err := a.setEnum(FileOperationSelector, "Write"); err != nil {
		return err
	}
	if err := a.rt.SetRaw(a.h, FileAccessBuffer, data); err != nil {
		return fmt.Errorf("feature: set %s: %w", FileAccessBuffer, err)
	}
	return a.run(FileOperationExecute)
}

// ReadUserData reads up to size bytes of the device user-data file.
func (a *Access) ReadUserData(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("feature: read %d bytes: %w", size, vmb.ErrInvalidArgument)
	}
	if err := a.setEnum(FileSelector, userDataFile); err != nil {
		return nil, err
	}
	if err := a.openFile("Read"); err != nil {
		return nil, err
	}
	defer a.closeFile()

	if err := a.fileOp("Read"); err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	n, err := a.rt.Raw(a.h, FileAccessBuffer, buf)
	if err != nil {
		return nil, fmt.Errorf("feature: get %s: %w", FileAccessBuffer, err)
	}
	return buf[:n], nil
}

func (a *Access) openFile(mode string) error {
	if err := a.setEnum(FileOperationSelector, "Open"); err != nil {
		return err
	}
	if err := a.setEnum(FileOpenMode, mode); err != nil {
		return err
	}
	return a.run(FileOperationExecute)
}

func (a *Access) closeFile() {
	if err := a.fileOp("Close"); err != nil {
		slog.Warn("feature: failed to close user data file", "handle", a.h.String(), "error", err)
	}
}

func (a *Access) fileOp(op string) error {
	if err := a.setEnum(FileOperationSelector, op); err != nil {
		return err
	}
	return a.run(FileOperationExecute)
}

// Temperature returns the device temperature in degrees Celsius.
func (a *Access) Temperature() (float64, error) {
	v, err := a.rt.Float(a.h, DeviceTemperature)
	if err != nil {
		return 0, fmt.Errorf("feature: get %s: %w", DeviceTemperature, err)
	}
	return v, nil
}

// WatchTemperature calls fn with the new reading each time the device
// reports a temperature change. fn runs on a runtime thread. The returned
// function unregisters the watch.
func (a *Access) WatchTemperature(fn func(celsius float64)) (func() error, error) {
	if fn == nil {
		return nil, fmt.Errorf("feature: nil temperature watcher: %w", vmb.ErrInvalidArgument)
	}

	cb := func(h vmb.Handle, name string) {
		v, err := a.rt.Float(h, name)
		if err != nil {
			slog.Warn("feature: temperature read failed", "handle", h.String(), "error", err)
			return
		}
		a.notify(h, fn, v)
	}
	if err := a.rt.RegisterInvalidation(a.h, DeviceTemperature, cb); err != nil {
		return nil, fmt.Errorf("feature: watch %s: %w", DeviceTemperature, err)
	}

	return func() error {
		if err := a.rt.UnregisterInvalidation(a.h, DeviceTemperature); err != nil {
			return fmt.Errorf("feature: unwatch %s: %w", DeviceTemperature, err)
		}
		return nil
	}, nil
}

// notify runs a watcher on the runtime thread. A panic is logged and
// counted, never unwound into the runtime.
func (a *Access) notify(h vmb.Handle, fn func(float64), v float64) {
	defer func() {
		if r := recover(); r != nil {
			a.watchErrors.Add(1)
			err := vmb.NewCallbackError("WatchTemperature", fmt.Errorf("panic: %v", r))
			slog.Error("feature: temperature watcher failed", "handle", h.String(), "error", err)
		}
	}()
	fn(v)
}

// WatchErrors returns how many watcher calls panicked.
func (a *Access) WatchErrors() uint64 { return a.watchErrors.Load() }
