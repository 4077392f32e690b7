package vmbfake

import "github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/vmb"

// userFile simulates the device file selected by FileSelector=UserData.
// Reads and writes go through the FileAccessBuffer raw feature.
type userFile struct {
	data   []byte
	isOpen bool
	mode   string
}

// fileOperation executes FileOperationSelector on the selected file.
// Callers hold s.mu.
func (c *camera) fileOperation() vmb.Status {
	if c.features["FileSelector"].Value.(string) != "UserData" {
		return c.fileResult(vmb.StatusNotSupported, 0)
	}

	f := &c.file
	switch op := c.features["FileOperationSelector"].Value.(string); op {
	case "Open":
		if f.isOpen {
			return c.fileResult(vmb.StatusInvalidCall, 0)
		}
		f.isOpen = true
		f.mode = c.features["FileOpenMode"].Value.(string)
		return c.fileResult(vmb.StatusSuccess, 0)
	case "Close":
		f.isOpen = false
		return c.fileResult(vmb.StatusSuccess, 0)
	case "Delete":
		if f.isOpen {
			return c.fileResult(vmb.StatusInvalidCall, 0)
		}
		f.data = nil
		return c.fileResult(vmb.StatusSuccess, 0)
	case "Write":
		if !f.isOpen || f.mode == "Read" {
			return c.fileResult(vmb.StatusInvalidCall, 0)
		}
		buf := c.features["FileAccessBuffer"].Value.([]byte)
		f.data = append([]byte(nil), buf...)
		return c.fileResult(vmb.StatusSuccess, int64(len(buf)))
	case "Read":
		if !f.isOpen || f.mode == "Write" {
			return c.fileResult(vmb.StatusInvalidCall, 0)
		}
		c.features["FileAccessBuffer"].Value = append([]byte(nil), f.data...)
		return c.fileResult(vmb.StatusSuccess, int64(len(f.data)))
	default:
		return c.fileResult(vmb.StatusInvalidValue, 0)
	}
}

func (c *camera) fileResult(st vmb.Status, n int64) vmb.Status {
	if st == vmb.StatusSuccess {
		c.features["FileOperationStatus"].Value = "Success"
	} else {
		c.features["FileOperationStatus"].Value = "Failure"
	}
	c.features["FileOperationResult"].Value = n
	return st
}
