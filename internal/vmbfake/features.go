package vmbfake

import (
	"math"
	"slices"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/vmb"
)

// Feature is one simulated GenICam feature.
type Feature struct {
	Type  vmb.FeatureData
	Value any // bool, int64, float64, string ([]string entries for enums) or []byte

	// Min and Max bound float writes when Max > Min.
	Min, Max float64
	// Quantum rounds float writes to a multiple of it when > 0, so the
	// applied value can differ from the requested one.
	Quantum float64
	// Entries lists the accepted enum values; empty accepts anything.
	Entries []string

	NotReadable bool
	NotWritable bool
}

func (f *Feature) readable() bool { return !f.NotReadable }
func (f *Feature) writable() bool { return !f.NotWritable }

func enum(v string, entries ...string) Feature {
	return Feature{Type: vmb.FeatureDataEnum, Value: v, Entries: entries}
}

func float(v, lo, hi float64) Feature {
	return Feature{Type: vmb.FeatureDataFloat, Value: v, Min: lo, Max: hi}
}

func command() Feature { return Feature{Type: vmb.FeatureDataCommand} }

func defaultFeatures(spec Camera, overrides map[string]Feature) map[string]*Feature {
	fs := map[string]Feature{
		"DeviceLinkThroughputLimitMode": enum("On", "On", "Off"),
		"AcquisitionMode":               enum("SingleFrame", "SingleFrame", "MultiFrame", "Continuous"),
		"AcquisitionFrameRateEnable":    {Type: vmb.FeatureDataBool, Value: false},
		"AcquisitionFrameRate":          float(30, 0.1, 120),
		"ExposureTime":                  float(5000, 10, 1e7),
		"ExposureAuto":                  enum("Off", "Off", "Once", "Continuous", "On"),
		"TriggerSelector":               enum("FrameStart", "FrameStart"),
		"TriggerSource":                 enum("Software", "Software", "Line0", "Line1", "Line2", "Line3"),
		"TriggerMode":                   enum("Off", "Off", "On"),
		"TriggerActivation":             enum("RisingEdge", "RisingEdge", "FallingEdge", "AnyEdge", "LevelHigh", "LevelLow"),
		"TriggerDelay":                  float(0, 0, 1e7),
		"MaxDriverBuffersCount":         {Type: vmb.FeatureDataInt, Value: int64(64)},
		"DeviceUserID":                  {Type: vmb.FeatureDataString, Value: ""},
		"DeviceModelName":               {Type: vmb.FeatureDataString, Value: spec.Info.Model, NotWritable: true},
		"DeviceSerialNumber":            {Type: vmb.FeatureDataString, Value: spec.Info.Serial, NotWritable: true},
		"DeviceTemperature":             {Type: vmb.FeatureDataFloat, Value: 41.5, NotWritable: true},
		"Width":                         {Type: vmb.FeatureDataInt, Value: int64(spec.Width)},
		"Height":                        {Type: vmb.FeatureDataInt, Value: int64(spec.Height)},
		"PixelFormat":                   enum(spec.PixelFormat.String()),
		"PayloadSize":                   {Type: vmb.FeatureDataInt, Value: int64(spec.PayloadSize), NotWritable: true},
		"AcquisitionStart":              command(),
		"AcquisitionStop":               command(),
		"TimestampLatch":                command(),
		"TimestampReset":                command(),
		"TimestampLatchValue":           {Type: vmb.FeatureDataInt, Value: int64(0), NotWritable: true},
		"FileSelector":                  enum("UserSet1", "UserSet1", "UserData"),
		"FileOperationSelector":         enum("Open", "Open", "Close", "Read", "Write", "Delete"),
		"FileOpenMode":                  enum("Read", "Read", "Write", "ReadWrite"),
		"FileOperationExecute":          command(),
		"FileAccessBuffer":              {Type: vmb.FeatureDataRaw, Value: []byte(nil)},
		"FileOperationResult":           {Type: vmb.FeatureDataInt, Value: int64(0), NotWritable: true},
		"FileOperationStatus":           {Type: vmb.FeatureDataEnum, Value: "Success", NotWritable: true},
	}
	for name, f := range overrides {
		fs[name] = f
	}

	out := make(map[string]*Feature, len(fs))
	for name, f := range fs {
		f := f
		out[name] = &f
	}
	return out
}

// feature resolves a typed feature. Callers hold s.mu.
func (s *Service) feature(h vmb.Handle, name string, typ vmb.FeatureData) (*camera, *Feature, vmb.Status) {
	c, st := s.lookup(h)
	if st != vmb.StatusSuccess {
		return nil, nil, st
	}
	f, ok := c.features[name]
	if !ok {
		return nil, nil, vmb.StatusNotFound
	}
	if f.Type != typ {
		return nil, nil, vmb.StatusWrongType
	}
	return c, f, vmb.StatusSuccess
}

func (s *Service) read(op string, h vmb.Handle, name string, typ vmb.FeatureData) (*Feature, vmb.Status) {
	if st := s.enter(op, name); st != vmb.StatusSuccess {
		return nil, st
	}
	_, f, st := s.feature(h, name, typ)
	if st != vmb.StatusSuccess {
		return nil, st
	}
	if !f.readable() {
		return nil, vmb.StatusInvalidAccess
	}
	return f, vmb.StatusSuccess
}

func (s *Service) write(op string, h vmb.Handle, name string, typ vmb.FeatureData) (*camera, *Feature, vmb.Status) {
	if st := s.enter(op, name); st != vmb.StatusSuccess {
		return nil, nil, st
	}
	c, f, st := s.feature(h, name, typ)
	if st != vmb.StatusSuccess {
		return nil, nil, st
	}
	if !f.writable() {
		return nil, nil, vmb.StatusInvalidAccess
	}
	return c, f, vmb.StatusSuccess
}

func (s *Service) FeatureCommandRun(h vmb.Handle, name string) vmb.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, _, st := s.write("FeatureCommandRun", h, name, vmb.FeatureDataCommand)
	if st != vmb.StatusSuccess {
		return st
	}

	switch name {
	case "AcquisitionStart":
		c.acquiring = true
		c.notify()
	case "AcquisitionStop":
		c.acquiring = false
	case "TimestampLatch":
		c.features["TimestampLatchValue"].Value = int64(time.Since(c.epoch))
	case "TimestampReset":
		c.epoch = time.Now()
	case "FileOperationExecute":
		return c.fileOperation()
	}
	return vmb.StatusSuccess
}

func (s *Service) FeatureBoolSet(h vmb.Handle, name string, v bool) vmb.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, f, st := s.write("FeatureBoolSet", h, name, vmb.FeatureDataBool)
	if st == vmb.StatusSuccess {
		f.Value = v
	}
	return st
}

func (s *Service) FeatureBoolGet(h vmb.Handle, name string, v *bool) vmb.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, st := s.read("FeatureBoolGet", h, name, vmb.FeatureDataBool)
	if st == vmb.StatusSuccess {
		*v = f.Value.(bool)
	}
	return st
}

func (s *Service) FeatureIntSet(h vmb.Handle, name string, v int64) vmb.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, f, st := s.write("FeatureIntSet", h, name, vmb.FeatureDataInt)
	if st == vmb.StatusSuccess {
		f.Value = v
	}
	return st
}

func (s *Service) FeatureIntGet(h vmb.Handle, name string, v *int64) vmb.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, st := s.read("FeatureIntGet", h, name, vmb.FeatureDataInt)
	if st == vmb.StatusSuccess {
		*v = f.Value.(int64)
	}
	return st
}

func (s *Service) FeatureFloatSet(h vmb.Handle, name string, v float64) vmb.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, f, st := s.write("FeatureFloatSet", h, name, vmb.FeatureDataFloat)
	if st != vmb.StatusSuccess {
		return st
	}
	if f.Max > f.Min && (v < f.Min || v > f.Max) {
		return vmb.StatusInvalidValue
	}
	if f.Quantum > 0 {
		v = math.Round(v/f.Quantum) * f.Quantum
	}
	f.Value = v
	return vmb.StatusSuccess
}

func (s *Service) FeatureFloatGet(h vmb.Handle, name string, v *float64) vmb.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, st := s.read("FeatureFloatGet", h, name, vmb.FeatureDataFloat)
	if st == vmb.StatusSuccess {
		*v = f.Value.(float64)
	}
	return st
}

func (s *Service) FeatureFloatRangeQuery(h vmb.Handle, name string, lo, hi *float64) vmb.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, st := s.read("FeatureFloatRangeQuery", h, name, vmb.FeatureDataFloat)
	if st != vmb.StatusSuccess {
		return st
	}
	if f.Max <= f.Min {
		*lo, *hi = -math.MaxFloat64, math.MaxFloat64
		return vmb.StatusSuccess
	}
	*lo, *hi = f.Min, f.Max
	return vmb.StatusSuccess
}

func (s *Service) FeatureEnumSet(h vmb.Handle, name string, v string) vmb.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, f, st := s.write("FeatureEnumSet", h, name, vmb.FeatureDataEnum)
	if st != vmb.StatusSuccess {
		return st
	}
	if len(f.Entries) > 0 && !slices.Contains(f.Entries, v) {
		return vmb.StatusInvalidValue
	}
	f.Value = v
	return vmb.StatusSuccess
}

func (s *Service) FeatureEnumGet(h vmb.Handle, name string, v *string) vmb.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, st := s.read("FeatureEnumGet", h, name, vmb.FeatureDataEnum)
	if st == vmb.StatusSuccess {
		*v = f.Value.(string)
	}
	return st
}

func (s *Service) FeatureStringSet(h vmb.Handle, name string, v string) vmb.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, f, st := s.write("FeatureStringSet", h, name, vmb.FeatureDataString)
	if st == vmb.StatusSuccess {
		f.Value = v
	}
	return st
}

func (s *Service) FeatureStringGet(h vmb.Handle, name string, buf []byte, filled *uint32) vmb.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, st := s.read("FeatureStringGet", h, name, vmb.FeatureDataString)
	if st != vmb.StatusSuccess {
		return st
	}
	v := f.Value.(string)
	need := uint32(len(v) + 1)
	if buf == nil {
		*filled = need
		return vmb.StatusSuccess
	}
	if uint32(len(buf)) < need {
		*filled = need
		return vmb.StatusMoreData
	}
	n := copy(buf, v)
	buf[n] = 0
	*filled = need
	return vmb.StatusSuccess
}

func (s *Service) FeatureRawSet(h vmb.Handle, name string, buf []byte) vmb.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, f, st := s.write("FeatureRawSet", h, name, vmb.FeatureDataRaw)
	if st == vmb.StatusSuccess {
		f.Value = append([]byte(nil), buf...)
	}
	return st
}

func (s *Service) FeatureRawGet(h vmb.Handle, name string, buf []byte, filled *uint32) vmb.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, st := s.read("FeatureRawGet", h, name, vmb.FeatureDataRaw)
	if st != vmb.StatusSuccess {
		return st
	}
	*filled = uint32(copy(buf, f.Value.([]byte)))
	return vmb.StatusSuccess
}

func (s *Service) FeatureAccessQuery(h vmb.Handle, name string, readable, writable *bool) vmb.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.enter("FeatureAccessQuery", name); st != vmb.StatusSuccess {
		return st
	}
	c, st := s.lookup(h)
	if st != vmb.StatusSuccess {
		return st
	}
	f, ok := c.features[name]
	if !ok {
		return vmb.StatusNotFound
	}
	*readable, *writable = f.readable(), f.writable()
	return vmb.StatusSuccess
}

func (s *Service) FeatureInfoQuery(h vmb.Handle, name string, info *vmb.FeatureInfo) vmb.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.enter("FeatureInfoQuery", name); st != vmb.StatusSuccess {
		return st
	}
	c, st := s.lookup(h)
	if st != vmb.StatusSuccess {
		return st
	}
	f, ok := c.features[name]
	if !ok {
		return vmb.StatusNotFound
	}
	flags := vmb.FeatureFlagsNone
	if f.readable() {
		flags |= vmb.FeatureFlagsRead
	}
	if f.writable() {
		flags |= vmb.FeatureFlagsWrite
	}
	*info = vmb.FeatureInfo{
		Name:        name,
		DisplayName: name,
		DataType:    f.Type,
		Flags:       flags,
		Visibility:  vmb.VisibilityBeginner,
		Streamable:  f.writable(),
	}
	return vmb.StatusSuccess
}

func (s *Service) FeatureInvalidationRegister(h vmb.Handle, name string, cb vmb.InvalidationCallback) vmb.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.enter("FeatureInvalidationRegister", name); st != vmb.StatusSuccess {
		return st
	}
	c, st := s.lookup(h)
	if st != vmb.StatusSuccess {
		return st
	}
	if _, ok := c.features[name]; !ok {
		return vmb.StatusNotFound
	}
	c.invalidations[name] = cb
	return vmb.StatusSuccess
}

func (s *Service) FeatureInvalidationUnregister(h vmb.Handle, name string) vmb.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.enter("FeatureInvalidationUnregister", name); st != vmb.StatusSuccess {
		return st
	}
	c, st := s.lookup(h)
	if st != vmb.StatusSuccess {
		return st
	}
	if _, ok := c.invalidations[name]; !ok {
		return vmb.StatusNotFound
	}
	delete(c.invalidations, name)
	return vmb.StatusSuccess
}

// Set replaces a feature value from the device side and fires the
// invalidation callback registered for it, on the calling goroutine.
func (s *Service) Set(h vmb.Handle, name string, v any) bool {
	s.mu.Lock()
	c, ok := s.open[h]
	if !ok {
		s.mu.Unlock()
		return false
	}
	f, ok := c.features[name]
	if !ok {
		s.mu.Unlock()
		return false
	}
	f.Value = v
	cb := c.invalidations[name]
	s.mu.Unlock()

	if cb != nil {
		cb(h, name)
	}
	return true
}

// Value returns the current value of a feature on an open camera.
func (s *Service) Value(h vmb.Handle, name string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.open[h]
	if !ok {
		return nil, false
	}
	f, ok := c.features[name]
	if !ok {
		return nil, false
	}
	return f.Value, true
}
