package vmb

import (
	"fmt"
	"unsafe"
)

// Handle is an opaque native handle (camera, stream, transport layer).
// The zero value is never valid.
type Handle uintptr

// Valid reports whether h can be passed to the runtime.
func (h Handle) Valid() bool { return h != 0 }

func (h Handle) String() string { return fmt.Sprintf("0x%x", uintptr(h)) }

// AccessMode is the access level requested when opening a camera.
type AccessMode uint32

const (
	AccessModeNone      AccessMode = 0
	AccessModeFull      AccessMode = 1
	AccessModeRead      AccessMode = 2
	AccessModeUnknown   AccessMode = 4
	AccessModeExclusive AccessMode = 8
)

func (m AccessMode) String() string {
	switch m {
	case AccessModeNone:
		return "none"
	case AccessModeFull:
		return "full"
	case AccessModeRead:
		return "read"
	case AccessModeExclusive:
		return "exclusive"
	default:
		return "unknown"
	}
}

// VersionInfo mirrors VmbVersionInfo_t.
type VersionInfo struct {
	Major uint32
	Minor uint32
	Patch uint32
}

func (v VersionInfo) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

const versionInfoSize = uint32(unsafe.Sizeof(VersionInfo{}))

// CameraInfo describes one camera found by CamerasList.
type CameraInfo struct {
	ID              string
	ExtendedID      string
	Name            string
	Model           string
	Serial          string
	TransportLayer  Handle
	Interface       Handle
	LocalDevice     Handle
	StreamCount     uint32
	PermittedAccess AccessMode
}

// FeatureData is the value type of a feature.
type FeatureData uint32

const (
	FeatureDataUnknown FeatureData = 0
	FeatureDataInt     FeatureData = 1
	FeatureDataFloat   FeatureData = 2
	FeatureDataEnum    FeatureData = 3
	FeatureDataString  FeatureData = 4
	FeatureDataBool    FeatureData = 5
	FeatureDataCommand FeatureData = 6
	FeatureDataRaw     FeatureData = 7
	FeatureDataNone    FeatureData = 8
)

func (d FeatureData) String() string {
	switch d {
	case FeatureDataInt:
		return "int"
	case FeatureDataFloat:
		return "float"
	case FeatureDataEnum:
		return "enum"
	case FeatureDataString:
		return "string"
	case FeatureDataBool:
		return "bool"
	case FeatureDataCommand:
		return "command"
	case FeatureDataRaw:
		return "raw"
	case FeatureDataNone:
		return "none"
	default:
		return "unknown"
	}
}

// FeatureFlags is the access bitmask reported by FeatureInfoQuery.
type FeatureFlags uint32

const (
	FeatureFlagsNone        FeatureFlags = 0
	FeatureFlagsRead        FeatureFlags = 1
	FeatureFlagsWrite       FeatureFlags = 2
	FeatureFlagsVolatile    FeatureFlags = 8
	FeatureFlagsModifyWrite FeatureFlags = 16
)

// Has reports whether all bits of f are set.
func (ff FeatureFlags) Has(f FeatureFlags) bool { return ff&f == f }

// Visibility is the GenICam visibility level of a feature.
type Visibility uint32

const (
	VisibilityUnknown   Visibility = 0
	VisibilityBeginner  Visibility = 1
	VisibilityExpert    Visibility = 2
	VisibilityGuru      Visibility = 3
	VisibilityInvisible Visibility = 4
)

// FeatureInfo describes a single feature.
type FeatureInfo struct {
	Name                string
	Category            string
	DisplayName         string
	Tooltip             string
	Description         string
	SFNCNamespace       string
	Unit                string
	Representation      string
	DataType            FeatureData
	Flags               FeatureFlags
	PollingTime         uint32
	Visibility          Visibility
	Streamable          bool
	HasSelectedFeatures bool
}

// cameraInfoRaw mirrors VmbCameraInfo_t (80 bytes on 64-bit targets).
type cameraInfoRaw struct {
	cameraIDString       uintptr
	cameraIDExtended     uintptr
	cameraName           uintptr
	modelName            uintptr
	serialString         uintptr
	transportLayerHandle uintptr
	interfaceHandle      uintptr
	localDeviceHandle    uintptr
	streamHandles        uintptr
	streamCount          uint32
	permittedAccess      uint32
}

const cameraInfoSize = uint32(unsafe.Sizeof(cameraInfoRaw{}))

func (r *cameraInfoRaw) decode() CameraInfo {
	return CameraInfo{
		ID:              goString(r.cameraIDString),
		ExtendedID:      goString(r.cameraIDExtended),
		Name:            goString(r.cameraName),
		Model:           goString(r.modelName),
		Serial:          goString(r.serialString),
		TransportLayer:  Handle(r.transportLayerHandle),
		Interface:       Handle(r.interfaceHandle),
		LocalDevice:     Handle(r.localDeviceHandle),
		StreamCount:     r.streamCount,
		PermittedAccess: AccessMode(r.permittedAccess),
	}
}

// featureInfoRaw mirrors VmbFeatureInfo_t (88 bytes on 64-bit targets).
type featureInfoRaw struct {
	name                uintptr
	category            uintptr
	displayName         uintptr
	tooltip             uintptr
	description         uintptr
	sfncNamespace       uintptr
	unit                uintptr
	representation      uintptr
	featureDataType     uint32
	featureFlags        uint32
	pollingTime         uint32
	visibility          uint32
	isStreamable        uint8
	hasSelectedFeatures uint8
}

const featureInfoSize = uint32(unsafe.Sizeof(featureInfoRaw{}))

func (r *featureInfoRaw) decode() FeatureInfo {
	return FeatureInfo{
		Name:                goString(r.name),
		Category:            goString(r.category),
		DisplayName:         goString(r.displayName),
		Tooltip:             goString(r.tooltip),
		Description:         goString(r.description),
		SFNCNamespace:       goString(r.sfncNamespace),
		Unit:                goString(r.unit),
		Representation:      goString(r.representation),
		DataType:            FeatureData(r.featureDataType),
		Flags:               FeatureFlags(r.featureFlags),
		PollingTime:         r.pollingTime,
		Visibility:          Visibility(r.visibility),
		Streamable:          r.isStreamable != 0,
		HasSelectedFeatures: r.hasSelectedFeatures != 0,
	}
}

// goString copies a NUL-terminated C string owned by the runtime.
func goString(p uintptr) string {
	if p == 0 {
		return ""
	}
	base := unsafe.Pointer(p)
	n := 0
	for *(*byte)(unsafe.Add(base, n)) != 0 {
		n++
	}
	return string(unsafe.Slice((*byte)(base), n))
}
