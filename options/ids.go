package options

import "strconv"

// ID identifies a link/compile option understood by the native
// "compile or link with options" call. The set is closed: the native side
// marshals the table into parallel (count, keys[], values[]) arrays, so only
// identifiers the driver knows about may appear.
//
// Each ID documents the value type it carries. Reading an ID with the wrong
// typed getter yields that getter's zero value, never an error.
type ID int32

const (
	// MaxRegisters caps registers per thread. Int value.
	MaxRegisters ID = iota
	// ThreadsPerBlock is the minimum thread count the compiler should
	// optimize for. Int value.
	ThreadsPerBlock
	// WallTime receives the elapsed compile/link time in milliseconds.
	// Float value, written by the native side.
	WallTime
	// InfoLog receives informational log output. Byte-sequence value.
	InfoLog
	// InfoLogSize sizes the info log buffer. Int value.
	InfoLogSize
	// ErrorLog receives error log output. Byte-sequence value.
	ErrorLog
	// ErrorLogSize sizes the error log buffer. Int value.
	ErrorLogSize
	// OptimizationLevel selects 0-4, default 4. Int value.
	OptimizationLevel
	// TargetFromContext derives the compile target from the current
	// context. Unvalued.
	TargetFromContext
	// Target selects an explicit compile target architecture. Int value.
	Target
	// FallbackStrategy chooses behavior when an exact match is
	// unavailable. Int value.
	FallbackStrategy
	// GenerateDebugInfo embeds debug information. Int value (0/1).
	GenerateDebugInfo
	// LogVerbose enables verbose log output. Int value (0/1).
	LogVerbose
	// GenerateLineInfo embeds line number information. Int value (0/1).
	GenerateLineInfo
	// CacheMode controls dcache usage. Int value.
	CacheMode
)

var idNames = map[ID]string{
	MaxRegisters:      "MaxRegisters",
	ThreadsPerBlock:   "ThreadsPerBlock",
	WallTime:          "WallTime",
	InfoLog:           "InfoLog",
	InfoLogSize:       "InfoLogSize",
	ErrorLog:          "ErrorLog",
	ErrorLogSize:      "ErrorLogSize",
	OptimizationLevel: "OptimizationLevel",
	TargetFromContext: "TargetFromContext",
	Target:            "Target",
	FallbackStrategy:  "FallbackStrategy",
	GenerateDebugInfo: "GenerateDebugInfo",
	LogVerbose:        "LogVerbose",
	GenerateLineInfo:  "GenerateLineInfo",
	CacheMode:         "CacheMode",
}

func (id ID) String() string {
	if name, ok := idNames[id]; ok {
		return name
	}
	return "ID(" + strconv.Itoa(int(id)) + ")"
}
