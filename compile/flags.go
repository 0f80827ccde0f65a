package compile

import (
	"strconv"

	"github.com/gpukit/gpukit/options"
)

// FlagsFromOptions translates the typed option table into ahead-of-time
// compiler flags, in table order. Identifiers without a compiler-level
// equivalent (log buffers, link targets, fallback strategy) are skipped;
// they configure the link step, which the artifact format here does not
// reach.
func FlagsFromOptions(o *options.Options) []string {
	if o == nil {
		return nil
	}
	var flags []string
	for _, id := range o.Keys() {
		switch id {
		case options.MaxRegisters:
			flags = append(flags, "-maxrregcount="+strconv.Itoa(int(o.GetInt(id))))
		case options.OptimizationLevel:
			flags = append(flags, "-O"+strconv.Itoa(int(o.GetInt(id))))
		case options.GenerateDebugInfo:
			if o.GetInt(id) != 0 {
				flags = append(flags, "-G")
			}
		case options.GenerateLineInfo:
			if o.GetInt(id) != 0 {
				flags = append(flags, "-lineinfo")
			}
		case options.LogVerbose:
			if o.GetInt(id) != 0 {
				flags = append(flags, "--verbose")
			}
		}
	}
	return flags
}
