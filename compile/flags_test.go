package compile

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gpukit/gpukit/options"
)

func TestFlagsFromOptions(t *testing.T) {
	o := options.New()
	o.PutInt(options.MaxRegisters, 32)
	o.PutInt(options.OptimizationLevel, 3)
	o.PutInt(options.GenerateLineInfo, 1)
	o.PutInt(options.GenerateDebugInfo, 0)
	o.PutInt(options.Target, 75) // link-time option, no compiler flag

	assert.Equal(t,
		[]string{"-maxrregcount=32", "-O3", "-lineinfo"},
		FlagsFromOptions(o))
}

func TestFlagsFromOptionsNil(t *testing.T) {
	assert.Nil(t, FlagsFromOptions(nil))
	assert.Nil(t, FlagsFromOptions(options.New()))
}

func TestFlagsFollowTableOrder(t *testing.T) {
	o := options.New()
	o.PutInt(options.OptimizationLevel, 2)
	o.PutInt(options.MaxRegisters, 64)

	assert.Equal(t, []string{"-O2", "-maxrregcount=64"}, FlagsFromOptions(o))
}
