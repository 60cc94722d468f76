package codeql

import (
	"runtime"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// systemReservedMemoryMB is left to the OS when the ram input is not set.
const systemReservedMemoryMB = 256

// Host reports machine capacity. Tests replace it.
type Host interface {
	TotalMemoryBytes() (uint64, error)
	LogicalCPUs() (int, error)
}

// SystemHost reads capacity through gopsutil.
type SystemHost struct{}

func (SystemHost) TotalMemoryBytes() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, errors.Wrap(err, "read total memory")
	}
	return vm.Total, nil
}

func (SystemHost) LogicalCPUs() (int, error) {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		return runtime.NumCPU(), nil
	}
	return n, nil
}

// MemoryMB returns the --ram value in megabytes. A user value must be a
// positive number; otherwise total memory minus a reserve is used.
func MemoryMB(input string, host Host) (int, error) {
	input = strings.TrimSpace(input)
	if input != "" {
		v, err := strconv.ParseFloat(input, 64)
		if err != nil || v <= 0 {
			return 0, errors.Newf("invalid RAM setting %q, specified", input)
		}
		return int(v), nil
	}
	total, err := host.TotalMemoryBytes()
	if err != nil {
		return 0, err
	}
	mb := int(total/(1024*1024)) - systemReservedMemoryMB
	if mb < 1 {
		mb = 1
	}
	return mb, nil
}

// Threads returns the --threads value. User values are clamped to
// [-ncpu, ncpu]; negative values mean "leave that many cores free".
func Threads(input string, host Host, logger *zap.SugaredLogger) (int, error) {
	maxThreads, err := host.LogicalCPUs()
	if err != nil {
		return 0, err
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return maxThreads, nil
	}
	n, err := strconv.Atoi(input)
	if err != nil {
		return 0, errors.Newf("invalid threads setting %q, specified", input)
	}
	if n > maxThreads {
		logger.Infof("Clamping desired number of threads (%d) to max available (%d).", n, maxThreads)
		n = maxThreads
	}
	if minThreads := -maxThreads; n < minThreads {
		logger.Infof("Clamping desired number of free threads (%d) to max available (%d).", n, minThreads)
		n = minThreads
	}
	return n, nil
}
