// Package resourceguard is the admission-control boundary cmd/pwsd uses to
// reject new WebSocket upgrades, and pause new jet-channel TCP dials, when
// the host is under CPU pressure. It has no notion of the
// persistent-websocket protocol itself.
package resourceguard

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
)

// Guard samples CPU usage relative to the container's cgroup CPU quota (if
// any) on an interval, and exposes cheap lock-protected checks for the
// request/dial paths to call without touching /proc or gopsutil themselves.
type Guard struct {
	log            zerolog.Logger
	rejectPercent  float64 // reject new WebSocket upgrades above this
	pausePercent   float64 // pause new jet-channel TCP dials above this
	sampleInterval time.Duration

	cgroup *cgroupCPU // nil when no cgroup CPU controller could be detected

	mu      sync.RWMutex
	percent float64
}

// New constructs a Guard. pausePercent is clamped to be >= rejectPercent,
// matching the "pause above a higher threshold than reject" ordering
// admission control is specified to use.
func New(log zerolog.Logger, rejectPercent, pausePercent float64, sampleInterval time.Duration) *Guard {
	if sampleInterval <= 0 {
		sampleInterval = 5 * time.Second
	}
	if pausePercent < rejectPercent {
		pausePercent = rejectPercent
	}
	g := &Guard{log: log, rejectPercent: rejectPercent, pausePercent: pausePercent, sampleInterval: sampleInterval}
	cg, err := newCgroupCPU()
	if err != nil {
		log.Info().Err(err).Msg("no cgroup CPU controller detected, falling back to host-wide CPU sampling")
	} else {
		g.cgroup = cg
	}
	return g
}

// Run samples CPU usage until ctx is cancelled. Intended to run in its own
// goroutine for the lifetime of the server process.
func (g *Guard) Run(ctx context.Context) {
	ticker := time.NewTicker(g.sampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			percent, err := g.sample(ctx)
			if err != nil {
				g.log.Debug().Err(err).Msg("cpu sample failed")
				continue
			}
			g.mu.Lock()
			g.percent = percent
			g.mu.Unlock()
		}
	}
}

func (g *Guard) sample(ctx context.Context) (float64, error) {
	if g.cgroup != nil {
		return g.cgroup.percent()
	}
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil || len(percents) == 0 {
		return 0, fmt.Errorf("host cpu sample: %w", err)
	}
	return percents[0], nil
}

// Allow reports whether a new WebSocket upgrade should be admitted.
func (g *Guard) Allow() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.percent < g.rejectPercent
}

// AllowJetDial reports whether a new jet-channel TCP dial should proceed.
// This threshold sits above Allow's, so a host already rejecting new
// connections but still serving existing ones keeps forwarding traffic a
// little longer before pausing it too.
func (g *Guard) AllowJetDial() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.percent < g.pausePercent
}

// Percent returns the most recently sampled CPU usage percentage, relative
// to the detected cgroup CPU quota if any, or whole-host usage otherwise.
func (g *Guard) Percent() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.percent
}

// cgroupCPU computes CPU usage as a percentage of the container's
// allocated CPU quota by reading cgroup accounting files directly, the
// same v1/v2 detection this codebase's teacher uses for container-aware
// admission control.
type cgroupCPU struct {
	mu             sync.Mutex
	path           string
	version        int // 1 or 2
	numCPUsAlloc   float64
	lastUsageUsec  uint64
	lastSampleTime time.Time
}

func newCgroupCPU() (*cgroupCPU, error) {
	path, version, err := detectCgroupPath()
	if err != nil {
		return nil, err
	}
	quota, period, err := readCPUQuota(path, version)
	if err != nil {
		return nil, err
	}
	numCPUs := float64(runtime.NumCPU())
	if quota > 0 && period > 0 {
		numCPUs = float64(quota) / float64(period)
	}
	usage, err := readCPUUsage(path, version)
	if err != nil {
		return nil, err
	}
	return &cgroupCPU{
		path:           path,
		version:        version,
		numCPUsAlloc:   numCPUs,
		lastUsageUsec:  usage,
		lastSampleTime: time.Now(),
	}, nil
}

// percent returns CPU usage as a percentage of the cgroup's allocated
// CPUs (100 == fully using the quota), normalizing raw multi-core usage
// the way the container's own scheduler would throttle it.
func (cc *cgroupCPU) percent() (float64, error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	now := time.Now()
	elapsedUsec := now.Sub(cc.lastSampleTime).Microseconds()
	if elapsedUsec <= 0 {
		return 0, fmt.Errorf("sample interval too small")
	}

	usage, err := readCPUUsage(cc.path, cc.version)
	if err != nil {
		return 0, err
	}
	usageDelta := usage - cc.lastUsageUsec
	cc.lastUsageUsec = usage
	cc.lastSampleTime = now

	rawPercent := (float64(usageDelta) / float64(elapsedUsec)) * 100.0
	return rawPercent / cc.numCPUsAlloc, nil
}

func detectCgroupPath() (path string, version int, err error) {
	file, err := os.Open("/proc/self/cgroup")
	if err != nil {
		return "", 0, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		parts := strings.Split(scanner.Text(), ":")
		if len(parts) != 3 {
			continue
		}
		hierarchyID, controllers, cgroupPath := parts[0], parts[1], parts[2]
		if hierarchyID == "0" && controllers == "" {
			return "/sys/fs/cgroup" + cgroupPath, 2, nil
		}
		if strings.Contains(controllers, "cpu") {
			return "/sys/fs/cgroup/cpu" + cgroupPath, 1, nil
		}
	}
	return "", 0, fmt.Errorf("could not detect cgroup CPU controller")
}

func readCPUQuota(cgroupPath string, version int) (quota, period int64, err error) {
	if version == 2 {
		data, err := os.ReadFile(cgroupPath + "/cpu.max")
		if err != nil {
			return 0, 0, err
		}
		fields := strings.Fields(string(data))
		if len(fields) != 2 {
			return 0, 0, fmt.Errorf("unexpected cpu.max format: %s", string(data))
		}
		if fields[0] == "max" {
			return -1, 0, nil
		}
		quota, err = strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return 0, 0, err
		}
		period, err = strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, 0, err
		}
		return quota, period, nil
	}

	quotaData, err := os.ReadFile(cgroupPath + "/cpu.cfs_quota_us")
	if err != nil {
		return 0, 0, err
	}
	periodData, err := os.ReadFile(cgroupPath + "/cpu.cfs_period_us")
	if err != nil {
		return 0, 0, err
	}
	quota, err = strconv.ParseInt(strings.TrimSpace(string(quotaData)), 10, 64)
	if err != nil {
		return 0, 0, err
	}
	period, err = strconv.ParseInt(strings.TrimSpace(string(periodData)), 10, 64)
	if err != nil {
		return 0, 0, err
	}
	return quota, period, nil
}

func readCPUUsage(cgroupPath string, version int) (uint64, error) {
	if version == 2 {
		file, err := os.Open(cgroupPath + "/cpu.stat")
		if err != nil {
			return 0, err
		}
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "usage_usec ") {
				fields := strings.Fields(line)
				if len(fields) == 2 {
					return strconv.ParseUint(fields[1], 10, 64)
				}
			}
		}
		return 0, fmt.Errorf("usage_usec not found in cpu.stat")
	}

	data, err := os.ReadFile(cgroupPath + "/cpuacct.usage")
	if err != nil {
		return 0, err
	}
	nanos, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, err
	}
	return nanos / 1000, nil // nanoseconds -> microseconds, matching cgroup v2's unit
}
