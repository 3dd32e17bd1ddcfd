package ocr

import (
	"fmt"
	"sort"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/spherical/doc-ingest/internal/config"
)

// DPIPolicy picks a rendering resolution from the memory currently available.
type DPIPolicy func(availableBytes uint64) float64

// MemoryProbe reports available system memory in bytes.
type MemoryProbe func() (uint64, error)

// Tier selects DPI when at least MinAvailableBytes are free.
type Tier struct {
	MinAvailableBytes uint64
	DPI               float64
}

// MinDPI is the floor every policy respects.
const MinDPI = 72

// TieredDPI returns a policy choosing the DPI of the highest tier whose
// threshold is met. Below every threshold the lowest tier's DPI is used.
func TieredDPI(tiers []Tier) DPIPolicy {
	sorted := make([]Tier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].MinAvailableBytes > sorted[j].MinAvailableBytes
	})

	return func(available uint64) float64 {
		if len(sorted) == 0 {
			return MinDPI
		}
		for _, t := range sorted {
			if available >= t.MinAvailableBytes {
				return clampDPI(t.DPI)
			}
		}
		return clampDPI(sorted[len(sorted)-1].DPI)
	}
}

// FixedDPI returns a policy that ignores memory.
func FixedDPI(dpi float64) DPIPolicy {
	dpi = clampDPI(dpi)
	return func(uint64) float64 { return dpi }
}

// PolicyFromConfig builds the configured policy. A positive fixed DPI wins
// over tiers.
func PolicyFromConfig(cfg config.OCRConfig) DPIPolicy {
	if cfg.FixedDPI > 0 {
		return FixedDPI(cfg.FixedDPI)
	}
	tiers := make([]Tier, 0, len(cfg.DPITiers))
	for _, t := range cfg.DPITiers {
		tiers = append(tiers, Tier{MinAvailableBytes: t.MinAvailableMB << 20, DPI: t.DPI})
	}
	return TieredDPI(tiers)
}

// SystemMemory reads available memory from the operating system.
func SystemMemory() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, fmt.Errorf("read virtual memory: %w", err)
	}
	return vm.Available, nil
}

func clampDPI(dpi float64) float64 {
	if dpi < MinDPI {
		return MinDPI
	}
	return dpi
}
