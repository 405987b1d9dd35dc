package ble

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ScanForLamps scans for peripherals advertising a Hello Fairy name.
// Results are de-duplicated by address and ordered strongest signal first.
func ScanForLamps(ctx context.Context, adapter Adapter, timeout time.Duration) ([]Device, error) {
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	devices, err := adapter.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}

	seen := make(map[string]bool)
	var lamps []Device
	for _, d := range devices {
		if !IsLamp(d) {
			continue
		}
		key := normalizeAddress(d.Address)
		if seen[key] {
			continue
		}
		seen[key] = true
		lamps = append(lamps, d)
	}
	sort.SliceStable(lamps, func(i, j int) bool { return lamps[i].RSSI > lamps[j].RSSI })
	return lamps, nil
}

// IsLamp reports whether the advertised name identifies a Hello Fairy lamp.
func IsLamp(d Device) bool {
	return strings.Contains(strings.ToLower(d.Name), strings.ToLower(NameFilter))
}
