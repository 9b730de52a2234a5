package sampler

import (
	"context"

	"github.com/shirou/gopsutil/v3/process"
)

// Ancestors returns pid followed by its parent chain up to the root.
// Unreadable links end the walk early.
func Ancestors(ctx context.Context, pid int) []int {
	var chain []int
	seen := make(map[int]bool)

	current := pid
	for current > 0 {
		if seen[current] {
			break // loop protection
		}
		seen[current] = true
		chain = append(chain, current)

		if current == 1 {
			break
		}

		p, err := process.NewProcessWithContext(ctx, int32(current))
		if err != nil {
			break
		}
		ppid, err := p.PpidWithContext(ctx)
		if err != nil {
			break
		}
		current = int(ppid)
	}

	return chain
}
