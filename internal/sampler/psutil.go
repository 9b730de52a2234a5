package sampler

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sync/errgroup"

	"github.com/psantana5/governor/internal/pattern"
)

// Options configures a PsutilSampler
type Options struct {
	// Concurrency bounds per-pid detail queries within one pass
	Concurrency int

	// Timeout bounds one pass (0 = no extra deadline)
	Timeout time.Duration

	// Exclude is added to the governor's own pid and ancestors
	Exclude []int

	// Now overrides the sample clock (tests)
	Now func() time.Time
}

// PsutilSampler reads the process table through gopsutil.
type PsutilSampler struct {
	concurrency int
	timeout     time.Duration
	excluded    map[int]bool
	now         func() time.Time

	// Processes are kept between passes so CPU percent is a per-tick delta.
	mu    sync.Mutex
	cache map[int32]*cachedProcess
}

type cachedProcess struct {
	proc    *process.Process
	created int64
}

// NewPsutilSampler creates a sampler that never reports the calling process
// or any of its ancestors.
func NewPsutilSampler(opts Options) *PsutilSampler {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	excluded := make(map[int]bool)
	for _, pid := range Ancestors(context.Background(), os.Getpid()) {
		excluded[pid] = true
	}
	for _, pid := range opts.Exclude {
		excluded[pid] = true
	}

	return &PsutilSampler{
		concurrency: opts.Concurrency,
		timeout:     opts.Timeout,
		excluded:    excluded,
		now:         opts.Now,
		cache:       make(map[int32]*cachedProcess),
	}
}

// Excluded reports whether pid is never sampled.
func (s *PsutilSampler) Excluded(pid int) bool {
	return s.excluded[pid]
}

// Sample queries every process the selector names.
func (s *PsutilSampler) Sample(ctx context.Context, sel Selector) (*Result, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	candidates, explicit, err := s.candidates(ctx, sel)
	if err != nil {
		return nil, err
	}

	type outcome struct {
		sample *ProcessSample
		err    error
		pid    int
		done   bool
	}
	outcomes := make([]outcome, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, pid := range candidates {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			sample, err := s.sampleOne(gctx, pid, explicit[pid], sel.Patterns)
			outcomes[i] = outcome{sample: sample, err: err, pid: int(pid), done: true}
			return nil
		})
	}
	g.Wait()

	res := &Result{}
	seen := make(map[int32]bool, len(candidates))
	for _, o := range outcomes {
		if !o.done {
			res.Partial = true
			continue
		}
		switch classify(o.err) {
		case errNone:
			if o.sample != nil {
				res.Samples = append(res.Samples, *o.sample)
				seen[int32(o.sample.PID)] = true
			}
		case errVanished:
		case errDenied:
			res.Denied = append(res.Denied, &DeniedError{PID: o.pid, Err: o.err})
		default:
			if ctx.Err() != nil {
				res.Partial = true
				continue
			}
			res.Failed = append(res.Failed, o.err)
		}
	}
	if ctx.Err() != nil {
		res.Partial = true
	}

	sort.Slice(res.Samples, func(i, j int) bool {
		return res.Samples[i].PID < res.Samples[j].PID
	})

	if !res.Partial {
		s.prune(seen)
	}
	return res, nil
}

// candidates lists pids to query. Pattern selectors require the whole table.
func (s *PsutilSampler) candidates(ctx context.Context, sel Selector) ([]int32, map[int32]bool, error) {
	explicit := make(map[int32]bool, len(sel.PIDs))
	var pids []int32

	for _, pid := range sel.PIDs {
		if s.excluded[pid] || explicit[int32(pid)] {
			continue
		}
		explicit[int32(pid)] = true
		pids = append(pids, int32(pid))
	}

	if len(sel.Patterns) == 0 {
		return pids, explicit, nil
	}

	all, err := process.PidsWithContext(ctx)
	if err != nil {
		return nil, nil, err
	}
	for _, pid := range all {
		if s.excluded[int(pid)] || explicit[pid] {
			continue
		}
		pids = append(pids, pid)
	}
	return pids, explicit, nil
}

func (s *PsutilSampler) sampleOne(ctx context.Context, pid int32, explicit bool, patterns []string) (*ProcessSample, error) {
	fresh, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return nil, err
	}

	cmdline, err := fresh.CmdlineWithContext(ctx)
	if err != nil {
		return nil, err
	}
	if cmdline == "" {
		// kernel threads and zombies have no argv
		if cmdline, err = fresh.NameWithContext(ctx); err != nil {
			return nil, err
		}
	}
	if !explicit && !pattern.MatchAny(patterns, cmdline) {
		return nil, nil
	}

	created, err := fresh.CreateTimeWithContext(ctx)
	if err != nil {
		return nil, err
	}
	proc := s.track(pid, created, fresh)

	mi, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return nil, err
	}
	cpu, err := proc.PercentWithContext(ctx, 0)
	if err != nil {
		return nil, err
	}

	now := s.now()
	started := time.UnixMilli(created)
	return &ProcessSample{
		PID:        int(pid),
		RssMB:      bytesToMB(mi.RSS),
		CPUPercent: cpu,
		Command:    cmdline,
		SampledAt:  now,
		StartedAt:  started,
		Elapsed:    now.Sub(started),
	}, nil
}

// track returns the cached process for pid, replacing it when the pid now
// belongs to a different process.
func (s *PsutilSampler) track(pid int32, created int64, fresh *process.Process) *process.Process {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.cache[pid]; ok && c.created == created {
		return c.proc
	}
	s.cache[pid] = &cachedProcess{proc: fresh, created: created}
	return fresh
}

func (s *PsutilSampler) prune(seen map[int32]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for pid := range s.cache {
		if !seen[pid] {
			delete(s.cache, pid)
		}
	}
}
