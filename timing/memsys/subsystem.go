package memsys

import (
	akitacache "github.com/sarchlab/akita/v4/mem/cache"
)

// SubsystemConfig configures the built-in latency subsystem.
type SubsystemConfig struct {
	// HitLatency is the completion latency for granules resident in
	// the directory.
	HitLatency uint64 `json:"hit_latency"`

	// MissLatency is the completion latency for granules that must be
	// fetched from backing memory.
	MissLatency uint64 `json:"miss_latency"`

	// Directory geometry.
	Size          int `json:"size"`
	Associativity int `json:"associativity"`
	BlockSize     int `json:"block_size"`
}

// DefaultSubsystemConfig returns an L1-vector-cache-like timing
// contract: fast granule reuse, expensive first touch.
func DefaultSubsystemConfig() SubsystemConfig {
	return SubsystemConfig{
		HitLatency:    24,
		MissLatency:   200,
		Size:          16 * 1024,
		Associativity: 4,
		BlockSize:     64,
	}
}

type scheduled struct {
	due    uint64
	handle string
}

// LatencySubsystem is the default memory-subsystem collaborator. It
// models granule reuse with an LRU directory and completes each
// request after a hit or miss latency, delivered in lockstep with the
// core's cycle loop.
type LatencySubsystem struct {
	cfg       SubsystemConfig
	directory *akitacache.DirectoryImpl
	sink      interface{ Complete(handle string) error }

	cycle   uint64
	pending []scheduled

	hits   uint64
	misses uint64
}

// NewLatencySubsystem creates the subsystem. Bind must be called
// before the first Submit.
func NewLatencySubsystem(cfg SubsystemConfig) *LatencySubsystem {
	numSets := cfg.Size / (cfg.Associativity * cfg.BlockSize)
	return &LatencySubsystem{
		cfg: cfg,
		directory: akitacache.NewDirectory(
			numSets,
			cfg.Associativity,
			cfg.BlockSize,
			akitacache.NewLRUVictimFinder(),
		),
	}
}

// Bind attaches the completion sink (the core's request interface).
func (s *LatencySubsystem) Bind(sink interface{ Complete(handle string) error }) {
	s.sink = sink
}

// MinLatency implements Subsystem.
func (s *LatencySubsystem) MinLatency() uint64 {
	return s.cfg.HitLatency
}

// Submit implements Subsystem. The request's completion is scheduled
// at the current cycle plus its hit or miss latency.
func (s *LatencySubsystem) Submit(req *Request) {
	lat := s.cfg.MissLatency

	blockAddr := (req.GranuleAddr / uint64(s.cfg.BlockSize)) * uint64(s.cfg.BlockSize)
	block := s.directory.Lookup(0, blockAddr)
	if block != nil && block.IsValid {
		s.hits++
		s.directory.Visit(block)
		lat = s.cfg.HitLatency
	} else {
		s.misses++
		victim := s.directory.FindVictim(blockAddr)
		if victim != nil {
			victim.Tag = blockAddr
			victim.IsValid = true
			victim.IsDirty = req.Store
			s.directory.Visit(victim)
		}
	}

	s.pending = append(s.pending, scheduled{due: s.cycle + lat, handle: req.Handle})
}

// Tick implements CycleDriven: it delivers every completion due at or
// before the given cycle, in schedule order.
func (s *LatencySubsystem) Tick(cycle uint64) error {
	s.cycle = cycle

	remaining := s.pending[:0]
	var due []string
	for _, p := range s.pending {
		if p.due <= cycle {
			due = append(due, p.handle)
		} else {
			remaining = append(remaining, p)
		}
	}
	s.pending = remaining

	for _, handle := range due {
		if err := s.sink.Complete(handle); err != nil {
			return err
		}
	}
	return nil
}

// Hits and Misses expose the directory statistics.
func (s *LatencySubsystem) Hits() uint64   { return s.hits }
func (s *LatencySubsystem) Misses() uint64 { return s.misses }

// Reset drops all scheduled completions and directory statistics.
func (s *LatencySubsystem) Reset() {
	s.pending = nil
	s.cycle = 0
	s.hits = 0
	s.misses = 0
}
