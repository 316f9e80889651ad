package memutils

import "math"

// Statistics summarizes one or more address ranges: how many ranges were visited, how many
// bytes they span, and how many live allocations they hold.
type Statistics struct {
	RangeCount      int
	AllocationCount int
	RangeBytes      uint64
	AllocationBytes uint64
}

func (s *Statistics) Clear() {
	s.RangeCount = 0
	s.AllocationCount = 0
	s.RangeBytes = 0
	s.AllocationBytes = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.RangeCount += other.RangeCount
	s.AllocationCount += other.AllocationCount
	s.RangeBytes += other.RangeBytes
	s.AllocationBytes += other.AllocationBytes
}

// DetailedStatistics extends Statistics with hole counts and size extremes.
type DetailedStatistics struct {
	Statistics
	HoleCount         int
	HoleBytes         uint64
	AllocationSizeMin uint64
	AllocationSizeMax uint64
	HoleSizeMin       uint64
	HoleSizeMax       uint64
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.HoleCount = 0
	s.HoleBytes = 0
	s.AllocationSizeMin = math.MaxUint64
	s.AllocationSizeMax = 0
	s.HoleSizeMin = math.MaxUint64
	s.HoleSizeMax = 0
}

func (s *DetailedStatistics) AddHole(size uint64) {
	s.HoleCount++
	s.HoleBytes += size

	if size < s.HoleSizeMin {
		s.HoleSizeMin = size
	}

	if size > s.HoleSizeMax {
		s.HoleSizeMax = size
	}
}

func (s *DetailedStatistics) AddAllocation(size uint64) {
	s.AllocationCount++
	s.AllocationBytes += size

	if size < s.AllocationSizeMin {
		s.AllocationSizeMin = size
	}

	if size > s.AllocationSizeMax {
		s.AllocationSizeMax = size
	}
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.HoleCount += other.HoleCount
	s.HoleBytes += other.HoleBytes

	if other.HoleSizeMin < s.HoleSizeMin {
		s.HoleSizeMin = other.HoleSizeMin
	}

	if other.HoleSizeMax > s.HoleSizeMax {
		s.HoleSizeMax = other.HoleSizeMax
	}

	if other.AllocationSizeMin < s.AllocationSizeMin {
		s.AllocationSizeMin = other.AllocationSizeMin
	}

	if other.AllocationSizeMax > s.AllocationSizeMax {
		s.AllocationSizeMax = other.AllocationSizeMax
	}
}
