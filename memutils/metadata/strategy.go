package metadata

// PlacementStrategy chooses the end of the address range that new allocations are packed against.
type PlacementStrategy uint32

const (
	// PlacementBottomUp visits holes from the lowest address upward and places the allocation at
	// the lowest suitably-aligned offset of the first hole that can hold it.
	PlacementBottomUp PlacementStrategy = iota
	// PlacementTopDown visits holes from the highest address downward and places the allocation
	// flush against the top of the first hole that can hold it, aligned downward. It is used for
	// ranges that support GPU page-fault replay, keeping them away from the bottom of the space.
	PlacementTopDown
)

var placementStrategyMapping = map[PlacementStrategy]string{
	PlacementBottomUp: "PlacementBottomUp",
	PlacementTopDown:  "PlacementTopDown",
}

func (s PlacementStrategy) String() string {
	str, ok := placementStrategyMapping[s]
	if !ok {
		return "unknown PlacementStrategy"
	}

	return str
}
