package vam

// AllocateAddressCallback is called after a Space hands out an address range
type AllocateAddressCallback func(
	space *Space,
	partition Partition,
	address uint64,
	size uint64,
	userData interface{},
)

// FreeAddressCallback is called after an address range has been returned to its Space
type FreeAddressCallback func(
	space *Space,
	partition Partition,
	address uint64,
	size uint64,
	userData interface{},
)

type CallbackOptions struct {
	Allocate AllocateAddressCallback
	Free     FreeAddressCallback
	UserData interface{}
}

type addressCallbacks struct {
	Callbacks *CallbackOptions
	Space     *Space
}

func (c *addressCallbacks) Allocate(
	partition Partition,
	address uint64,
	size uint64,
) {
	if c.Callbacks != nil && c.Callbacks.Allocate != nil {
		c.Callbacks.Allocate(c.Space, partition, address, size, c.Callbacks.UserData)
	}
}

func (c *addressCallbacks) Free(
	partition Partition,
	address uint64,
	size uint64,
) {
	if c.Callbacks != nil && c.Callbacks.Free != nil {
		c.Callbacks.Free(c.Space, partition, address, size, c.Callbacks.UserData)
	}
}
