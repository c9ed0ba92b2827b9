package catalogue

import "github.com/google/uuid"

// Kind distinguishes a hardware kernel instance from a software one.
type Kind int

const (
	KindHardware Kind = iota
	KindSoftware
)

// Channel is one in-flight allocation record on a CU. A channel with zero
// load is free.
type Channel struct {
	Index        int
	ClientID     uint64
	ProcessID    int
	ServiceID    uint64
	PoolID       uint64 // 0 == default pool
	Load         int    // unified load, 0..MaxUnifiedLoad
	LoadOriginal int    // the caller's encoding, echoed back in responses
}

// Free reports whether the channel currently holds no allocation.
func (c *Channel) Free() bool {
	return c.Load == 0 && c.ClientID == 0
}

// Reserve is one reservation slot on a CU.
type Reserve struct {
	PoolID    uint64
	Total     int // unified load reserved
	Used      int // unified load actually consumed inside the reservation
	ClientID  uint64
	ProcessID int
	Active    bool
}

// CU is one kernel instance on a device.
type CU struct {
	Index        int
	KernelName   string
	KernelAlias  string
	InstanceName string
	CUName       string // fully-qualified "kernel:instance"
	Kind         Kind
	MaxCapacity  int // max-capacity hint, unified units
	MemBank      int

	Channels []Channel
	Reserves []Reserve

	TotalUsedLoad         int
	TotalReservedLoad     int
	TotalReservedUsedLoad int

	// Clients counts, per client id, how many non-free channels it holds on
	// this CU. A key is present iff the count is > 0.
	Clients map[uint64]int
}

func newCU(index int, img ImageCU) CU {
	return CU{
		Index:        index,
		KernelName:   img.KernelName,
		KernelAlias:  img.KernelAlias,
		InstanceName: img.InstanceName,
		CUName:       img.KernelName + ":" + img.InstanceName,
		Kind:         img.Kind,
		MaxCapacity:  img.MaxCapacity,
		MemBank:      img.MemBank,
		Channels:     make([]Channel, MaxChannelsPerCU),
		Reserves:     make([]Reserve, 0, MaxReservesPerCU),
		Clients:      make(map[uint64]int),
	}
}

// AddClientChannel records that clientID now holds one more non-free
// channel on this CU.
func (cu *CU) AddClientChannel(clientID uint64) {
	cu.Clients[clientID]++
}

// RemoveClientChannel records that clientID gave up one non-free channel on
// this CU, dropping it from the client set once the count reaches zero.
func (cu *CU) RemoveClientChannel(clientID uint64) {
	if cu.Clients[clientID] <= 1 {
		delete(cu.Clients, clientID)
		return
	}
	cu.Clients[clientID]--
}

// FreeChannelIndex returns the index of the first free channel slot, or -1
// if the CU's channel table is full.
func (cu *CU) FreeChannelIndex() int {
	for i := range cu.Channels {
		if cu.Channels[i].Free() {
			return i
		}
	}
	return -1
}

// FindReserve returns a pointer to the active reserve with the given pool
// id on this CU, or nil.
func (cu *CU) FindReserve(poolID uint64) *Reserve {
	if poolID == 0 {
		return nil
	}
	for i := range cu.Reserves {
		if cu.Reserves[i].Active && cu.Reserves[i].PoolID == poolID {
			return &cu.Reserves[i]
		}
	}
	return nil
}

// Idle reports whether the CU has no channels in use and no active
// reserves (used by the load-onto-idle-device paths).
func (cu *CU) Idle() bool {
	if cu.TotalUsedLoad != 0 || cu.TotalReservedLoad != 0 {
		return false
	}
	return true
}

// ClientRef tracks one client's hold on a device, exclusive or not.
type ClientRef struct {
	ClientID  uint64
	ProcessID int
	Ref       int
}

// Device is one hardware card.
type Device struct {
	Index     int
	Disabled  bool
	Loaded    bool
	ImageName string
	ImageUUID uuid.UUID

	Exclusive       bool
	ExclusiveClient uint64

	// Clients holds up to MaxClientsPerDevice distinct clients, keyed by
	// client id; while the device is exclusive, its holder is the only
	// entry.
	Clients map[uint64]*ClientRef

	CUs []CU
}

func newDevice(index int) Device {
	return Device{
		Index:   index,
		Clients: make(map[uint64]*ClientRef),
	}
}

// Busy reports whether any client currently holds anything on the device:
// a registration, a seated channel, or an active reserve.
func (d *Device) Busy() bool {
	if d.Exclusive || len(d.Clients) > 0 {
		return true
	}
	for i := range d.CUs {
		if !d.CUs[i].Idle() {
			return true
		}
	}
	return false
}

// ImageCU describes one CU as parsed out of a loaded image, the shape the
// image-loader collaborator hands back.
type ImageCU struct {
	KernelName   string
	KernelAlias  string
	InstanceName string
	Kind         Kind
	MaxCapacity  int
	MemBank      int
}

// Load populates the device from a parsed image, replacing any CUs from a
// previously loaded image. Load does not check the disabled bit or busy
// state; callers (internal/allocator) enforce those before calling it.
func (d *Device) Load(imageName string, imageUUID uuid.UUID, cus []ImageCU) {
	d.ImageName = imageName
	d.ImageUUID = imageUUID
	d.Loaded = true
	d.CUs = make([]CU, len(cus))
	for i, c := range cus {
		d.CUs[i] = newCU(i, c)
	}
}

// Unload clears the device back to present-unloaded, dropping all CUs,
// channels and reserves. Callers are responsible for recycling any clients
// holding resources on this device first.
func (d *Device) Unload() {
	d.Loaded = false
	d.ImageName = ""
	d.ImageUUID = uuid.UUID{}
	d.CUs = nil
	d.Exclusive = false
	d.ExclusiveClient = 0
	d.Clients = make(map[uint64]*ClientRef)
}

// CUDescriptor is the caller-supplied match + request shape used by every
// allocation and reservation verb.
type CUDescriptor struct {
	KernelName  string
	KernelAlias string
	CUName      string

	Exclusive           bool
	RequestLoad         int // unified
	RequestLoadOriginal int // as the caller encoded it, for echo only
	PoolID              uint64

	// DeviceID, VirtualDeviceID and MemBank are V2 policy constraints.
	// -1 means "unconstrained".
	DeviceID        int
	VirtualDeviceID int
	MemBank         int

	// Policy is a best-effort placement preference; it never weakens the
	// capacity check.
	Policy Policy

	ClientID  uint64
	ProcessID int
}

// Policy selects a best-effort CU/device preference ordering (V2).
type Policy int

const (
	PolicyNone Policy = iota
	PolicyMostUsedFirst
	PolicyLeastUsedFirst
)

// HasMatchField reports whether the descriptor names at least one of
// kernel name, kernel alias and CU name; a request naming none of them is
// unanswerable and gets refused.
func (d *CUDescriptor) HasMatchField() bool {
	return d.KernelName != "" || d.KernelAlias != "" || d.CUName != ""
}

// UDFGroup is a named template of ordered option lists.
type UDFGroup struct {
	Name        string
	OptionLists [][]CUDescriptor
}

// Catalogue is the in-memory device/CU/group model. It carries no lock of
// its own.
type Catalogue struct {
	Devices []Device
	Groups  map[string]UDFGroup
}

// New builds an empty catalogue with numDevices present-but-unloaded
// devices.
func New(numDevices int) *Catalogue {
	if numDevices > MaxDevices {
		numDevices = MaxDevices
	}
	c := &Catalogue{
		Devices: make([]Device, numDevices),
		Groups:  make(map[string]UDFGroup),
	}
	for i := range c.Devices {
		c.Devices[i] = newDevice(i)
	}
	return c
}

// Device returns a pointer to the device at index id, or an
// invalid-argument error if id is out of range.
func (c *Catalogue) Device(id int) (*Device, error) {
	if id < 0 || id >= len(c.Devices) {
		return nil, ErrInvalidArgument
	}
	return &c.Devices[id], nil
}

// CU returns a pointer to CU cuID on device devID.
func (c *Catalogue) CU(devID, cuID int) (*CU, error) {
	dev, err := c.Device(devID)
	if err != nil {
		return nil, err
	}
	if cuID < 0 || cuID >= len(dev.CUs) {
		return nil, ErrInvalidArgument
	}
	return &dev.CUs[cuID], nil
}
