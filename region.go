package plthook

// Region is a bounds-checked WritableMemory over a byte slice that stands in
// for memory mapped at Base. Every access must fall entirely inside
// [Base, Base+len(Data)).
//
// Region doesn't change any real protection. Protection requests are checked
// and recorded in Protections.
type Region struct {
	Base uint64
	Data []byte

	Protections []Protection

	// protect, when set, is called after a protection request passes the
	// bounds check.
	protect func(prot int) error
}

// Protection is a recorded protection change request.
type Protection struct {
	Addr   uint64
	Length uint64
	Prot   int
}

// NewRegion returns a Region viewing data as if it were mapped at base.
func NewRegion(base uint64, data []byte) *Region {
	return &Region{Base: base, Data: data}
}

func (r *Region) extent() extent {
	return extent{start: r.Base, end: r.Base + uint64(len(r.Data))}
}

func (r *Region) slice(addr, length uint64) ([]byte, error) {
	if !r.extent().contains(addr, length) {
		return nil, outOfBounds(addr, length)
	}
	off := addr - r.Base
	return r.Data[off : off+length], nil
}

func (r *Region) ReadAt(p []byte, addr uint64) error {
	src, err := r.slice(addr, uint64(len(p)))
	if err != nil {
		return err
	}
	copy(p, src)
	return nil
}

// Protect records the request. Only the start of the range has to be inside
// the region since the patcher always asks for whole pages.
func (r *Region) Protect(addr, length uint64, prot int) error {
	if !r.extent().contains(addr, 1) {
		return outOfBounds(addr, length)
	}
	r.Protections = append(r.Protections, Protection{Addr: addr, Length: length, Prot: prot})
	if r.protect != nil {
		return r.protect(prot)
	}
	return nil
}

func (r *Region) WriteWord(addr, value uint64) error {
	dst, err := r.slice(addr, wordSize)
	if err != nil {
		return err
	}
	byteOrder.PutUint64(dst, value)
	return nil
}
