package mac

import (
	"fmt"
	"math/bits"
)

// Buffers holds the dense, read-only schedule tables built once per
// scheduler:
//
//	bitmap[action][subcarrier][ue]    1 if ue is scheduled
//	index [action][subcarrier][slot]  ue id occupying a stream slot
//
// Every subcarrier row of an action currently carries the same membership;
// rows are stored per subcarrier so heterogeneous allocations can be written
// without changing the lookup side.
type Buffers struct {
	actions     int
	ues         int
	streams     int
	subcarriers int

	bitmap []uint8
	index  []int32
}

// BufferFootprint returns the number of bytes the bitmap and index tables
// need for the given dimensions.
func BufferFootprint(actions, ues, streams, subcarriers int) (uint64, error) {
	if actions < 0 || ues < 0 || streams < 0 || subcarriers < 0 {
		return 0, fmt.Errorf("%w: negative buffer dimension", ErrConfig)
	}
	rows, err := mulChecked(uint64(actions), uint64(subcarriers))
	if err != nil {
		return 0, err
	}
	bitmapBytes, err := mulChecked(rows, uint64(ues))
	if err != nil {
		return 0, err
	}
	indexCells, err := mulChecked(rows, uint64(streams))
	if err != nil {
		return 0, err
	}
	indexBytes, err := mulChecked(indexCells, 4)
	if err != nil {
		return 0, err
	}
	total, carry := bits.Add64(bitmapBytes, indexBytes, 0)
	if carry != 0 {
		return 0, fmt.Errorf("%w: buffer size overflows", ErrResourceExhausted)
	}
	return total, nil
}

func mulChecked(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, fmt.Errorf("%w: buffer size overflows", ErrResourceExhausted)
	}
	return lo, nil
}

// CheckFootprint fails with ErrResourceExhausted when the tables for the
// given dimensions would exceed maxBytes.
func CheckFootprint(actions, ues, streams, subcarriers int, maxBytes uint64) (uint64, error) {
	size, err := BufferFootprint(actions, ues, streams, subcarriers)
	if err != nil {
		return 0, err
	}
	if size > maxBytes {
		return 0, fmt.Errorf("%w: %d actions x %d subcarriers x (%d ues + %d streams) needs %d bytes, ceiling is %d",
			ErrResourceExhausted, actions, subcarriers, ues, streams, size, maxBytes)
	}
	return size, nil
}

// BuildBuffers materializes the schedule tables for set. The footprint is
// checked against maxBytes before allocating.
func BuildBuffers(set *ActionSet, subcarriers int, maxBytes uint64) (*Buffers, error) {
	if set == nil {
		return nil, fmt.Errorf("%w: nil action set", ErrConfig)
	}
	if subcarriers <= 0 {
		return nil, fmt.Errorf("%w: subcarriers must be positive, got %d", ErrConfig, subcarriers)
	}
	if _, err := CheckFootprint(set.Len(), set.UEs(), set.Streams(), subcarriers, maxBytes); err != nil {
		return nil, err
	}

	b := &Buffers{
		actions:     set.Len(),
		ues:         set.UEs(),
		streams:     set.Streams(),
		subcarriers: subcarriers,
	}
	b.bitmap = make([]uint8, b.actions*subcarriers*b.ues)
	b.index = make([]int32, b.actions*subcarriers*b.streams)

	for a := 0; a < b.actions; a++ {
		users := set.Users(a)
		first := b.mapRow(a, 0)
		for _, u := range users {
			first[u] = 1
		}
		copy(b.indexRow(a, 0), users)
		for sc := 1; sc < subcarriers; sc++ {
			copy(b.mapRow(a, sc), first)
			copy(b.indexRow(a, sc), users)
		}
	}
	return b, nil
}

func (b *Buffers) mapRow(action, sc int) []uint8 {
	off := (action*b.subcarriers + sc) * b.ues
	return b.bitmap[off : off+b.ues : off+b.ues]
}

func (b *Buffers) indexRow(action, sc int) []int32 {
	off := (action*b.subcarriers + sc) * b.streams
	return b.index[off : off+b.streams : off+b.streams]
}

// Map returns the membership bitmap for (action, sc). Indices are not
// validated; callers check them first. The slice must not be modified.
func (b *Buffers) Map(action, sc int) []uint8 { return b.mapRow(action, sc) }

// Index returns the stream slot to user table for (action, sc). Indices are
// not validated; callers check them first. The slice must not be modified.
func (b *Buffers) Index(action, sc int) []int32 { return b.indexRow(action, sc) }

// Member reports whether ue is scheduled on sc under action.
func (b *Buffers) Member(action, sc, ue int) bool {
	return b.bitmap[(action*b.subcarriers+sc)*b.ues+ue] == 1
}

// Actions returns the number of action rows.
func (b *Buffers) Actions() int { return b.actions }

// Subcarriers returns the number of subcarrier rows per action.
func (b *Buffers) Subcarriers() int { return b.subcarriers }

// Bytes returns the memory held by both tables.
func (b *Buffers) Bytes() uint64 {
	return uint64(len(b.bitmap)) + 4*uint64(len(b.index))
}
