package mac

import (
	"fmt"
	"math"
	"math/bits"
)

// ActionSet is the immutable universe of user combinations, stored as one
// flat table of count*streams user ids in lexicographic order. The action id
// is the row number and is the only identifier shared with the buffers.
type ActionSet struct {
	ues     int
	streams int
	count   int
	users   []int32
}

// Binomial returns C(n, k). Results that do not fit in an int are reported
// as ErrResourceExhausted.
func Binomial(n, k int) (int, error) {
	if n < 0 || k < 0 {
		return 0, fmt.Errorf("%w: negative combination size n=%d k=%d", ErrConfig, n, k)
	}
	if k > n {
		return 0, fmt.Errorf("%w: cannot choose %d of %d users", ErrConfig, k, n)
	}
	if k > n-k {
		k = n - k
	}
	r := uint64(1)
	for i := 0; i < k; i++ {
		hi, lo := bits.Mul64(r, uint64(n-i))
		if hi != 0 {
			return 0, fmt.Errorf("%w: C(%d, %d) overflows", ErrResourceExhausted, n, k)
		}
		r = lo / uint64(i+1)
	}
	if r > math.MaxInt {
		return 0, fmt.Errorf("%w: C(%d, %d) overflows", ErrResourceExhausted, n, k)
	}
	return int(r), nil
}

// ForEachCombination walks every k-subset of {0..n-1} in lexicographic order.
// fn receives the action id and a scratch slice that is only valid for the
// duration of the call.
func ForEachCombination(n, k int, fn func(id int, users []int32)) error {
	if _, err := Binomial(n, k); err != nil {
		return err
	}
	combo := make([]int32, k)
	for i := range combo {
		combo[i] = int32(i)
	}
	for id := 0; ; id++ {
		fn(id, combo)
		if !nextCombination(combo, n) {
			return nil
		}
	}
}

// nextCombination advances combo to its lexicographic successor in place.
// It returns false once combo was the last combination.
func nextCombination(combo []int32, n int) bool {
	k := len(combo)
	i := k - 1
	for i >= 0 && int(combo[i]) == n-k+i {
		i--
	}
	if i < 0 {
		return false
	}
	combo[i]++
	for j := i + 1; j < k; j++ {
		combo[j] = combo[j-1] + 1
	}
	return true
}

// Enumerate builds the ActionSet for choosing k of n users. k == 0 yields a
// single empty action.
func Enumerate(n, k int) (*ActionSet, error) {
	count, err := Binomial(n, k)
	if err != nil {
		return nil, err
	}
	if count > MaxActions {
		return nil, fmt.Errorf("%w: %d actions exceed limit %d", ErrResourceExhausted, count, MaxActions)
	}
	set := &ActionSet{
		ues:     n,
		streams: k,
		count:   count,
		users:   make([]int32, count*k),
	}
	err = ForEachCombination(n, k, func(id int, users []int32) {
		copy(set.users[id*k:(id+1)*k], users)
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}

// Len returns actions_num.
func (s *ActionSet) Len() int { return s.count }

// UEs returns the user population the set was built for.
func (s *ActionSet) UEs() int { return s.ues }

// Streams returns the number of users per action.
func (s *ActionSet) Streams() int { return s.streams }

// Users returns the ordered user ids of action id. The slice aliases the
// set's table and must not be modified. It returns nil for an unknown id.
func (s *ActionSet) Users(id int) []int32 {
	if id < 0 || id >= s.count {
		return nil
	}
	return s.users[id*s.streams : (id+1)*s.streams : (id+1)*s.streams]
}

// Contains reports whether user ue is part of action id.
func (s *ActionSet) Contains(id, ue int) bool {
	for _, u := range s.Users(id) {
		if int(u) == ue {
			return true
		}
	}
	return false
}
