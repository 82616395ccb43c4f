package service

import "github.com/bits-and-blooms/bitset"

// freePool indexes held numbers of one raffle. It is rebuilt under the
// raffle lock for every reservation and never cached.
type freePool struct {
	total uint
	held  *bitset.BitSet
}

func newFreePool(total int64, held []int64) *freePool {
	size := uint(0)
	if total > 0 {
		size = uint(total)
	}
	pool := &freePool{total: size, held: bitset.New(size + 1)}
	for _, n := range held {
		if n >= 1 && uint(n) <= size {
			pool.held.Set(uint(n))
		}
	}
	return pool
}

// lowest returns the smallest n free numbers in ascending order, or false
// when fewer than n remain.
func (p *freePool) lowest(n int) ([]int64, bool) {
	if n <= 0 {
		return nil, false
	}
	picked := make([]int64, 0, n)
	for i := uint(1); i <= p.total && len(picked) < n; i++ {
		if !p.held.Test(i) {
			picked = append(picked, int64(i))
		}
	}
	return picked, len(picked) == n
}
