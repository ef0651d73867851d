package kdb

import (
	"fmt"
	mrand "math/rand"
)

var sequenceCharSet = []byte("0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_abcdefghijklmnopqrstuvwxyz")

// SequenceGenerator produces strictly increasing update sequence ids. Ids
// compare in byte order, so the newest change always sorts last.
type SequenceGenerator struct {
	len     int
	current []int
	number  int
}

// NewSequenceGenerator continues after seed, or starts at a random point
// when seed is empty. It panics when seed does not have length l.
func NewSequenceGenerator(l int, seedNumber int, seed string) *SequenceGenerator {
	seq := &SequenceGenerator{len: l, number: seedNumber}
	if seed == "" {
		for i := 0; i < l; i++ {
			seq.current = append(seq.current, mrand.Intn(len(sequenceCharSet)/2))
		}
		return seq
	}
	if l != len(seed) {
		panic("seed value has to match len")
	}
	for _, x := range []byte(seed) {
		for j, y := range sequenceCharSet {
			if x == y {
				seq.current = append(seq.current, j)
			}
		}
	}
	return seq
}

// Next returns the following sequence number and id. It panics once the
// id space is exhausted.
func (seq *SequenceGenerator) Next() (int, string) {
	for i := seq.len - 1; i >= 0; i-- {
		t := seq.current[i] + 1
		if t < len(sequenceCharSet) {
			seq.current[i] = t
			break
		}
		if i == 0 {
			panic("sequence exhausted")
		}
		seq.current[i] = 0
	}

	v := make([]byte, seq.len)
	for i := 0; i < seq.len; i++ {
		v[i] = sequenceCharSet[seq.current[i]]
	}
	seq.number++
	return seq.number, string(v)
}

func formatSeq(number int, id string) string {
	if id == "" {
		return "0"
	}
	return fmt.Sprintf("%d-%s", number, id)
}
