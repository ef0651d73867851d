package kdb

import (
	"strings"
	"testing"
)

func TestNewSequence(t *testing.T) {
	seqGen := NewSequenceGenerator(sequenceLength, 0, "")
	_, currentSeqID := seqGen.Next()
	for i := 0; i < 100000; i++ {
		_, nextSeqID := seqGen.Next()
		if currentSeqID >= nextSeqID {
			t.Fatalf("seq order missing: %s >= %s", currentSeqID, nextSeqID)
		}
		currentSeqID = nextSeqID
	}
}

func TestSequenceContinuesFromSeed(t *testing.T) {
	seqGen := NewSequenceGenerator(3, 7, "00z")
	number, id := seqGen.Next()
	if number != 8 {
		t.Errorf("expected number 8, got %d", number)
	}
	if id != "010" {
		t.Errorf("expected 010, got %s", id)
	}
	if formatSeq(number, id) != "8-010" {
		t.Errorf("unexpected formatted seq %s", formatSeq(number, id))
	}
	if formatSeq(0, "") != "0" {
		t.Errorf("expected empty seq to format as 0")
	}
}

func TestNewSequenceNoMatchLen(t *testing.T) {
	assertPanic(t, func() { NewSequenceGenerator(2, 0, "1") })
}

func TestNewSequenceEndOfWorld(t *testing.T) {
	a := NewSequenceGenerator(2, 0, "zz")
	assertPanic(t, func() { a.Next() })
}

func assertPanic(t *testing.T, f func()) {
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("The code did not panic")
		}
	}()
	f()
}

func TestDocumentIDsAreSortable(t *testing.T) {
	ids := UUIDs(1000)
	if len(ids) != 1000 {
		t.Fatalf("expected 1000 ids, got %d", len(ids))
	}
	for i := 1; i < len(ids); i++ {
		if ids[i-1] >= ids[i] {
			t.Fatalf("ids out of order: %s >= %s", ids[i-1], ids[i])
		}
		if strings.ToLower(ids[i]) != ids[i] {
			t.Errorf("expected lowercase id, got %s", ids[i])
		}
	}
	if len(UUIDs(0)) != 1 {
		t.Errorf("expected at least one id")
	}
}
