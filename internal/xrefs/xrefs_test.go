package xrefs

import "testing"
import "github.com/stretchr/testify/require"

func TestTrackerCallersAndCallees(t *testing.T) {
	tr := NewTracker()
	tr.Add(XRef{From: 0x1000, To: 0x2000, Kind: KindCall})
	tr.Add(XRef{From: 0x1010, To: 0x2000, Kind: KindCall})
	tr.Add(XRef{From: 0x1000, To: 0x3000, Kind: KindDataRead})

	callers := tr.CallersOf(0x2000)
	require.ElementsMatch(t, []uint32{0x1000, 0x1010}, callers)

	callees := tr.CalleesOf(0x1000)
	require.Equal(t, []uint32{0x2000}, callees)
}

func TestTrackerKernelCallSites(t *testing.T) {
	tr := NewTracker()
	tr.Add(XRef{From: 0x1000, To: 0x9000, Kind: KindKernelCall, KernelName: "NtClose"})
	tr.Add(XRef{From: 0x1050, To: 0x9000, Kind: KindKernelCall, KernelName: "NtClose"})

	sites := tr.KernelCallersOf(0x9000)
	require.ElementsMatch(t, []uint32{0x1000, 0x1050}, sites)
}

func TestToSortedListOrdersByFrom(t *testing.T) {
	tr := NewTracker()
	tr.Add(XRef{From: 0x2000, To: 0x1, Kind: KindJump})
	tr.Add(XRef{From: 0x1000, To: 0x2, Kind: KindJump})

	list := tr.ToSortedList()
	require.Len(t, list, 2)
	require.Equal(t, uint32(0x1000), list[0].From)
	require.Equal(t, uint32(0x2000), list[1].From)
}
