// Package playback provides [Player], the ordered speaker queue used by the
// pipeline. Segments are played strictly by sequence number within the
// current epoch; anything tagged with an older epoch is dropped on arrival.
package playback

// segmentHeap implements [container/heap.Interface] as a min-heap on Seq so
// that segments synthesized out of order are still released in order.
type segmentHeap []*Segment

func (h segmentHeap) Len() int           { return len(h) }
func (h segmentHeap) Less(i, j int) bool { return h[i].Seq < h[j].Seq }
func (h segmentHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

// Push is called by [container/heap.Push]; do not call directly.
func (h *segmentHeap) Push(x any) { *h = append(*h, x.(*Segment)) }

// Pop is called by [container/heap.Pop]; do not call directly.
func (h *segmentHeap) Pop() any {
	old := *h
	n := len(old)
	s := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return s
}
