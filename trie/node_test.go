package trie

import (
	"math/rand/v2"
	"testing"

	"github.com/paprikadb/paprika/nibblepath"
	"github.com/paprikadb/paprika/page"
)

// fakeAllocator is a minimal single-batch Allocator for exercising node.go
// without pulling in pagedb (which itself imports trie).
type fakeAllocator struct {
	batchID uint32
	bufs    []*[page.Size]byte
	written map[page.Addr]bool
}

func newFakeAllocator() *fakeAllocator {
	return &fakeAllocator{batchID: 1, written: map[page.Addr]bool{}}
}

func (f *fakeAllocator) GetAt(addr page.Addr) page.Page {
	return page.New(f.bufs[addr][:])
}

func (f *fakeAllocator) BatchID() uint32 { return f.batchID }

func (f *fakeAllocator) GetNewPage(clear bool) (page.Page, page.Addr) {
	addr := page.Addr(len(f.bufs))
	f.bufs = append(f.bufs, new([page.Size]byte))
	p := page.New(f.bufs[addr][:])

	if clear {
		p.Clear(f.batchID, page.TypeFree, 0)
	} else {
		p.SetBatchID(f.batchID)
	}

	f.written[addr] = true

	return p, addr
}

func (f *fakeAllocator) EnsureWritableCopy(addr *page.Addr) page.Page {
	if !addr.Valid() {
		p, newAddr := f.GetNewPage(true)
		*addr = newAddr

		return p
	}

	if f.written[*addr] {
		return f.GetAt(*addr)
	}

	src := f.GetAt(*addr)
	dst, newAddr := f.GetNewPage(false)
	dst.CopyFrom(src)
	dst.SetBatchID(f.batchID)
	*addr = newAddr

	return dst
}

func (f *fakeAllocator) RegisterForFutureReuse(_ page.Addr) {}

func keyOf(t *testing.T, nibs ...byte) nibblepath.Path {
	t.Helper()

	p := nibblepath.Empty()
	for _, n := range nibs {
		scratch := make([]byte, p.Len()/2+2)
		p = p.AppendNibble(n, scratch)
	}

	return p
}

func randKey(rnd *rand.Rand, length int) nibblepath.Path {
	p := nibblepath.Empty()

	for i := 0; i < length; i++ {
		scratch := make([]byte, p.Len()/2+2)
		p = p.AppendNibble(byte(rnd.IntN(16)), scratch) //nolint:gosec
	}

	return p
}

func Test_Set_TryGet_Round_Trips_A_Single_Key(t *testing.T) {
	a := newFakeAllocator()
	root := page.Null

	key := keyOf(t, 1, 2, 3)
	Set(a, &root, key, []byte("hello"))

	v, ok := TryGet(a.GetAt, root, key)
	if !ok || string(v) != "hello" {
		t.Fatalf("TryGet = %q, %v; want hello, true", v, ok)
	}
}

func Test_Set_Delete_Then_TryGet_Reports_Absent(t *testing.T) {
	a := newFakeAllocator()
	root := page.Null

	key := keyOf(t, 4, 5, 6, 7)
	Set(a, &root, key, []byte("x"))
	Set(a, &root, key, nil)

	if _, ok := TryGet(a.GetAt, root, key); ok {
		t.Fatalf("expected key absent after delete")
	}
}

func Test_Set_Many_Keys_Triggers_Leaf_Overflow_And_Fanout_Promotion(t *testing.T) {
	a := newFakeAllocator()
	root := page.Null

	rnd := rand.New(rand.NewPCG(1, 2))
	want := map[string][]byte{}

	for i := 0; i < 500; i++ {
		k := randKey(rnd, 6+rnd.IntN(10))
		v := make([]byte, 8+rnd.IntN(40))
		for j := range v {
			v[j] = byte(rnd.Uint32())
		}

		Set(a, &root, k, v)
		want[k.String()] = v
	}

	for ks, v := range want {
		k := keyFromHexString(t, ks)

		got, ok := TryGet(a.GetAt, root, k)
		if !ok {
			t.Fatalf("key %s: not found after insertion", ks)
		}

		if string(got) != string(v) {
			t.Fatalf("key %s: got %x want %x", ks, got, v)
		}
	}

	rootNode := node{p: a.GetAt(root)}
	if rootNode.mode() != modeFanout {
		t.Fatalf("expected root to have promoted to fan-out mode after 500 inserts, still in mode %d", rootNode.mode())
	}
}

func Test_DeleteByPrefix_Removes_Only_Matching_Keys(t *testing.T) {
	a := newFakeAllocator()
	root := page.Null

	keep := keyOf(t, 0xA, 1, 2)
	drop1 := keyOf(t, 0xB, 1, 2)
	drop2 := keyOf(t, 0xB, 3, 4, 5)

	Set(a, &root, keep, []byte("keep"))
	Set(a, &root, drop1, []byte("drop1"))
	Set(a, &root, drop2, []byte("drop2"))

	DeleteByPrefix(a, &root, keyOf(t, 0xB))

	if _, ok := TryGet(a.GetAt, root, drop1); ok {
		t.Fatalf("drop1 should have been removed")
	}

	if _, ok := TryGet(a.GetAt, root, drop2); ok {
		t.Fatalf("drop2 should have been removed")
	}

	v, ok := TryGet(a.GetAt, root, keep)
	if !ok || string(v) != "keep" {
		t.Fatalf("keep was removed or corrupted: %q, %v", v, ok)
	}
}

func Test_Clear_Resets_A_Page_To_An_Empty_Leaf(t *testing.T) {
	a := newFakeAllocator()

	p, addr := a.GetNewPage(true)
	initFreshNode(p, 0)

	n := node{p: p}
	n.setMode(modeFanout)
	n.setChildAddr(3, page.Addr(7))

	Clear(a.GetAt(addr))

	n2 := node{p: a.GetAt(addr)}
	if n2.mode() != modeLeaf {
		t.Fatalf("expected leaf mode after Clear, got %d", n2.mode())
	}

	if n2.childAddr(3).Valid() {
		t.Fatalf("expected child address reset to Null after Clear")
	}
}

func keyFromHexString(t *testing.T, s string) nibblepath.Path {
	t.Helper()

	p := nibblepath.Empty()

	for i := 0; i < len(s); i++ {
		var n byte

		switch c := s[i]; {
		case c >= '0' && c <= '9':
			n = c - '0'
		case c >= 'a' && c <= 'f':
			n = c - 'a' + 10
		default:
			t.Fatalf("unexpected hex nibble %q in %q", c, s)
		}

		scratch := make([]byte, p.Len()/2+2)
		p = p.AppendNibble(n, scratch)
	}

	return p
}
