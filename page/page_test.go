package page_test

import (
	"testing"

	"github.com/paprikadb/paprika/page"
)

func freshBuf() []byte {
	return make([]byte, page.Size)
}

func Test_Page_New_Panics_On_Wrong_Size(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for wrong-sized buffer")
		}
	}()

	page.New(make([]byte, page.Size-1))
}

func Test_Page_Header_Fields_Round_Trip(t *testing.T) {
	t.Parallel()

	p := page.New(freshBuf())

	p.SetBatchID(0xDEADBEEF)
	p.SetVersion(page.CurrentVersion)
	p.SetType(page.TypeDataPage)
	p.SetLevel(7)
	p.SetMetadata(0x3)

	if got := p.BatchID(); got != 0xDEADBEEF {
		t.Fatalf("BatchID() = %#x, want %#x", got, 0xDEADBEEF)
	}

	if got := p.Version(); got != page.CurrentVersion {
		t.Fatalf("Version() = %d, want %d", got, page.CurrentVersion)
	}

	if got := p.Type(); got != page.TypeDataPage {
		t.Fatalf("Type() = %v, want %v", got, page.TypeDataPage)
	}

	if got := p.Level(); got != 7 {
		t.Fatalf("Level() = %d, want 7", got)
	}

	if got := p.Metadata(); got != 0x3 {
		t.Fatalf("Metadata() = %d, want 3", got)
	}
}

func Test_Page_Payload_Is_Buffer_After_Header(t *testing.T) {
	t.Parallel()

	buf := freshBuf()
	p := page.New(buf)

	payload := p.Payload()
	if len(payload) != page.Size-page.HeaderSize {
		t.Fatalf("Payload() len = %d, want %d", len(payload), page.Size-page.HeaderSize)
	}

	payload[0] = 0x42
	if buf[page.HeaderSize] != 0x42 {
		t.Fatal("Payload() did not alias the underlying buffer")
	}
}

func Test_Page_WritableIn_Matches_Only_Owning_Batch(t *testing.T) {
	t.Parallel()

	p := page.New(freshBuf())
	p.SetBatchID(5)

	if !p.WritableIn(5) {
		t.Fatal("expected WritableIn(5) to be true")
	}

	if p.WritableIn(6) {
		t.Fatal("expected WritableIn(6) to be false")
	}
}

func Test_Page_Clear_Zeroes_Payload_And_Restamps_Header(t *testing.T) {
	t.Parallel()

	buf := freshBuf()
	p := page.New(buf)

	p.SetBatchID(1)
	p.SetType(page.TypeDataPage)
	p.SetLevel(2)
	copy(p.Payload(), []byte{1, 2, 3, 4})

	p.Clear(9, page.TypeBottom, 3)

	if p.BatchID() != 9 {
		t.Fatalf("BatchID() after Clear = %d, want 9", p.BatchID())
	}

	if p.Type() != page.TypeBottom {
		t.Fatalf("Type() after Clear = %v, want %v", p.Type(), page.TypeBottom)
	}

	if p.Level() != 3 {
		t.Fatalf("Level() after Clear = %d, want 3", p.Level())
	}

	if p.Version() != page.CurrentVersion {
		t.Fatalf("Version() after Clear = %d, want %d", p.Version(), page.CurrentVersion)
	}

	for i, b := range p.Payload() {
		if b != 0 {
			t.Fatalf("Payload()[%d] = %#x after Clear, want 0", i, b)
		}
	}
}

func Test_Page_CopyFrom_Duplicates_Header_And_Payload(t *testing.T) {
	t.Parallel()

	src := page.New(freshBuf())
	src.SetBatchID(42)
	src.SetType(page.TypeLeafOverflow)
	copy(src.Payload(), []byte("hello"))

	dst := page.New(freshBuf())
	dst.CopyFrom(src)

	if dst.BatchID() != 42 {
		t.Fatalf("dst.BatchID() = %d, want 42", dst.BatchID())
	}

	if dst.Type() != page.TypeLeafOverflow {
		t.Fatalf("dst.Type() = %v, want %v", dst.Type(), page.TypeLeafOverflow)
	}

	if string(dst.Payload()[:5]) != "hello" {
		t.Fatalf("dst.Payload()[:5] = %q, want %q", dst.Payload()[:5], "hello")
	}

	// Mutating src afterward must not affect dst: CopyFrom is a snapshot, not
	// an aliasing view.
	src.SetBatchID(43)
	if dst.BatchID() != 42 {
		t.Fatal("dst aliases src's buffer after CopyFrom")
	}
}

func Test_Addr_Null_Is_Invalid(t *testing.T) {
	t.Parallel()

	if page.Null.Valid() {
		t.Fatal("Null.Valid() = true, want false")
	}

	if !page.Addr(0).Valid() {
		t.Fatal("Addr(0).Valid() = false, want true")
	}
}

func Test_Type_String_Covers_Known_And_Unknown(t *testing.T) {
	t.Parallel()

	cases := map[page.Type]string{
		page.TypeFree:         "Free",
		page.TypeRoot:         "Root",
		page.TypeAbandoned:    "Abandoned",
		page.TypeDataPage:     "DataPage",
		page.TypeBottom:       "Bottom",
		page.TypeLeafOverflow: "LeafOverflow",
	}

	for typ, want := range cases {
		if got := typ.String(); got != want {
			t.Fatalf("Type(%d).String() = %q, want %q", typ, got, want)
		}
	}

	if got := page.Type(200).String(); got != "Type(200)" {
		t.Fatalf("Type(200).String() = %q, want %q", got, "Type(200)")
	}
}
