package pagedb_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/paprikadb/paprika/errs"
	"github.com/paprikadb/paprika/pagedb"
	"github.com/paprikadb/paprika/trie"
)

func addrN(b byte) [32]byte {
	var a [32]byte
	a[31] = b

	return a
}

func Test_OpenMemory_Commit_Then_ReadBatch_Sees_Written_Account(t *testing.T) {
	db, err := pagedb.OpenMemory(4, 8<<20)
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	wb, err := db.BeginNext()
	if err != nil {
		t.Fatalf("BeginNext: %v", err)
	}

	acct := trie.Account{Nonce: 7, CodeHash: [32]byte{1, 2, 3}}
	wb.SetAccount(addrN(1), acct)
	wb.SetBlockMetadata(100, [32]byte{9})

	if err := wb.Commit(pagedb.DataAndRoot); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	rb := db.BeginReadOnly()

	got, ok := rb.GetAccount(addrN(1))
	if !ok {
		t.Fatalf("account not found after commit")
	}

	if got.Nonce != 7 || got.CodeHash != acct.CodeHash {
		t.Fatalf("got %+v, want %+v", got, acct)
	}

	num, hash := rb.Metadata()
	if num != 100 || hash != [32]byte{9} {
		t.Fatalf("metadata = (%d, %x), want (100, 09..)", num, hash)
	}
}

func Test_ReadBatch_Is_Isolated_From_A_Later_Write_Batch(t *testing.T) {
	db, err := pagedb.OpenMemory(4, 8<<20)
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	wb, _ := db.BeginNext()
	wb.SetAccount(addrN(1), trie.Account{Nonce: 1})

	if err := wb.Commit(pagedb.DataAndRoot); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	snapshot := db.BeginReadOnly()

	wb2, _ := db.BeginNext()
	wb2.SetAccount(addrN(1), trie.Account{Nonce: 2})

	if err := wb2.Commit(pagedb.DataAndRoot); err != nil {
		t.Fatalf("Commit 2: %v", err)
	}

	got, ok := snapshot.GetAccount(addrN(1))
	if !ok || got.Nonce != 1 {
		t.Fatalf("snapshot must still see nonce 1, got %+v, ok=%v", got, ok)
	}

	fresh := db.BeginReadOnly()

	got2, ok := fresh.GetAccount(addrN(1))
	if !ok || got2.Nonce != 2 {
		t.Fatalf("fresh read batch must see nonce 2, got %+v, ok=%v", got2, ok)
	}
}

func Test_BeginNext_Fails_While_A_Writer_Is_Already_Open(t *testing.T) {
	db, err := pagedb.OpenMemory(4, 8<<20)
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	wb, err := db.BeginNext()
	if err != nil {
		t.Fatalf("BeginNext: %v", err)
	}

	if _, err := db.BeginNext(); !errors.Is(err, errs.ErrBusy) {
		t.Fatalf("expected ErrBusy for concurrent writer, got %v", err)
	}

	wb.Discard()

	if _, err := db.BeginNext(); err != nil {
		t.Fatalf("BeginNext after Discard: %v", err)
	}
}

func Test_SetStorage_Empty_Value_Deletes_The_Cell(t *testing.T) {
	db, err := pagedb.OpenMemory(4, 8<<20)
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	wb, _ := db.BeginNext()

	slot := addrN(9)
	wb.SetStorage(addrN(1), slot, []byte{0xAB})

	if err := wb.Commit(pagedb.DataAndRoot); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	wb2, _ := db.BeginNext()
	wb2.SetStorage(addrN(1), slot, nil)

	if err := wb2.Commit(pagedb.DataAndRoot); err != nil {
		t.Fatalf("Commit 2: %v", err)
	}

	rb := db.BeginReadOnly()
	if _, ok := rb.GetStorage(addrN(1), slot); ok {
		t.Fatalf("expected storage cell deleted")
	}
}

func Test_Many_Sequential_Commits_Reuse_Abandoned_Pages_Without_Corruption(t *testing.T) {
	db, err := pagedb.OpenMemory(2, 4<<20)
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	addr := addrN(1)

	// max_reorg_depth is 2: every commit after the first CoWs the
	// previous batch's root page, so by the time this loop has run past a
	// handful of batches, BeginNext's harvestExpiredBatch has walked a
	// non-empty, single-page abandoned list and recycled its page more
	// than once. A list page whose terminator is wrong would corrupt the
	// allocator (or panic) well before this loop completes.
	const commits = 40

	for i := uint32(0); i < commits; i++ {
		wb, err := db.BeginNext()
		if err != nil {
			t.Fatalf("BeginNext %d: %v", i, err)
		}

		wb.SetAccount(addr, trie.Account{Nonce: uint64(i)})
		wb.SetBlockMetadata(i, [32]byte{byte(i)})

		if err := wb.Commit(pagedb.DataAndRoot); err != nil {
			t.Fatalf("Commit %d: %v", i, err)
		}

		rb := db.BeginReadOnly()

		got, ok := rb.GetAccount(addr)
		if !ok || got.Nonce != uint64(i) {
			t.Fatalf("after commit %d: expected nonce %d, got %+v, ok=%v", i, i, got, ok)
		}
	}

	rb := db.BeginReadOnly()

	num, _ := rb.Metadata()
	if num != commits-1 {
		t.Fatalf("expected final block number %d, got %d", commits-1, num)
	}
}

func Test_Open_Recovers_Last_Committed_Batch_After_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paprika.db")

	db, err := pagedb.Open(path, 4, 4<<20)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	for i := byte(0); i < 5; i++ {
		wb, err := db.BeginNext()
		if err != nil {
			t.Fatalf("BeginNext: %v", err)
		}

		wb.SetAccount(addrN(1), trie.Account{Nonce: uint64(i)})
		wb.SetBlockMetadata(uint32(i), [32]byte{i})

		if err := wb.Commit(pagedb.DataAndRoot); err != nil {
			t.Fatalf("Commit %d: %v", i, err)
		}
	}

	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := pagedb.Open(path, 4, 4<<20)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	rb := reopened.BeginReadOnly()

	got, ok := rb.GetAccount(addrN(1))
	if !ok || got.Nonce != 4 {
		t.Fatalf("expected nonce 4 after recovery, got %+v, ok=%v", got, ok)
	}

	num, _ := rb.Metadata()
	if num != 4 {
		t.Fatalf("expected block number 4 after recovery, got %d", num)
	}
}
