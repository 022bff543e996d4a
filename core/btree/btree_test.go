package btree

import (
	"fmt"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gojodb-core/gojodb/core/storage/buffer"
	"github.com/gojodb-core/gojodb/core/storage/disk"
	"github.com/gojodb-core/gojodb/core/txn"
)

func intCodec() (func(int) ([]byte, error), func([]byte) (int, error)) {
	enc := func(i int) ([]byte, error) { return []byte(strconv.Itoa(i)), nil }
	dec := func(b []byte) (int, error) { return strconv.Atoi(string(b)) }
	return enc, dec
}

func newTestTree(t *testing.T, leafMax, internalMax int) *BTree[int, string] {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.db")
	dm, err := disk.Open(path, 4096, true, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { dm.Close() })
	bpm := buffer.NewManager(32, 2, dm, zap.NewNop(), buffer.Metrics{})

	keyEnc, keyDec := intCodec()
	tree, err := Open(Config[int, string]{
		Name:            "test",
		LeafMaxSize:     leafMax,
		InternalMaxSize: internalMax,
		Compare:         func(a, b int) int { return a - b },
		KeyEncode:       keyEnc,
		KeyDecode:       keyDec,
		ValueEncode:     func(s string) ([]byte, error) { return []byte(s), nil },
		ValueDecode:     func(b []byte) (string, error) { return string(b), nil },
	}, bpm, dm, zap.NewNop())
	require.NoError(t, err)
	return tree
}

func TestBTree_InsertAndGetValue(t *testing.T) {
	tree := newTestTree(t, 255, 255)
	tr := txn.New(1, txn.RepeatableRead)

	ok, err := tree.Insert(1, "one", tr)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = tree.Insert(1, "uno", tr)
	require.NoError(t, err)
	require.False(t, ok, "inserting an existing key must be a no-op returning false")

	var results []string
	require.NoError(t, tree.GetValue(1, &results, tr))
	require.Equal(t, []string{"one"}, results)
}

// TestBTree_SplitOnOverflow exercises the scenario named for leaf/internal
// max size 3, inserting keys 1..5: the leaf must split once it reaches
// maxSize and produce a two-level tree.
func TestBTree_SplitOnOverflow(t *testing.T) {
	tree := newTestTree(t, 3, 3)
	tr := txn.New(1, txn.RepeatableRead)

	for i := 1; i <= 5; i++ {
		ok, err := tree.Insert(i, fmt.Sprintf("v%d", i), tr)
		require.NoError(t, err)
		require.True(t, ok)
	}

	it, err := tree.Begin()
	require.NoError(t, err)
	defer it.Close()

	var got []int
	for !it.IsEnd() {
		got = append(got, it.Key())
		it.Next()
	}
	require.Equal(t, []int{1, 2, 3, 4, 5}, got)
}

func TestBTree_RemoveMissingKeyIsNoOp(t *testing.T) {
	tree := newTestTree(t, 255, 255)
	tr := txn.New(1, txn.RepeatableRead)
	require.NoError(t, tree.Remove(42, tr))
}

func TestBTree_InsertRemoveRoundTrip(t *testing.T) {
	tree := newTestTree(t, 4, 4)
	tr := txn.New(1, txn.RepeatableRead)

	for i := 0; i < 50; i++ {
		ok, err := tree.Insert(i, fmt.Sprintf("v%d", i), tr)
		require.NoError(t, err)
		require.True(t, ok)
	}
	for i := 0; i < 50; i += 2 {
		require.NoError(t, tree.Remove(i, tr))
	}

	it, err := tree.Begin()
	require.NoError(t, err)
	defer it.Close()

	var got []int
	for !it.IsEnd() {
		got = append(got, it.Key())
		it.Next()
	}
	require.Len(t, got, 25)
	for _, k := range got {
		require.Equal(t, 1, k%2, "only odd keys should remain")
	}
}

func TestBTree_RemoveAllCollapsesToEmptyTree(t *testing.T) {
	tree := newTestTree(t, 4, 4)
	tr := txn.New(1, txn.RepeatableRead)

	for i := 0; i < 10; i++ {
		_, err := tree.Insert(i, fmt.Sprintf("v%d", i), tr)
		require.NoError(t, err)
	}
	for i := 0; i < 10; i++ {
		require.NoError(t, tree.Remove(i, tr))
	}

	it, err := tree.Begin()
	require.NoError(t, err)
	require.True(t, it.IsEnd())
}

func TestBTree_BeginKeySeeksToFirstGreaterOrEqual(t *testing.T) {
	tree := newTestTree(t, 255, 255)
	tr := txn.New(1, txn.RepeatableRead)
	for _, k := range []int{1, 3, 5, 7} {
		_, err := tree.Insert(k, fmt.Sprintf("v%d", k), tr)
		require.NoError(t, err)
	}

	it, err := tree.BeginKey(4)
	require.NoError(t, err)
	defer it.Close()
	require.False(t, it.IsEnd())
	require.Equal(t, 5, it.Key())
}

// TestBTree_SurvivesReopen exercises node serialization end to end: insert
// enough keys to force at least one split, close the underlying files, then
// reopen against the same data file and confirm every key is still
// reachable through the persisted root page id.
func TestBTree_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	keyEnc, keyDec := intCodec()
	cfg := Config[int, string]{
		Name:            "test",
		LeafMaxSize:     3,
		InternalMaxSize: 3,
		Compare:         func(a, b int) int { return a - b },
		KeyEncode:       keyEnc,
		KeyDecode:       keyDec,
		ValueEncode:     func(s string) ([]byte, error) { return []byte(s), nil },
		ValueDecode:     func(b []byte) (string, error) { return string(b), nil },
	}

	dm, err := disk.Open(path, 4096, true, zap.NewNop())
	require.NoError(t, err)
	bpm := buffer.NewManager(32, 2, dm, zap.NewNop(), buffer.Metrics{})
	tree, err := Open(cfg, bpm, dm, zap.NewNop())
	require.NoError(t, err)

	tr := txn.New(1, txn.RepeatableRead)
	for i := 1; i <= 8; i++ {
		_, err := tree.Insert(i, fmt.Sprintf("v%d", i), tr)
		require.NoError(t, err)
	}
	bpm.FlushAll()
	require.NoError(t, dm.Close())

	dm2, err := disk.Open(path, 4096, false, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { dm2.Close() })
	bpm2 := buffer.NewManager(32, 2, dm2, zap.NewNop(), buffer.Metrics{})
	reopened, err := Open(cfg, bpm2, dm2, zap.NewNop())
	require.NoError(t, err)

	it, err := reopened.Begin()
	require.NoError(t, err)
	defer it.Close()
	var got []int
	for !it.IsEnd() {
		got = append(got, it.Key())
		it.Next()
	}
	require.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8}, got)
}
