package nbmap

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"testing"
)

var (
	testDataSmall [8]string
	testData      [128]string
	testDataLarge [128 << 10]string

	testDataIntSmall [8]int
	testDataInt      [128]int
	testDataIntLarge [128 << 10]int
)

func init() {
	for i := range testDataSmall {
		testDataSmall[i] = fmt.Sprintf("%b", i)
	}
	for i := range testData {
		testData[i] = fmt.Sprintf("%b", i)
	}
	for i := range testDataLarge {
		testDataLarge[i] = fmt.Sprintf("%b", i)
	}

	for i := range testDataIntSmall {
		testDataIntSmall[i] = i
	}
	for i := range testDataInt {
		testDataInt[i] = i
	}
	for i := range testDataIntLarge {
		testDataIntLarge[i] = i
	}
}

type structKey struct {
	Service  uint32
	Instance uint64
}

func expectPresent[K, V comparable](t *testing.T, key K, want V) func(got V, ok bool) {
	t.Helper()
	return func(got V, ok bool) {
		t.Helper()

		if !ok {
			t.Errorf("expected key %v to be present in map", key)
		}
		if ok && got != want {
			t.Errorf("expected key %v to have value %v, got %v", key, want, got)
		}
	}
}

func expectMissing[K, V comparable](t *testing.T, key K, want V) func(got V, ok bool) {
	t.Helper()
	if want != *new(V) {
		panic("expectMissing must always have a zero value variable")
	}
	return func(got V, ok bool) {
		t.Helper()

		if ok {
			t.Errorf("expected key %v to be missing from map, got value %v", key, got)
		}
		if !ok && got != want {
			t.Errorf("expected missing key %v to be paired with the zero value; got %v", key, got)
		}
	}
}

func TestMap_MissingEntry(t *testing.T) {
	m := NewMap[string, string]()
	v, ok := m.Load("foo")
	if ok {
		t.Fatalf("value was not expected: %v", v)
	}
	if prev, removed := m.Remove("foo"); removed {
		t.Fatalf("value was not expected %v", prev)
	}
	if m.ContainsKey("foo") {
		t.Fatal("ContainsKey reported a missing key")
	}
	if m.Count() != 0 {
		t.Fatalf("zero count expected: %d", m.Count())
	}
}

func TestMap_EmptyStringKey(t *testing.T) {
	m := NewMap[string, string]()
	m.Store("", "foobar")
	expectPresent(t, "", "foobar")(m.Load(""))
}

func TestMapStore_NilValue(t *testing.T) {
	m := NewMap[string, *struct{}]()
	m.Store("foo", nil)
	v, ok := m.Load("foo")
	if !ok {
		t.Fatal("nil value was expected to be stored")
	}
	if v != nil {
		t.Fatalf("value was not nil: %v", v)
	}
	if !m.ContainsKey("foo") {
		t.Fatal("stored nil must count as present")
	}
	if m.Count() != 1 {
		t.Fatalf("count should be 1, got %d", m.Count())
	}
	prev, removed := m.Remove("foo")
	if !removed || prev != nil {
		t.Fatalf("expected removal of the nil value, got %v %v", prev, removed)
	}
	if m.ContainsKey("foo") {
		t.Fatal("removed key still present")
	}
}

func TestMapPut(t *testing.T) {
	m := NewMap[string, int]()
	if prev, loaded := m.Put("k", 1); loaded {
		t.Fatalf("unexpected previous value %d", prev)
	}
	if prev, loaded := m.Put("k", 2); !loaded || prev != 1 {
		t.Fatalf("expected previous 1, got %d %v", prev, loaded)
	}
	expectPresent(t, "k", 2)(m.Load("k"))
	if m.Count() != 1 {
		t.Fatalf("count should be 1, got %d", m.Count())
	}
}

func TestMapLoadOrStore(t *testing.T) {
	const numEntries = 1000
	m := NewMap[string, int]()
	for i := 0; i < numEntries; i++ {
		m.Store(strconv.Itoa(i), i)
	}
	for i := 0; i < numEntries; i++ {
		if _, loaded := m.LoadOrStore(strconv.Itoa(i), i); !loaded {
			t.Fatalf("value not found for %d", i)
		}
	}
	if v, loaded := m.LoadOrStore("new", 7); loaded || v != 7 {
		t.Fatalf("expected store of 7, got %d %v", v, loaded)
	}
}

func TestMapPutIfAbsentAndReplace(t *testing.T) {
	m := NewMap[int, string]()
	if _, replaced := m.Replace(1, "x"); replaced {
		t.Fatal("Replace must not insert")
	}
	if m.ContainsKey(1) {
		t.Fatal("Replace inserted a key")
	}
	if _, loaded := m.PutIfAbsent(1, "a"); loaded {
		t.Fatal("PutIfAbsent should store into an empty map")
	}
	if prev, loaded := m.PutIfAbsent(1, "b"); !loaded || prev != "a" {
		t.Fatalf("expected a, got %q %v", prev, loaded)
	}
	if prev, replaced := m.Replace(1, "c"); !replaced || prev != "a" {
		t.Fatalf("expected a, got %q %v", prev, replaced)
	}
	m.Delete(1)
	if _, loaded := m.PutIfAbsent(1, "d"); loaded {
		t.Fatal("PutIfAbsent should store over a tombstone")
	}
	expectPresent(t, 1, "d")(m.Load(1))
}

func TestMapStringStoreThenDelete(t *testing.T) {
	const numEntries = 1000
	m := NewMap[string, int]()
	for i := 0; i < numEntries; i++ {
		m.Store(strconv.Itoa(i), i)
	}
	for i := 0; i < numEntries; i++ {
		m.Delete(strconv.Itoa(i))
		if _, ok := m.Load(strconv.Itoa(i)); ok {
			t.Fatalf("value was not expected for %d", i)
		}
	}
	if m.Count() != 0 {
		t.Fatalf("zero count expected: %d", m.Count())
	}
}

func TestMapStructStoreThenLoadAndDelete(t *testing.T) {
	const numEntries = 1000
	m := NewMap[structKey, int]()
	for i := 0; i < numEntries; i++ {
		m.Store(structKey{uint32(i), 42}, i)
	}
	for i := 0; i < numEntries; i++ {
		if v, loaded := m.LoadAndDelete(structKey{uint32(i), 42}); !loaded || v != i {
			t.Fatalf("value was not found or different for %d: %v", i, v)
		}
		expectMissing(t, structKey{uint32(i), 42}, 0)(m.Load(structKey{uint32(i), 42}))
	}
}

func TestMapIntStore(t *testing.T) {
	for _, n := range []int{len(testDataIntSmall), len(testDataInt), len(testDataIntLarge)} {
		m := NewMap[int, int]()
		for _, k := range testDataIntLarge[:n] {
			m.Store(k, k*2)
		}
		for _, k := range testDataIntLarge[:n] {
			expectPresent(t, k, k*2)(m.Load(k))
		}
		if m.Count() != n {
			t.Fatalf("expected count %d, got %d", n, m.Count())
		}
	}
}

func TestMapStringStore(t *testing.T) {
	m := NewMap[string, int]()
	for i, k := range testDataLarge {
		m.Store(k, i)
	}
	for i, k := range testDataLarge {
		expectPresent(t, k, i)(m.Load(k))
	}
	if m.Count() != len(testDataLarge) {
		t.Fatalf("expected count %d, got %d", len(testDataLarge), m.Count())
	}
}

func TestMapWithHasher(t *testing.T) {
	const numEntries = 10000
	m := NewMapWithHasher[int, int](func(i int) uint64 {
		return uint64(i) * hashPrime
	}, nil)
	for i := 0; i < numEntries; i++ {
		m.Store(i, i)
	}
	for i := 0; i < numEntries; i++ {
		expectPresent(t, i, i)(m.Load(i))
	}
}

func TestMapWithHasher_KeyEqual(t *testing.T) {
	m := NewMapWithHasher[string, int](
		func(s string) uint64 { return XXHashString(strings.ToLower(s)) },
		strings.EqualFold,
	)
	m.Store("Foo", 1)
	expectPresent(t, "FOO", 1)(m.Load("FOO"))
	if prev, loaded := m.Put("foo", 2); !loaded || prev != 1 {
		t.Fatalf("case-insensitive key should match, got %d %v", prev, loaded)
	}
	if m.Count() != 1 {
		t.Fatalf("expected one entry, got %d", m.Count())
	}
}

func TestMapWithHasher_HashCodeCollisions(t *testing.T) {
	const numEntries = 1000
	m := NewMapWithHasher[int, int](func(int) uint64 {
		// An awful hash function makes every key probe the same cluster.
		return 42
	}, nil)
	for i := 0; i < numEntries; i++ {
		m.Store(i, i)
	}
	for i := 0; i < numEntries; i++ {
		expectPresent(t, i, i)(m.Load(i))
	}
	for i := 0; i < numEntries; i += 2 {
		m.Delete(i)
	}
	for i := 0; i < numEntries; i++ {
		if _, ok := m.Load(i); ok != (i%2 == 1) {
			t.Fatalf("unexpected presence %v for %d", ok, i)
		}
	}
	if m.Count() != numEntries/2 {
		t.Fatalf("expected %d entries, got %d", numEntries/2, m.Count())
	}
}

// TestMapSequentialModel replays random operations against a builtin
// map; with one goroutine every result must match exactly.
func TestMapSequentialModel(t *testing.T) {
	m := NewMap[int, int](WithPresize(4))
	model := map[int]int{}
	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 200000; i++ {
		k := r.IntN(512)
		switch r.IntN(4) {
		case 0:
			prev, loaded := m.Put(k, i)
			want, wantLoaded := model[k]
			if loaded != wantLoaded || prev != want {
				t.Fatalf("Put(%d): got %d %v, want %d %v", k, prev, loaded, want, wantLoaded)
			}
			model[k] = i
		case 1:
			prev, removed := m.Remove(k)
			want, wantLoaded := model[k]
			if removed != wantLoaded || prev != want {
				t.Fatalf("Remove(%d): got %d %v, want %d %v", k, prev, removed, want, wantLoaded)
			}
			delete(model, k)
		default:
			v, ok := m.Load(k)
			want, wantOk := model[k]
			if ok != wantOk || v != want {
				t.Fatalf("Load(%d): got %d %v, want %d %v", k, v, ok, want, wantOk)
			}
		}
		if m.Count() != len(model) {
			t.Fatalf("Count: got %d, want %d", m.Count(), len(model))
		}
	}
}

func TestMapCompute(t *testing.T) {
	m := NewMap[string, int]()
	// Store a new value.
	v, ok := m.Compute("foobar", func(oldValue int, loaded bool) (newValue int, op ComputeOp) {
		if oldValue != 0 {
			t.Fatalf("oldValue should be 0 when computing a new value: %d", oldValue)
		}
		if loaded {
			t.Fatal("loaded should be false when computing a new value")
		}
		return 42, UpdateOp
	})
	if v != 42 || !ok {
		t.Fatalf("expected 42 true, got %d %v", v, ok)
	}
	// Update an existing value.
	v, ok = m.Compute("foobar", func(oldValue int, loaded bool) (newValue int, op ComputeOp) {
		if oldValue != 42 || !loaded {
			t.Fatalf("expected loaded 42, got %d %v", oldValue, loaded)
		}
		return oldValue + 42, UpdateOp
	})
	if v != 84 || !ok {
		t.Fatalf("expected 84 true, got %d %v", v, ok)
	}
	// Cancel leaves the value as-is.
	v, ok = m.Compute("foobar", func(oldValue int, loaded bool) (newValue int, op ComputeOp) {
		return 0, CancelOp
	})
	if v != 84 || !ok {
		t.Fatalf("expected 84 true, got %d %v", v, ok)
	}
	// Delete the value.
	v, ok = m.Compute("foobar", func(oldValue int, loaded bool) (newValue int, op ComputeOp) {
		return 0, DeleteOp
	})
	if v != 84 || ok {
		t.Fatalf("expected 84 false, got %d %v", v, ok)
	}
	if _, ok := m.Load("foobar"); ok {
		t.Fatal("value should be deleted")
	}
	// Cancel on a missing key creates nothing.
	if _, ok := m.Compute("foobar", func(int, bool) (int, ComputeOp) { return 1, CancelOp }); ok {
		t.Fatal("cancel must not create an entry")
	}
	if m.Count() != 0 {
		t.Fatalf("expected empty map, got %d", m.Count())
	}
}

func TestMapCompute_ParallelIncrements(t *testing.T) {
	const (
		numGoroutines = 8
		numIncrements = 10000
	)
	m := NewMap[int, int](WithPresize(1))
	var wg sync.WaitGroup
	for g := 0; g < numGoroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < numIncrements; i++ {
				m.Compute(i%64, func(old int, _ bool) (int, ComputeOp) {
					return old + 1, UpdateOp
				})
			}
		}()
	}
	wg.Wait()
	total := 0
	for _, v := range m.All() {
		total += v
	}
	if total != numGoroutines*numIncrements {
		t.Fatalf("lost increments: got %d, want %d", total, numGoroutines*numIncrements)
	}
}

func TestMapCompareAndSwap(t *testing.T) {
	m := NewMap[string, int]()
	if CompareAndSwap(m, "a", 0, 1) {
		t.Fatal("swap on a missing key must fail")
	}
	m.Store("a", 1)
	if CompareAndSwap(m, "a", 2, 3) {
		t.Fatal("swap with a wrong old value must fail")
	}
	if !CompareAndSwap(m, "a", 1, 3) {
		t.Fatal("swap should succeed")
	}
	expectPresent(t, "a", 3)(m.Load("a"))
	if CompareAndDelete(m, "a", 1) {
		t.Fatal("delete with a wrong old value must fail")
	}
	if !CompareAndDelete(m, "a", 3) {
		t.Fatal("delete should succeed")
	}
	if m.ContainsKey("a") {
		t.Fatal("key should be gone")
	}
}

func TestMapClear(t *testing.T) {
	const numEntries = 1000
	m := NewMap[int, int]()
	for i := 0; i < numEntries; i++ {
		m.Store(i, i)
	}
	m.Clear()
	if m.Count() != 0 {
		t.Fatalf("zero count expected: %d", m.Count())
	}
	for i := 0; i < numEntries; i++ {
		expectMissing(t, i, 0)(m.Load(i))
	}
	m.Store(1, 1)
	expectPresent(t, 1, 1)(m.Load(1))
}

func TestMapString(t *testing.T) {
	m := NewMap[string, int]()
	m.Store("a", 1)
	if s := m.String(); s != "Map[a:1]" {
		t.Fatalf("unexpected String(): %s", s)
	}
}

func TestMapJSON(t *testing.T) {
	m := NewMap[string, int]()
	m.Store("a", 1)
	m.Store("b", 2)
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"a":1,"b":2}` {
		t.Fatalf("unexpected JSON: %s", data)
	}

	var m2 Map[string, int]
	if err := json.Unmarshal(data, &m2); err != nil {
		t.Fatal(err)
	}
	expectPresent(t, "a", 1)(m2.Load("a"))
	expectPresent(t, "b", 2)(m2.Load("b"))
	if m2.Count() != 2 {
		t.Fatalf("expected 2 entries, got %d", m2.Count())
	}
}

func TestBytesMap(t *testing.T) {
	m := NewBytesMap[int]()
	buf := []byte("key-1")
	m.Store(buf, 1)
	// The map must not alias the caller's buffer.
	buf[4] = '2'
	expectPresent(t, "key-1", 1)(m.Load([]byte("key-1")))
	if m.ContainsKey(buf) {
		t.Fatal("mutated buffer must not match the stored key")
	}
	for i := 0; i < 1000; i++ {
		m.Store([]byte(strconv.Itoa(i)), i)
	}
	seen := 0
	for k, v := range m.All() {
		if string(k) != "key-1" && string(k) != strconv.Itoa(v) {
			t.Fatalf("key %q paired with %d", k, v)
		}
		seen++
	}
	if seen != 1001 || m.Count() != 1001 {
		t.Fatalf("expected 1001 entries, saw %d, count %d", seen, m.Count())
	}
}

func TestHashers(t *testing.T) {
	if XXHashString("nbmap") != XXHashBytes([]byte("nbmap")) {
		t.Fatal("xxhash string and bytes variants disagree")
	}
	if Murmur3String("nbmap") != Murmur3Bytes([]byte("nbmap")) {
		t.Fatal("murmur3 string and bytes variants disagree")
	}
	if Murmur3StringSeeded(0)("nbmap") != Murmur3String("nbmap") {
		t.Fatal("murmur3 with seed 0 should match the unseeded hash")
	}
	if Murmur3StringSeeded(1)("nbmap") == Murmur3String("nbmap") {
		t.Fatal("different seeds should change the hash")
	}

	h := defaultHasher[int]()
	if h(1) == h(2) {
		t.Fatal("adjacent integers should not collide")
	}
	hs := defaultHasher[structKey]()
	if hs(structKey{1, 2}) != hs(structKey{1, 2}) {
		t.Fatal("hash must be deterministic within a map")
	}
}

func TestMapStats(t *testing.T) {
	m := NewMap[int, int](WithPresize(4))
	for i := 0; i < 100; i++ {
		m.Store(i, i)
	}
	for i := 0; i < 10; i++ {
		m.Delete(i)
	}
	stats := m.Stats()
	if stats.Size != 90 || stats.Counter != 90 {
		t.Fatalf("expected 90 entries: %s", stats.ToString())
	}
	if stats.Tombstones != 10 {
		t.Fatalf("tombstones missing: %s", stats.ToString())
	}
	if stats.TotalGrowths == 0 || stats.Generation == 0 {
		t.Fatalf("expected growth from a tiny table: %s", stats.ToString())
	}
	if stats.TableLen < 128 || stats.Capacity < stats.Size {
		t.Fatalf("table too small: %s", stats.ToString())
	}
	if stats.CounterLen != calcSizeLen(runtime.GOMAXPROCS(0)) {
		t.Fatalf("unexpected counter stripes: %s", stats.ToString())
	}
	if !strings.HasPrefix(stats.ToString(), "MapStats{") {
		t.Fatal("unexpected ToString prefix")
	}
}

func TestCalcTableLen(t *testing.T) {
	tests := []struct {
		hint, want int
	}{
		{-1, minTableLen},
		{0, minTableLen},
		{4, minTableLen},
		{6, 16},
		{12, 32},
		{96, 256},
		{1000, 2048},
	}
	for _, tt := range tests {
		if got := calcTableLen(tt.hint); got != tt.want {
			t.Errorf("calcTableLen(%d) = %d, want %d", tt.hint, got, tt.want)
		}
	}
	for n, want := range map[int]int{0: 1, 1: 1, 2: 2, 3: 4, 1023: 1024, 1025: 2048} {
		if got := nextPowOf2(n); got != want {
			t.Errorf("nextPowOf2(%d) = %d, want %d", n, got, want)
		}
	}
}
