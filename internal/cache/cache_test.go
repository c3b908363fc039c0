package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/weather-forecast-service/internal/models"
)

var testStart = time.Date(2024, time.May, 1, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*DiskStore, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testStart)
	s, err := NewDiskStore(t.TempDir(), DefaultPolicy, clock, nil)
	require.NoError(t, err)
	return s, clock
}

func testRecord(key string) models.ForecastRecord {
	return models.ForecastRecord{
		Location: key,
		Days: []models.DayRecord{
			{Key: "day1", Datetime: "2024-05-01", TempMorning: 12.5, TempEvening: 9.1, Humidity: 71},
			{Key: "day3", Datetime: "2024-05-03", TempMorning: 18, TempEvening: 14.4, Humidity: 55},
		},
		HottestDay: "day3",
	}
}

// TestDiskStore_PutGet verifies that a record read back right after Put equals
// the record written, including the stamped creation time.
func TestDiskStore_PutGet(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	rec := testRecord("paris")
	rec.CreatedAt = clock.Now()
	require.NoError(t, s.Put(ctx, "paris", rec))

	got, err := s.Get(ctx, "paris")
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestDiskStore_PutStampsCreatedAt(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	require.NoError(t, s.Put(ctx, "rome", testRecord("rome")))

	got, err := s.Get(ctx, "rome")
	require.NoError(t, err)
	assert.True(t, got.CreatedAt.Equal(clock.Now()))

	info, err := os.Stat(filepath.Join(s.Dir(), "rome.json"))
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(clock.Now()))
}

func TestDiskStore_PutOverwrites(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.Put(ctx, "oslo", testRecord("oslo")))
	updated := testRecord("oslo")
	updated.HottestDay = "day1"
	require.NoError(t, s.Put(ctx, "oslo", updated))

	got, err := s.Get(ctx, "oslo")
	require.NoError(t, err)
	assert.Equal(t, "day1", got.HottestDay)
}

func TestDiskStore_Get_Errors(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.Get(ctx, "nowhere")
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "broken.json"), []byte("{not json"), 0o644))
	_, err = s.Get(ctx, "broken")
	assert.ErrorIs(t, err, models.ErrCorruptRecord)
}

func TestDiskStore_InvalidKey(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	for _, key := range []string{"", "..", "a/b", `a\b`, ".tmp-x"} {
		_, err := s.Exists(ctx, key)
		assert.ErrorIs(t, err, ErrInvalidKey, "key %q", key)
		assert.ErrorIs(t, s.Put(ctx, key, testRecord(key)), ErrInvalidKey, "key %q", key)
	}
}

func TestDiskStore_Exists_EmptyDirectory(t *testing.T) {
	s, _ := newTestStore(t)

	ok, err := s.Exists(context.Background(), "london")

	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDiskStore_Exists_DirectoryRemoved(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, os.RemoveAll(s.Dir()))

	ok, err := s.Exists(context.Background(), "london")

	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDiskStore_Exists_Present(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	require.NoError(t, s.Put(ctx, "london", testRecord("london")))

	ok, err := s.Exists(ctx, "london")

	require.NoError(t, err)
	assert.True(t, ok)
}

// TestDiskStore_Exists_EvictsExpired verifies that an entry a day old or more is
// removed by the sweep that runs inside Exists.
func TestDiskStore_Exists_EvictsExpired(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	require.NoError(t, s.Put(ctx, "old", testRecord("old")))
	clock.Advance(2 * time.Hour)
	require.NoError(t, s.Put(ctx, "young", testRecord("young")))
	clock.Advance(22*time.Hour + time.Minute)

	ok, err := s.Exists(ctx, "old")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Exists(ctx, "young")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDiskStore_Sweep_AgeBoundary(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	require.NoError(t, s.Put(ctx, "edge", testRecord("edge")))
	clock.Advance(24*time.Hour - time.Second)

	res, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Expired)

	clock.Advance(time.Second)
	res, err = s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"edge"}, res.Expired)
}

// TestDiskStore_Exists_CapacityBound writes eleven keys and checks that the next
// Exists leaves no more than ten, dropping the oldest first.
func TestDiskStore_Exists_CapacityBound(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	for i := 0; i < 11; i++ {
		key := fmt.Sprintf("city%02d", i)
		require.NoError(t, s.Put(ctx, key, testRecord(key)))
		clock.Advance(time.Minute)
	}

	ok, err := s.Exists(ctx, "city10")
	require.NoError(t, err)
	assert.True(t, ok)

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(keys), 10)
	assert.Equal(t, DefaultPolicy.MaxEntries-1, len(keys))
	assert.NotContains(t, keys, "city00")
	assert.NotContains(t, keys, "city01")
	assert.Equal(t, "city02", keys[0])
}

func TestDiskStore_Sweep_ExpiredAndCapacityTogether(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	for i := 0; i < 3; i++ {
		key := fmt.Sprintf("stale%d", i)
		require.NoError(t, s.Put(ctx, key, testRecord(key)))
	}
	clock.Advance(25 * time.Hour)
	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("fresh%d", i)
		require.NoError(t, s.Put(ctx, key, testRecord(key)))
		clock.Advance(time.Second)
	}

	res, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"stale0", "stale1", "stale2"}, res.Expired)
	assert.Equal(t, []string{"fresh0"}, res.Overflow)
	assert.Equal(t, 9, res.Remaining)
	assert.Equal(t, 4, res.Evicted())
}

func TestDiskStore_Sweep_IgnoresForeignFiles(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(s.Dir(), "sub.json"), 0o755))
	old := testStart.Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(s.Dir(), "notes.txt"), old, old))

	res, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Evicted())
	_, err = os.Stat(filepath.Join(s.Dir(), "notes.txt"))
	assert.NoError(t, err)
}

func TestDiskStore_Delete(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	require.NoError(t, s.Put(ctx, "lima", testRecord("lima")))

	require.NoError(t, s.Delete(ctx, "lima"))
	require.NoError(t, s.Delete(ctx, "lima"))

	_, err := s.Get(ctx, "lima")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDiskStore_CanceledContext(t *testing.T) {
	s, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Exists(ctx, "paris")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.Put(ctx, "paris", testRecord("paris")), context.Canceled)
}

func TestNewDiskStore_RequiresDir(t *testing.T) {
	_, err := NewDiskStore("", DefaultPolicy, nil, nil)
	assert.Error(t, err)
}
