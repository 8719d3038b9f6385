package locationcache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/buswatch/buswatch/pkg/model"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewCache(client), mr
}

func testEntry(vehicleRef string) *Entry {
	return &Entry{
		VehicleRef:  vehicleRef,
		JourneyRef:  "BUSWATCH:JOURNEY:" + vehicleRef + ":1717230000",
		ServiceRef:  "BUSWATCH:SERVICE:ACME:36",
		OperatorRef: "BUSWATCH:OPERATOR:ACME",

		RouteLabel: "36",

		Location: model.NewPoint(-1.54, 53.79),

		RecordedAt: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
		UpdatedAt:  time.Date(2024, 6, 1, 9, 0, 5, 0, time.UTC),
	}
}

func TestPutAndGetCurrent(t *testing.T) {
	cache, _ := testCache(t)
	ctx := context.Background()

	entry := testEntry("BUSWATCH:VEHICLE:acme-live:3635")
	require.NoError(t, cache.Put(ctx, entry, 15*time.Minute))

	got, err := cache.GetCurrent(ctx, entry.VehicleRef)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, entry.VehicleRef, got.VehicleRef)
	assert.Equal(t, entry.ServiceRef, got.ServiceRef)
	assert.Equal(t, entry.Location.Coordinates, got.Location.Coordinates)
	assert.True(t, got.RecordedAt.Equal(entry.RecordedAt))
}

func TestGetCurrentMissingVehicle(t *testing.T) {
	cache, _ := testCache(t)

	got, err := cache.GetCurrent(context.Background(), "BUSWATCH:VEHICLE:acme-live:9999")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEntryExpires(t *testing.T) {
	cache, mr := testCache(t)
	ctx := context.Background()

	entry := testEntry("BUSWATCH:VEHICLE:acme-live:3635")
	require.NoError(t, cache.Put(ctx, entry, 15*time.Minute))

	mr.FastForward(16 * time.Minute)

	got, err := cache.GetCurrent(ctx, entry.VehicleRef)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRefreshTTLExtendsLifetime(t *testing.T) {
	cache, mr := testCache(t)
	ctx := context.Background()

	entry := testEntry("BUSWATCH:VEHICLE:acme-live:3635")
	require.NoError(t, cache.Put(ctx, entry, 15*time.Minute))

	mr.FastForward(10 * time.Minute)
	require.NoError(t, cache.RefreshTTL(ctx, entry.VehicleRef, 15*time.Minute))
	mr.FastForward(10 * time.Minute)

	got, err := cache.GetCurrent(ctx, entry.VehicleRef)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestListByService(t *testing.T) {
	cache, _ := testCache(t)
	ctx := context.Background()

	first := testEntry("BUSWATCH:VEHICLE:acme-live:3635")
	second := testEntry("BUSWATCH:VEHICLE:acme-live:3636")
	other := testEntry("BUSWATCH:VEHICLE:acme-live:4001")
	other.ServiceRef = "BUSWATCH:SERVICE:ACME:110"

	require.NoError(t, cache.Put(ctx, first, 15*time.Minute))
	require.NoError(t, cache.Put(ctx, second, 15*time.Minute))
	require.NoError(t, cache.Put(ctx, other, 15*time.Minute))

	entries, err := cache.ListByService(ctx, "BUSWATCH:SERVICE:ACME:36")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	refs := []string{entries[0].VehicleRef, entries[1].VehicleRef}
	assert.Contains(t, refs, first.VehicleRef)
	assert.Contains(t, refs, second.VehicleRef)
}

func TestListByServicePrunesExpiredMembers(t *testing.T) {
	cache, mr := testCache(t)
	ctx := context.Background()

	first := testEntry("BUSWATCH:VEHICLE:acme-live:3635")
	second := testEntry("BUSWATCH:VEHICLE:acme-live:3636")

	require.NoError(t, cache.Put(ctx, first, 5*time.Minute))
	require.NoError(t, cache.Put(ctx, second, 30*time.Minute))

	mr.FastForward(10 * time.Minute)

	entries, err := cache.ListByService(ctx, "BUSWATCH:SERVICE:ACME:36")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, second.VehicleRef, entries[0].VehicleRef)

	// the stale member is gone from the set, not just filtered
	members, err := cache.Client.SMembers(ctx, "buswatch:livevehicle:service:BUSWATCH:SERVICE:ACME:36").Result()
	require.NoError(t, err)
	assert.Equal(t, []string{second.VehicleRef}, members)
}

func TestListByOperator(t *testing.T) {
	cache, _ := testCache(t)
	ctx := context.Background()

	entry := testEntry("BUSWATCH:VEHICLE:acme-live:3635")
	require.NoError(t, cache.Put(ctx, entry, 15*time.Minute))

	entries, err := cache.ListByOperator(ctx, "BUSWATCH:OPERATOR:ACME")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entry.VehicleRef, entries[0].VehicleRef)
}

func TestRemoveEvictsEverywhere(t *testing.T) {
	cache, _ := testCache(t)
	ctx := context.Background()

	entry := testEntry("BUSWATCH:VEHICLE:acme-live:3635")
	require.NoError(t, cache.Put(ctx, entry, 15*time.Minute))

	require.NoError(t, cache.Remove(ctx, entry.VehicleRef, entry.ServiceRef, entry.OperatorRef))

	got, err := cache.GetCurrent(ctx, entry.VehicleRef)
	require.NoError(t, err)
	assert.Nil(t, got)

	entries, err := cache.ListByService(ctx, entry.ServiceRef)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRebuildRestoresEntries(t *testing.T) {
	cache, _ := testCache(t)
	ctx := context.Background()

	entries := []*Entry{
		testEntry("BUSWATCH:VEHICLE:acme-live:3635"),
		testEntry("BUSWATCH:VEHICLE:acme-live:3636"),
	}

	require.NoError(t, cache.Rebuild(ctx, entries, 15*time.Minute))

	for _, entry := range entries {
		got, err := cache.GetCurrent(ctx, entry.VehicleRef)
		require.NoError(t, err)
		assert.NotNil(t, got)
	}
}

func TestNewEntryFromLocation(t *testing.T) {
	bearing := 90.0
	location := &model.VehicleLocation{
		VehicleRef: "BUSWATCH:VEHICLE:acme-live:3635",
		JourneyRef: "BUSWATCH:JOURNEY:BUSWATCH:VEHICLE:acme-live:3635:1717230000",
		Location:   model.NewPoint(-1.54, 53.79),
		Bearing:    &bearing,
		RecordedAt: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
	}

	entry := NewEntryFromLocation(location)

	assert.Equal(t, location.VehicleRef, entry.VehicleRef)
	assert.Equal(t, location.JourneyRef, entry.JourneyRef)
	assert.Equal(t, location.Location.Coordinates, entry.Location.Coordinates)
	require.NotNil(t, entry.Bearing)
	assert.Equal(t, 90.0, *entry.Bearing)
	assert.True(t, entry.RecordedAt.Equal(location.RecordedAt))
	assert.False(t, entry.UpdatedAt.IsZero())
}
