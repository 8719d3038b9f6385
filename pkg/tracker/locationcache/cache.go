package locationcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/buswatch/buswatch/pkg/model"
	"github.com/jinzhu/copier"
	"github.com/redis/go-redis/v9"
)

const (
	vehicleKeyFormat  = "buswatch:livevehicle:%s"
	serviceSetFormat  = "buswatch:livevehicle:service:%s"
	operatorSetFormat = "buswatch:livevehicle:operator:%s"
	geoKey            = "buswatch:livevehicle:geo"
)

// Entry is the read-optimised projection of a vehicle's current state. The
// cache is the only thing consumer queries touch; the database is never on
// their path.
type Entry struct {
	VehicleRef  string `json:"vehicle_ref"`
	JourneyRef  string `json:"journey_ref"`
	ServiceRef  string `json:"service_ref,omitempty"`
	OperatorRef string `json:"operator_ref,omitempty"`

	RouteLabel      string `json:"route_label,omitempty"`
	DestinationText string `json:"destination_text,omitempty"`

	Location model.Location `json:"location"`

	Bearing      *float64 `json:"bearing,omitempty"`
	DelaySeconds *int     `json:"delay_seconds,omitempty"`

	RecordedAt time.Time `json:"recorded_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (e *Entry) MarshalBinary() ([]byte, error) {
	return json.Marshal(e)
}

func (e *Entry) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, e)
}

// NewEntryFromLocation lifts a stored location row into a cache entry. The
// service and operator attribution is filled in by the caller; a location row
// doesn't carry it.
func NewEntryFromLocation(location *model.VehicleLocation) *Entry {
	entry := &Entry{}
	copier.Copy(entry, location)

	entry.UpdatedAt = time.Now()
	return entry
}

type Cache struct {
	Client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{Client: client}
}

// Put writes the entry and its index memberships in one pipeline, so a
// crashed write never leaves a set pointing at a key that was never written
func (c *Cache) Put(ctx context.Context, entry *Entry, ttl time.Duration) error {
	pipeline := c.Client.TxPipeline()

	pipeline.Set(ctx, fmt.Sprintf(vehicleKeyFormat, entry.VehicleRef), entry, ttl)

	if entry.ServiceRef != "" {
		pipeline.SAdd(ctx, fmt.Sprintf(serviceSetFormat, entry.ServiceRef), entry.VehicleRef)
	}
	if entry.OperatorRef != "" {
		pipeline.SAdd(ctx, fmt.Sprintf(operatorSetFormat, entry.OperatorRef), entry.VehicleRef)
	}

	pipeline.GeoAdd(ctx, geoKey, &redis.GeoLocation{
		Name:      entry.VehicleRef,
		Longitude: entry.Location.Longitude(),
		Latitude:  entry.Location.Latitude(),
	})

	_, err := pipeline.Exec(ctx)
	return err
}

// RefreshTTL extends an unchanged entry's lifetime without rewriting it
func (c *Cache) RefreshTTL(ctx context.Context, vehicleRef string, ttl time.Duration) error {
	return c.Client.Expire(ctx, fmt.Sprintf(vehicleKeyFormat, vehicleRef), ttl).Err()
}

// GetCurrent returns the vehicle's cached state, or (nil, nil) once the entry
// has expired
func (c *Cache) GetCurrent(ctx context.Context, vehicleRef string) (*Entry, error) {
	value, err := c.Client.Get(ctx, fmt.Sprintf(vehicleKeyFormat, vehicleRef)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal(value, &entry); err != nil {
		return nil, err
	}

	return &entry, nil
}

func (c *Cache) ListByService(ctx context.Context, serviceRef string) ([]*Entry, error) {
	return c.listSet(ctx, fmt.Sprintf(serviceSetFormat, serviceRef))
}

func (c *Cache) ListByOperator(ctx context.Context, operatorRef string) ([]*Entry, error) {
	return c.listSet(ctx, fmt.Sprintf(operatorSetFormat, operatorRef))
}

// listSet resolves a membership set to live entries. Members whose entry has
// expired are pruned from the set as a side effect; index sets self-heal
// instead of carrying their own TTL.
func (c *Cache) listSet(ctx context.Context, setKey string) ([]*Entry, error) {
	members, err := c.Client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	keys := make([]string, len(members))
	for i, member := range members {
		keys[i] = fmt.Sprintf(vehicleKeyFormat, member)
	}

	values, err := c.Client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	var entries []*Entry
	var expired []interface{}

	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			expired = append(expired, members[i])
			continue
		}

		var entry Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			expired = append(expired, members[i])
			continue
		}

		entries = append(entries, &entry)
	}

	if len(expired) > 0 {
		c.Client.SRem(ctx, setKey, expired...)
		c.Client.ZRem(ctx, geoKey, expired...)
	}

	return entries, nil
}

// ListWithinBounds returns live entries inside the box. The geo index answers
// the coarse search; results are re-checked against the box because geo
// members can outlive their entry.
func (c *Cache) ListWithinBounds(ctx context.Context, box model.BoundingBox) ([]*Entry, error) {
	centre := box.Centre()

	members, err := c.Client.GeoSearch(ctx, geoKey, &redis.GeoSearchQuery{
		Longitude: centre.Longitude(),
		Latitude:  centre.Latitude(),
		BoxWidth:  box.WidthMetres(),
		BoxHeight: box.HeightMetres(),
		BoxUnit:   "m",
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	var entries []*Entry
	var expired []interface{}

	for _, member := range members {
		entry, err := c.GetCurrent(ctx, member)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			expired = append(expired, member)
			continue
		}

		if box.Contains(&entry.Location) {
			entries = append(entries, entry)
		}
	}

	if len(expired) > 0 {
		c.Client.ZRem(ctx, geoKey, expired...)
	}

	return entries, nil
}

// Remove evicts a vehicle from the cache and its indexes, used when a source
// stops reporting the vehicle
func (c *Cache) Remove(ctx context.Context, vehicleRef string, serviceRef string, operatorRef string) error {
	pipeline := c.Client.TxPipeline()

	pipeline.Del(ctx, fmt.Sprintf(vehicleKeyFormat, vehicleRef))
	if serviceRef != "" {
		pipeline.SRem(ctx, fmt.Sprintf(serviceSetFormat, serviceRef), vehicleRef)
	}
	if operatorRef != "" {
		pipeline.SRem(ctx, fmt.Sprintf(operatorSetFormat, operatorRef), vehicleRef)
	}
	pipeline.ZRem(ctx, geoKey, vehicleRef)

	_, err := pipeline.Exec(ctx)
	return err
}

// Rebuild repopulates the cache from replayed entries after a Redis loss
func (c *Cache) Rebuild(ctx context.Context, entries []*Entry, ttl time.Duration) error {
	for _, entry := range entries {
		if err := c.Put(ctx, entry, ttl); err != nil {
			return err
		}
	}

	return nil
}
