package profilestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/veil/pkg/browser"
	"github.com/entrhq/veil/pkg/logging"
	"github.com/entrhq/veil/pkg/types"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) (*Store, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(epoch)
	s, err := Open(filepath.Join(t.TempDir(), "profiles.db"), clock, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, clock
}

func TestAddAndGet(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	p := &types.Profile{
		Name:  "work",
		Notes: "main account",
		Tags:  []string{"a", "b"},
		Proxy: types.ProxyConfig{Enabled: true, Type: types.ProxySOCKS5, Host: "10.0.0.1", Port: 1080, Username: "u", Password: "p"},
	}
	require.NoError(t, s.Add(ctx, p))
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, types.OSWindows, p.OSType)
	assert.Equal(t, types.StatusStopped, p.Status)
	assert.Equal(t, epoch, p.CreatedAt)

	got, err := s.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)
	assert.Equal(t, p.Notes, got.Notes)
	assert.Equal(t, p.Tags, got.Tags)
	assert.Equal(t, p.Proxy, got.Proxy)
	assert.True(t, got.CreatedAt.Equal(epoch))
	assert.Nil(t, got.LastUsed)
}

func TestGetUnknown(t *testing.T) {
	s, _ := openTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDuplicateID(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, &types.Profile{ID: "p1", Name: "one"}))
	assert.Error(t, s.Add(ctx, &types.Profile{ID: "p1", Name: "two"}))
}

func TestListOrder(t *testing.T) {
	s, clock := openTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"first", "second", "third"} {
		require.NoError(t, s.Add(ctx, &types.Profile{Name: name}))
		clock.Advance(time.Minute)
	}

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "first", all[0].Name)
	assert.Equal(t, "second", all[1].Name)
	assert.Equal(t, "third", all[2].Name)
}

func TestListEmpty(t *testing.T) {
	s, _ := openTestStore(t)
	all, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestUpdate(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	p := &types.Profile{ID: "p1", Name: "old", OSType: types.OSLinux}
	require.NoError(t, s.Add(ctx, p))

	p.Name = "new"
	p.OSType = types.OSMacOS
	p.Tags = []string{"x"}
	require.NoError(t, s.Update(ctx, p))

	got, err := s.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "new", got.Name)
	assert.Equal(t, types.OSMacOS, got.OSType)
	assert.Equal(t, []string{"x"}, got.Tags)

	assert.ErrorIs(t, s.Update(ctx, &types.Profile{ID: "nope"}), ErrNotFound)
}

func TestDelete(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, &types.Profile{ID: "p1", Name: "one"}))
	require.NoError(t, s.Delete(ctx, "p1"))
	_, err := s.Get(ctx, "p1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "p1"), ErrNotFound)
}

func TestStatusNormalizedOnLoad(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, &types.Profile{ID: "p1", Name: "one"}))

	tests := []struct {
		stored types.Status
		want   types.Status
	}{
		{types.StatusStopping, types.StatusStopped},
		{types.StatusStarting, types.StatusStopped},
		{types.StatusRunning, types.StatusRunning},
		{types.StatusError, types.StatusError},
	}
	for _, tt := range tests {
		t.Run(string(tt.stored), func(t *testing.T) {
			require.NoError(t, s.SetStatus(ctx, "p1", tt.stored))
			got, err := s.Get(ctx, "p1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Status)
		})
	}

	assert.ErrorIs(t, s.SetStatus(ctx, "nope", types.StatusRunning), ErrNotFound)
}

func TestTouch(t *testing.T) {
	s, clock := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, &types.Profile{ID: "p1", Name: "one"}))

	clock.Advance(time.Hour)
	require.NoError(t, s.Touch(ctx, "p1"))

	got, err := s.Get(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, got.LastUsed)
	assert.True(t, got.LastUsed.Equal(epoch.Add(time.Hour)))

	assert.ErrorIs(t, s.Touch(ctx, "nope"), ErrNotFound)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.db")
	ctx := context.Background()

	s, err := Open(path, clockwork.NewFakeClockAt(epoch), logging.Discard())
	require.NoError(t, err)
	require.NoError(t, s.Add(ctx, &types.Profile{ID: "p1", Name: "one"}))
	require.NoError(t, s.SetStatus(ctx, "p1", types.StatusStopping))
	require.NoError(t, s.Close())

	s, err = Open(path, nil, logging.Discard())
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "one", got.Name)
	assert.Equal(t, types.StatusStopped, got.Status)
}

func TestStatusListener(t *testing.T) {
	s, clock := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, &types.Profile{ID: "p1", Name: "one"}))
	l := s.StatusListener()

	clock.Advance(time.Minute)
	l.StatusChanged("p1", types.StatusStarting)
	l.StatusChanged("p1", types.StatusRunning)

	got, err := s.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusRunning, got.Status)
	require.NotNil(t, got.LastUsed)
	assert.True(t, got.LastUsed.Equal(epoch.Add(time.Minute)))

	// Transitional states leave the stored value alone.
	l.StatusChanged("p1", types.StatusStopping)
	got, err = s.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusRunning, got.Status)

	l.StatusChanged("p1", types.StatusStopped)
	l.BrowserClosed("p1")
	got, err = s.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusStopped, got.Status)

	// Unknown ids are dropped without panicking.
	l.StatusChanged("ghost", types.StatusError)
}

func TestSetDetectedGeo(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	px := types.ProxyConfig{Enabled: true, Type: types.ProxySOCKS5, Host: "10.0.0.2", Port: 1080, Username: "u", Password: "p", PingMS: 42}
	require.NoError(t, s.Add(ctx, &types.Profile{ID: "p1", Name: "one", Proxy: px}))
	require.NoError(t, s.Add(ctx, &types.Profile{ID: "p2", Name: "direct"}))

	geo := types.NewGeoIPInfo("198.51.100.7", "de", "Europe/Berlin", 52.52, 13.405)
	geo.Country = "Germany"
	geo.City = "Berlin"
	require.NoError(t, s.SetDetectedGeo(ctx, "p1", geo))

	got, err := s.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "DE", got.Proxy.CountryCode)
	assert.Equal(t, "Germany", got.Proxy.CountryName)
	assert.Equal(t, "Berlin", got.Proxy.City)
	assert.Equal(t, "Europe/Berlin", got.Proxy.Timezone)
	// Connection settings survive.
	assert.Equal(t, types.ProxySOCKS5, got.Proxy.Type)
	assert.Equal(t, "10.0.0.2", got.Proxy.Host)
	assert.Equal(t, "p", got.Proxy.Password)
	assert.Equal(t, 42, got.Proxy.PingMS)

	// Profiles without a proxy still record where they exit.
	require.NoError(t, s.SetDetectedGeo(ctx, "p2", geo))
	got, err = s.Get(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, "DE", got.Proxy.CountryCode)
	assert.False(t, got.Proxy.Active())

	assert.NoError(t, s.SetDetectedGeo(ctx, "p1", nil))
	assert.ErrorIs(t, s.SetDetectedGeo(ctx, "ghost", geo), ErrNotFound)
}

func TestStatusListener_PersistsGeo(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, &types.Profile{ID: "p1", Name: "one"}))

	gl, ok := s.StatusListener().(browser.GeoListener)
	require.True(t, ok)
	gl.GeoResolved("p1", types.NewGeoIPInfo("203.0.113.9", "JP", "Asia/Tokyo", 35.68, 139.69))
	gl.GeoResolved("ghost", types.NewGeoIPInfo("203.0.113.9", "JP", "Asia/Tokyo", 0, 0))

	got, err := s.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "JP", got.Proxy.CountryCode)
	assert.Equal(t, "Asia/Tokyo", got.Proxy.Timezone)
	assert.Equal(t, types.StatusStopped, got.Status)
}

func TestSelect(t *testing.T) {
	s, clock := openTestStore(t)
	ctx := context.Background()

	for _, p := range []*types.Profile{
		{ID: "id-1", Name: "shop-eu"},
		{ID: "id-2", Name: "shop-us"},
		{ID: "id-3", Name: "personal"},
	} {
		require.NoError(t, s.Add(ctx, p))
		clock.Advance(time.Second)
	}

	names := func(ps []*types.Profile) []string {
		out := make([]string, 0, len(ps))
		for _, p := range ps {
			out = append(out, p.Name)
		}
		return out
	}

	got, err := s.Select(ctx, "id-3")
	require.NoError(t, err)
	assert.Equal(t, []string{"personal"}, names(got))

	got, err = s.Select(ctx, "shop-*")
	require.NoError(t, err)
	assert.Equal(t, []string{"shop-eu", "shop-us"}, names(got))

	got, err = s.Select(ctx, "shop-us", "id-2", "*")
	require.NoError(t, err)
	assert.Equal(t, []string{"shop-us", "shop-eu", "personal"}, names(got))

	_, err = s.Select(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}
