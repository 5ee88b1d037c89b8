package mastobot

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namedService struct{ name string }

func (s *namedService) Name() string { return s.name }

type greeter interface {
	Greet() string
}

type greeterService struct{ namedService }

func (g *greeterService) Greet() string { return "hello from " + g.name }

func TestCapabilityRegistryInsertAndGet(t *testing.T) {
	r := NewCapabilityRegistry()

	require.NoError(t, r.Insert("Mega", &namedService{name: "mega"}))
	require.NoError(t, r.Insert("local", &namedService{name: "local"}))

	svc, err := r.Get("MEGA")
	require.NoError(t, err)
	assert.Equal(t, "mega", svc.Name())

	assert.Equal(t, []string{"local", "mega"}, r.Names())
	assert.Equal(t, 2, r.Len())

	entries := r.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "local", entries[0].Name)
	assert.False(t, entries[0].RegisteredAt.IsZero())
}

func TestCapabilityRegistryRejectsDuplicates(t *testing.T) {
	r := NewCapabilityRegistry()

	require.NoError(t, r.Insert("mega", &namedService{name: "mega"}))
	err := r.Insert("MEGA", &namedService{name: "other"})
	assert.ErrorIs(t, err, ErrServiceAlreadyRegistered)

	svc, err := r.Get("mega")
	require.NoError(t, err)
	assert.Equal(t, "mega", svc.Name())
}

func TestCapabilityRegistrySeal(t *testing.T) {
	r := NewCapabilityRegistry()
	require.NoError(t, r.Insert("mega", &namedService{name: "mega"}))

	r.Seal()
	r.Seal()
	assert.True(t, r.Sealed())

	err := r.Insert("late", &namedService{name: "late"})
	assert.ErrorIs(t, err, ErrRegistrySealed)
	assert.Equal(t, 1, r.Len())
}

func TestCapabilityRegistryMissing(t *testing.T) {
	_, err := NewCapabilityRegistry().Get("nope")
	assert.ErrorIs(t, err, ErrServiceNotFound)
}

func TestLookup(t *testing.T) {
	r := NewCapabilityRegistry()
	require.NoError(t, r.Insert("greeter", &greeterService{namedService{name: "greeter"}}))
	require.NoError(t, r.Insert("plain", &namedService{name: "plain"}))

	g, err := Lookup[greeter](r, "greeter")
	require.NoError(t, err)
	assert.Equal(t, "hello from greeter", g.Greet())

	_, err = Lookup[greeter](r, "plain")
	assert.ErrorIs(t, err, ErrServiceWrongType)

	_, err = Lookup[greeter](r, "absent")
	assert.ErrorIs(t, err, ErrServiceNotFound)
}

func TestCapabilityRegistryConcurrentReadsAfterSeal(t *testing.T) {
	r := NewCapabilityRegistry()
	require.NoError(t, r.Insert("mega", &namedService{name: "mega"}))
	r.Seal()

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				_, err := r.Get("mega")
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
}
