package engine

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/morphogen/internal/testutil"
)

func TestUUIDv7Generator_Format(t *testing.T) {
	gen := UUIDv7Generator{}
	id := gen.Generate()

	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
}

func TestUUIDv7Generator_Concurrent(t *testing.T) {
	gen := UUIDv7Generator{}
	const goroutines = 100

	ids := make(chan string, goroutines)
	var wg sync.WaitGroup

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- gen.Generate()
		}()
	}

	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		require.False(t, seen[id], "duplicate run id generated")
		seen[id] = true
	}
	assert.Equal(t, goroutines, len(seen))
}

func TestFixedGenerator_Sequential(t *testing.T) {
	gen := NewFixedGenerator("run-1", "run-2", "run-3")

	assert.Equal(t, "run-1", gen.Generate())
	assert.Equal(t, "run-2", gen.Generate())
	assert.Equal(t, "run-3", gen.Generate())
}

func TestFixedGenerator_PanicsWhenExhausted(t *testing.T) {
	gen := NewFixedGenerator("run-1")
	assert.Equal(t, "run-1", gen.Generate())

	assert.Panics(t, func() {
		gen.Generate()
	}, "should panic when all ids exhausted")
}

func TestFixedGenerator_Empty(t *testing.T) {
	gen := NewFixedGenerator()
	assert.Panics(t, func() {
		gen.Generate()
	})
}

func TestEngine_RunID(t *testing.T) {
	sc := testutil.Scenario(t)

	e, err := New(sc, nil, WithRunIDGenerator(NewFixedGenerator("run-a")))
	require.NoError(t, err)
	assert.Equal(t, "run-a", e.RunID())

	// A fixed id wins over the generator, which is never consulted.
	e, err = New(sc, nil, WithRunID("explicit"), WithRunIDGenerator(NewFixedGenerator()))
	require.NoError(t, err)
	assert.Equal(t, "explicit", e.RunID())

	e, err = New(sc, nil, WithRunIDGenerator(testutil.NewFixedRunIDGenerator("from-testutil")))
	require.NoError(t, err)
	assert.Equal(t, "from-testutil", e.RunID())
}

func TestEngine_RunIDDefaultsToUUIDv7(t *testing.T) {
	e, err := New(testutil.Scenario(t), nil)
	require.NoError(t, err)

	parsed, err := uuid.Parse(e.RunID())
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
}
