package container

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndResolveSingleton(t *testing.T) {
	r := New()
	calls := 0
	require.NoError(t, r.RegisterSingleton("svc", func() (any, error) {
		calls++
		return &struct{ n int }{n: 42}, nil
	}))

	first, err := r.Resolve("svc")
	require.NoError(t, err)
	second, err := r.Resolve("svc")
	require.NoError(t, err)

	assert.Same(t, first, second, "singleton must return the cached instance")
	assert.Equal(t, 1, calls, "singleton factory must run exactly once")
}

func TestRegisterFactoryRunsEveryResolve(t *testing.T) {
	r := New()
	calls := 0
	require.NoError(t, r.RegisterFactory("fresh", func() (any, error) {
		calls++
		return calls, nil
	}))

	first, err := r.Resolve("fresh")
	require.NoError(t, err)
	second, err := r.Resolve("fresh")
	require.NoError(t, err)

	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)
}

func TestRegisterInstance(t *testing.T) {
	r := New()
	instance := &sync.Mutex{}
	require.NoError(t, r.RegisterInstance("mutex", instance))

	got, err := r.Resolve("mutex")
	require.NoError(t, err)
	assert.Same(t, instance, got)
}

func TestDuplicateRegistrationFails(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterInstance("svc", 1))

	err := r.RegisterInstance("svc", 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServiceAlreadyRegistered)

	// The original registration is untouched.
	got, err := r.Resolve("svc")
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

func TestResolveUnknownKey(t *testing.T) {
	r := New()
	_, err := r.Resolve("missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServiceNotFound)
}

func TestTryResolve(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterInstance("present", "yes"))

	got, ok, err := r.TryResolve("present")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "yes", got)

	got, ok, err = r.TryResolve("absent")
	require.NoError(t, err, "unknown keys are not errors for TryResolve")
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestTryResolvePropagatesFactoryFailure(t *testing.T) {
	r := New()
	boom := errors.New("boom")
	require.NoError(t, r.RegisterSingleton("broken", func() (any, error) {
		return nil, boom
	}))

	_, ok, err := r.TryResolve("broken")
	assert.False(t, ok)
	assert.ErrorIs(t, err, boom)
}

func TestMustResolvePanicsOnMissing(t *testing.T) {
	r := New()
	assert.Panics(t, func() { r.MustResolve("missing") })
}

func TestAlias(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterInstance("audit.service", "the-service"))
	require.NoError(t, r.RegisterAlias("audit.sink", "audit.service"))

	got, err := r.Resolve("audit.sink")
	require.NoError(t, err)
	assert.Equal(t, "the-service", got)
}

func TestAliasRequiresExistingTarget(t *testing.T) {
	r := New()
	err := r.RegisterAlias("alias", "nowhere")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServiceNotFound)
}

func TestSelfCycleDetected(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterSingleton("a", func() (any, error) {
		return r.Resolve("a")
	}))

	_, err := r.Resolve("a")
	var cycle *CircularDependencyError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, "a", cycle.Key)
}

func TestIndirectCycleDetected(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterSingleton("a", func() (any, error) {
		return r.Resolve("b")
	}))
	require.NoError(t, r.RegisterSingleton("b", func() (any, error) {
		return r.Resolve("c")
	}))
	require.NoError(t, r.RegisterSingleton("c", func() (any, error) {
		return r.Resolve("a")
	}))

	_, err := r.Resolve("a")
	var cycle *CircularDependencyError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"a", "b", "c", "a"}, cycle.Chain)
}

func TestNestedResolutionWithoutCycle(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterInstance("leaf", "leaf-value"))
	require.NoError(t, r.RegisterSingleton("parent", func() (any, error) {
		leaf, err := r.Resolve("leaf")
		if err != nil {
			return nil, err
		}
		return "parent-of-" + leaf.(string), nil
	}))

	got, err := r.Resolve("parent")
	require.NoError(t, err)
	assert.Equal(t, "parent-of-leaf-value", got)

	// The chain is cleaned up, a second resolve works the same.
	got, err = r.Resolve("parent")
	require.NoError(t, err)
	assert.Equal(t, "parent-of-leaf-value", got)
}

func TestConcurrentSingletonResolution(t *testing.T) {
	r := New()
	calls := 0
	require.NoError(t, r.RegisterSingleton("slow", func() (any, error) {
		calls++
		time.Sleep(20 * time.Millisecond)
		return &struct{}{}, nil
	}))

	const workers = 16
	results := make([]any, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := r.Resolve("slow")
			assert.NoError(t, err)
			results[i] = got
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, calls, "concurrent first resolutions must serialize, not rebuild")
	for i := 1; i < workers; i++ {
		assert.Same(t, results[0], results[i])
	}
}

func TestConcurrentResolutionSharesFactoryError(t *testing.T) {
	r := New()
	var calls atomic.Int32
	gate := make(chan struct{})
	require.NoError(t, r.RegisterSingleton("doomed", func() (any, error) {
		calls.Add(1)
		<-gate
		return nil, errors.New("boom")
	}))

	const workers = 8
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.Resolve("doomed")
		}(i)
	}
	time.Sleep(10 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "waiters join the in-flight construction")
	for i := 0; i < workers; i++ {
		assert.ErrorContains(t, errs[i], "boom")
	}
}

func TestFailedSingletonFactoryRetries(t *testing.T) {
	r := New()
	calls := 0
	require.NoError(t, r.RegisterSingleton("flaky", func() (any, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("transient")
		}
		return "ok", nil
	}))

	_, err := r.Resolve("flaky")
	require.Error(t, err)

	got, err := r.Resolve("flaky")
	require.NoError(t, err, "a failed factory result must not be cached")
	assert.Equal(t, "ok", got)
}

func TestKeysAndClear(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterInstance("b", 1))
	require.NoError(t, r.RegisterInstance("a", 2))

	assert.Equal(t, []string{"a", "b"}, r.Keys())
	assert.True(t, r.IsRegistered("a"))

	r.Clear()
	assert.Empty(t, r.Keys())
	assert.False(t, r.IsRegistered("a"))
}

func TestResolveAs(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterInstance("number", 7))

	n, err := ResolveAs[int](r, "number")
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	_, err = ResolveAs[string](r, "number")
	require.Error(t, err, "a wrong type assertion must surface as an error")

	_, err = ResolveAs[int](r, "missing")
	assert.ErrorIs(t, err, ErrServiceNotFound)
}
