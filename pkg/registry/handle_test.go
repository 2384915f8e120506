package registry_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/gosec-playbooks/pkg/finding"
	"github.com/user/gosec-playbooks/pkg/playbook"
	"github.com/user/gosec-playbooks/pkg/registry"
)

func TestHandle_AddPublishesCopy(t *testing.T) {
	base, err := registry.Build(mustDescriptor(t, "CIS22", "CIS 2.2", []string{title22}))
	require.NoError(t, err)
	h := registry.NewHandle(base)

	require.NoError(t, h.Add(mustDescriptor(t, "CIS43", "CIS 4.3", []string{title43})))
	assert.Equal(t, 1, base.Len(), "published registries are never mutated")
	assert.Equal(t, 2, h.Load().Len())

	err = h.Add(mustDescriptor(t, "CIS43", "CIS 4.3", []string{title43}))
	require.ErrorIs(t, err, registry.ErrDuplicateName)
	assert.Equal(t, 2, h.Load().Len())

	d, ok, err := h.Resolve(finding.Finding{Title: title43, Status: "NEW"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "CIS43", d.Name())
}

func TestHandle_UpdateFailureKeepsCurrent(t *testing.T) {
	h := registry.NewHandle(nil)
	before := h.Load()

	err := h.Update(func(*registry.Registry) (*registry.Registry, error) {
		return nil, errors.New("boom")
	})
	require.Error(t, err)
	assert.Same(t, before, h.Load())

	require.Error(t, h.Update(func(*registry.Registry) (*registry.Registry, error) { return nil, nil }))
	assert.Same(t, before, h.Load())
}

func TestHandle_ConcurrentReaders(t *testing.T) {
	h := registry.NewHandle(nil)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				r := h.Load()
				// Every published registry is complete: names and labels line up.
				for _, d := range r.All() {
					got, ok := r.ByActionLabel(d.ActionLabel())
					if !ok || got.Name() != d.Name() {
						t.Errorf("inconsistent registry snapshot at %s", d.Name())
						return
					}
				}
				_, _, _ = h.Resolve(finding.Finding{Title: "t 3", Status: "NEW"})
			}
		}()
	}

	for i := 0; i < 50; i++ {
		d, err := playbook.New(playbook.Spec{
			Name: fmt.Sprintf("P%d", i), ActionLabel: fmt.Sprintf("A%d", i),
			Titles: []string{fmt.Sprintf("t %d", i)}, Statuses: []string{"NEW"},
		})
		require.NoError(t, err)
		require.NoError(t, h.Add(d))
	}
	close(stop)
	wg.Wait()

	assert.Equal(t, 50, h.Load().Len())
}
