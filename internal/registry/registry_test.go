package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type nopSocket struct{}

func (nopSocket) Send(string, any) error { return nil }

func TestRegistry_AddRemoveGet(t *testing.T) {
	t.Parallel()
	r := New()

	c1 := &Connection{AccountID: "a", Scope: ScopeUser, Socket: nopSocket{}}
	c2 := &Connection{AccountID: "a", Scope: ScopeSession, SessionID: "s1", Socket: nopSocket{}}
	r.Add(c1)
	r.Add(c2)

	require.Len(t, r.Get("a"), 2)
	require.Equal(t, 2, r.Count("a"))
	require.Nil(t, r.Get("b"))

	r.Remove(c1)
	require.Len(t, r.Get("a"), 1)
	r.Remove(c2)
	require.Nil(t, r.Get("a"))
	require.Zero(t, r.Count("a"))

	// removing an unknown connection is a no-op
	r.Remove(c2)
}

func TestRegistry_NoLeakedEmptySets(t *testing.T) {
	t.Parallel()
	r := New()
	c := &Connection{AccountID: "a", Scope: ScopeUser, Socket: nopSocket{}}
	r.Add(c)
	r.Remove(c)
	require.Empty(t, r.accounts, "last removal must drop the account entry")
}

func TestRegistry_FindMachineAndSession(t *testing.T) {
	t.Parallel()
	r := New()
	m := &Connection{AccountID: "a", Scope: ScopeMachine, MachineID: "m1", Socket: nopSocket{}}
	s := &Connection{AccountID: "a", Scope: ScopeSession, SessionID: "s1", Socket: nopSocket{}}
	r.Add(m)
	r.Add(s)

	require.Same(t, m, r.FindMachine("a", "m1"))
	require.Nil(t, r.FindMachine("a", "m2"))
	require.Nil(t, r.FindMachine("other", "m1"))

	require.Same(t, s, r.FindSession("a", "s1"))
	require.Nil(t, r.FindSession("a", "s2"))
}

func TestRegistry_ConcurrentChurn(t *testing.T) {
	t.Parallel()
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				c := &Connection{AccountID: "a", Scope: ScopeUser, Socket: nopSocket{}}
				r.Add(c)
				_ = r.Get("a")
				r.Remove(c)
			}
		}()
	}
	wg.Wait()
	require.Zero(t, r.Count("a"))
}
