package integrity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func noopChecker() Checker {
	return CheckerFunc(func(ctx context.Context, ids []string) error { return nil })
}

// chain builds line → txn → period → year with one-to-one id accessors
// that prefix ids with the target node name.
func newChainGraph(t *testing.T) *Graph {
	t.Helper()
	g := NewGraph(zaptest.NewLogger(t))
	for _, key := range []string{"line", "txn", "period", "year"} {
		require.NoError(t, g.RegisterNode(key, noopChecker()))
	}
	link := func(parent, child string) {
		require.NoError(t, g.AddLink(Link{
			Parent: parent,
			Child:  child,
			ChildIDs: func(ctx context.Context, ids []string) ([]string, error) {
				return prefixed(child, ids), nil
			},
			ParentIDs: func(ctx context.Context, ids []string) ([]string, error) {
				return prefixed(parent, ids), nil
			},
		}))
	}
	link("year", "period")
	link("period", "txn")
	link("txn", "line")
	return g
}

func prefixed(node string, ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, node+":"+id)
	}
	return out
}

func TestRegisterNodeRejectsDuplicate(t *testing.T) {
	g := NewGraph(zaptest.NewLogger(t))
	require.NoError(t, g.RegisterNode("txn", noopChecker()))
	assert.ErrorIs(t, g.RegisterNode("txn", noopChecker()), ErrNodeExists)
}

func TestAddLinkRejectsCycle(t *testing.T) {
	g := newChainGraph(t)

	assert.ErrorIs(t, g.AddLink(Link{Parent: "line", Child: "year"}), ErrCyclicLink)
	assert.ErrorIs(t, g.AddLink(Link{Parent: "txn", Child: "txn"}), ErrSelfLink)
	assert.ErrorIs(t, g.AddLink(Link{Parent: "year", Child: "period"}), ErrLinkExists)
	assert.ErrorIs(t, g.AddLink(Link{Parent: "year", Child: "ghost"}), ErrNodeUnknown)
}

func TestRemoveLink(t *testing.T) {
	g := newChainGraph(t)

	require.NoError(t, g.RemoveLink("txn", "line"))
	assert.Empty(t, g.DescendantsOf("txn"))
	assert.ErrorIs(t, g.RemoveLink("txn", "line"), ErrLinkUnknown)

	// The dropped edge no longer closes a cycle.
	assert.NoError(t, g.AddLink(Link{Parent: "line", Child: "txn"}))
}

func TestTraversalOrders(t *testing.T) {
	g := newChainGraph(t)

	assert.Equal(t, []string{"period", "txn", "line"}, g.DescendantsOf("year"))
	assert.Equal(t, []string{"txn", "period", "year"}, g.AncestorsOf("line"))
	assert.Equal(t, []string{"year", "period", "txn", "line"}, g.AllNodesBFS())
}

func TestCheckFullIntegrityRunsDeepestFirst(t *testing.T) {
	g := NewGraph(zaptest.NewLogger(t))
	var order []string
	record := func(key string) Checker {
		return CheckerFunc(func(ctx context.Context, ids []string) error {
			order = append(order, key)
			return nil
		})
	}
	for _, key := range []string{"year", "period", "txn", "line"} {
		require.NoError(t, g.RegisterNode(key, record(key)))
	}
	require.NoError(t, g.AddLink(Link{Parent: "year", Child: "period"}))
	require.NoError(t, g.AddLink(Link{Parent: "period", Child: "txn"}))
	require.NoError(t, g.AddLink(Link{Parent: "txn", Child: "line"}))

	require.NoError(t, g.CheckFullIntegrity(context.Background()))
	assert.Equal(t, []string{"line", "txn", "period", "year"}, order)
}

func TestCheckFullIntegrityCollectsViolations(t *testing.T) {
	g := NewGraph(zaptest.NewLogger(t))
	require.NoError(t, g.RegisterNode("bad", CheckerFunc(func(ctx context.Context, ids []string) error {
		return assert.AnError
	})))
	require.NoError(t, g.RegisterNode("good", noopChecker()))

	err := g.CheckFullIntegrity(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
}

func TestCheckModelThenParentsTranslatesIDs(t *testing.T) {
	g := NewGraph(zaptest.NewLogger(t))
	var visited []string
	var txnIDs, periodIDs []string
	require.NoError(t, g.RegisterNode("txn", CheckerFunc(func(ctx context.Context, ids []string) error {
		visited = append(visited, "txn")
		txnIDs = ids
		return nil
	})))
	require.NoError(t, g.RegisterNode("period", CheckerFunc(func(ctx context.Context, ids []string) error {
		visited = append(visited, "period")
		periodIDs = ids
		return nil
	})))
	require.NoError(t, g.AddLink(Link{
		Parent: "period",
		Child:  "txn",
		ParentIDs: func(ctx context.Context, ids []string) ([]string, error) {
			return prefixed("period", ids), nil
		},
	}))

	require.NoError(t, g.CheckModelThenParents(context.Background(), "txn", []string{"t1", "t2"}))
	assert.Equal(t, []string{"txn", "period"}, visited)
	assert.Equal(t, []string{"t1", "t2"}, txnIDs)
	assert.Equal(t, []string{"period:t1", "period:t2"}, periodIDs)
}

func TestCheckChildrenThenModelStopsAtFirstViolation(t *testing.T) {
	boom := CheckerFunc(func(ctx context.Context, ids []string) error { return assert.AnError })
	fresh := NewGraph(zaptest.NewLogger(t))
	var parentChecked bool
	require.NoError(t, fresh.RegisterNode("txn", CheckerFunc(func(ctx context.Context, ids []string) error {
		parentChecked = true
		return nil
	})))
	require.NoError(t, fresh.RegisterNode("line", boom))
	require.NoError(t, fresh.AddLink(Link{Parent: "txn", Child: "line"}))

	err := fresh.CheckChildrenThenModel(context.Background(), "txn", []string{"t1"})
	assert.ErrorIs(t, err, assert.AnError)
	assert.False(t, parentChecked, "model must not be checked after a child violation")
}

func TestCheckUnknownNode(t *testing.T) {
	g := NewGraph(zaptest.NewLogger(t))
	assert.ErrorIs(t, g.CheckModelThenParents(context.Background(), "ghost", nil), ErrNodeUnknown)
	assert.ErrorIs(t, g.CheckChildrenThenModel(context.Background(), "ghost", nil), ErrNodeUnknown)
}
