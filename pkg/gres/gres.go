// Package gres exposes the narrow generic-resource query surface the step
// manager's core-selection code needs: which cores a GRES device is bound
// to, and how many "slack" CPUs a node can still offer once GRES-bound
// cores are set aside. This stands in for the real select/gres plugin
// stack, which is out of scope; the in-memory reference implementation
// here is enough to drive core selection and its tests.
package gres

import "github.com/cuemby/ridgeline/pkg/types"

// Query is the interface stepmgr's core-selection code depends on. A
// production build would back this with the real plugin loader; Reference
// below is the in-memory implementation used everywhere in this module.
type Query interface {
	// CoresForBinding returns the core indices (within the node's
	// TotalCores() space) that gresName is bound to on node, or nil if
	// the device carries no core affinity.
	CoresForBinding(node *types.Node, gresName string) []int
	// SlackCPUs returns how many of node's cores are not claimed by any
	// GRES core-binding and are therefore free for plain CPU allocation.
	SlackCPUs(node *types.Node) int
}

// Reference is the in-memory Query implementation: it reads
// Node.Gres[].CoreBitmap directly, with no plugin indirection.
type Reference struct{}

func NewReference() Reference { return Reference{} }

func (Reference) CoresForBinding(node *types.Node, gresName string) []int {
	for _, g := range node.Gres {
		if g.Name != gresName {
			continue
		}
		var cores []int
		for i, bound := range g.CoreBitmap {
			if bound {
				cores = append(cores, i)
			}
		}
		return cores
	}
	return nil
}

func (Reference) SlackCPUs(node *types.Node) int {
	total := node.TotalCores()
	bound := make([]bool, total)
	for _, g := range node.Gres {
		for i, b := range g.CoreBitmap {
			if b && i < total {
				bound[i] = true
			}
		}
	}
	slack := 0
	for _, b := range bound {
		if !b {
			slack++
		}
	}
	return slack
}
