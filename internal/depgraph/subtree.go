package depgraph

// TreeNode is one level of a dependency subtree.
type TreeNode struct {
	Path     string      `json:"path"`
	Children []*TreeNode `json:"children,omitempty"`
	// Truncated marks a node whose dependencies were cut by the depth limit
	// or because the file already appears on the current branch.
	Truncated bool `json:"truncated,omitempty"`
}

// Subtree returns the dependencies of root up to maxDepth levels deep.
// maxDepth <= 0 means DefaultMaxDepth.
func (g *Graph) Subtree(root string, maxDepth int) *TreeNode {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return g.subtree(root, 0, maxDepth, map[string]bool{})
}

func (g *Graph) subtree(p string, depth, maxDepth int, branch map[string]bool) *TreeNode {
	node := &TreeNode{Path: p}
	deps := g.out[p]
	if len(deps) == 0 {
		return node
	}
	if depth >= maxDepth || branch[p] {
		node.Truncated = true
		return node
	}

	branch[p] = true
	for _, d := range deps {
		node.Children = append(node.Children, g.subtree(d, depth+1, maxDepth, branch))
	}
	delete(branch, p)
	return node
}

// Size returns the number of nodes in the subtree.
func (t *TreeNode) Size() int {
	if t == nil {
		return 0
	}
	n := 1
	for _, c := range t.Children {
		n += c.Size()
	}
	return n
}
