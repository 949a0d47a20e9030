package graph

// validate checks a candidate graph shape without committing it, so
// mutation methods can stay atomic.
func validate(nodes []*Node, tensors map[string]*Tensor, inputs, outputs []string) error {
	seen := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if seen[n.Name] {
			return &StructuralError{Kind: "duplicate_node", Node: n.Name, Detail: "node name declared twice"}
		}
		seen[n.Name] = true

		for _, ref := range n.Inputs {
			if _, ok := tensors[ref]; !ok {
				return &StructuralError{Kind: "dangling_edge", Node: n.Name, Tensor: ref, Detail: "input does not resolve"}
			}
		}
		for _, ref := range n.Outputs {
			if _, ok := tensors[ref]; !ok {
				return &StructuralError{Kind: "dangling_edge", Node: n.Name, Tensor: ref, Detail: "output does not resolve"}
			}
		}
	}

	for _, name := range inputs {
		if _, ok := tensors[name]; !ok {
			return &StructuralError{Kind: "dangling_edge", Tensor: name, Detail: "graph input does not resolve"}
		}
	}
	for _, name := range outputs {
		if _, ok := tensors[name]; !ok {
			return &StructuralError{Kind: "dangling_edge", Tensor: name, Detail: "graph output does not resolve"}
		}
	}

	return checkAcyclic(nodes)
}

// checkAcyclic runs a three-color DFS over the node dependency relation
// (a node depends on the producer of each of its inputs). Traversal
// order follows node declaration order, so the reported cycle is
// deterministic.
func checkAcyclic(nodes []*Node) error {
	producer := make(map[string]int)
	for i, n := range nodes {
		for _, out := range n.Outputs {
			producer[out] = i
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make([]int, len(nodes))

	var visit func(i int) error
	visit = func(i int) error {
		color[i] = gray
		for _, in := range nodes[i].Inputs {
			dep, ok := producer[in]
			if !ok {
				continue
			}
			if dep == i {
				return &StructuralError{Kind: "cycle", Node: nodes[i].Name, Tensor: in, Detail: "node consumes its own output"}
			}
			switch color[dep] {
			case gray:
				return &StructuralError{Kind: "cycle", Node: nodes[i].Name, Tensor: in, Detail: "dependency closes a cycle"}
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[i] = black
		return nil
	}

	for i := range nodes {
		if color[i] == white {
			if err := visit(i); err != nil {
				return err
			}
		}
	}
	return nil
}
