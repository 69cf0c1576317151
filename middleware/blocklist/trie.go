package blocklist

import "strings"

// zoneNode is a trie over domain labels stored root-first. A terminal node
// marks a blocked zone: the apex and every descendant match.
type zoneNode struct {
	children map[string]*zoneNode
	terminal bool
}

func newZoneNode() *zoneNode {
	return &zoneNode{children: make(map[string]*zoneNode)}
}

// (*zoneNode).insert adds a normalized zone name.
func (z *zoneNode) insert(name string) {
	node := z

	labels := strings.Split(name, ".")
	for i := len(labels) - 1; i >= 0; i-- {
		child, ok := node.children[labels[i]]
		if !ok {
			child = newZoneNode()
			node.children[labels[i]] = child
		}
		node = child

		// a shorter zone already covers everything below
		if node.terminal {
			return
		}
	}

	node.terminal = true
}

// (*zoneNode).match walks the name from the rightmost label down and reports
// whether any suffix is a blocked zone.
func (z *zoneNode) match(name string) bool {
	if name == "" {
		return z.terminal
	}

	node := z

	rest := name
	for {
		var label string

		if idx := strings.LastIndexByte(rest, '.'); idx >= 0 {
			label, rest = rest[idx+1:], rest[:idx]
		} else {
			label, rest = rest, ""
		}

		node = node.children[label]
		if node == nil {
			return false
		}

		if node.terminal {
			return true
		}

		if rest == "" {
			return false
		}
	}
}

// (*zoneNode).size counts terminal zones.
func (z *zoneNode) size() int {
	n := 0
	if z.terminal {
		n++
	}

	for _, child := range z.children {
		n += child.size()
	}

	return n
}
