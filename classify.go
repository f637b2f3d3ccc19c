package profz

import (
	"sort"
	"strings"
)

// Classifier post-processes a node before it is aggregated.
type Classifier interface {
	Classify(n *Node)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(n *Node)

// Classify calls f(n).
func (f ClassifierFunc) Classify(n *Node) {
	f(n)
}

// PrefixClassifier assigns a Category by the longest matching name prefix.
// Nodes that already carry a Category are left alone.
type PrefixClassifier struct {
	prefixes []string
	rules    map[string]Category
}

// NewPrefixClassifier builds a classifier from prefix -> category rules.
func NewPrefixClassifier(rules map[string]Category) *PrefixClassifier {
	p := &PrefixClassifier{rules: make(map[string]Category, len(rules))}
	for prefix, category := range rules {
		p.rules[prefix] = category
		p.prefixes = append(p.prefixes, prefix)
	}
	// Longest first, then lexical for determinism.
	sort.Slice(p.prefixes, func(i, j int) bool {
		if len(p.prefixes[i]) != len(p.prefixes[j]) {
			return len(p.prefixes[i]) > len(p.prefixes[j])
		}
		return p.prefixes[i] < p.prefixes[j]
	})
	return p
}

// Classify implements Classifier.
func (p *PrefixClassifier) Classify(n *Node) {
	if n.Category != "" {
		return
	}
	for _, prefix := range p.prefixes {
		if strings.HasPrefix(n.Name, prefix) {
			n.Category = p.rules[prefix]
			return
		}
	}
}
