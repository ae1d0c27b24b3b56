package main

import (
	"fmt"
	"io"

	"github.com/disiqueira/gotree/v3"
)

// renderCollectionTree prints every collection under dataDir as a tree
// rooted at the data directory, one leaf per collection name.
func renderCollectionTree(w io.Writer, dataDir string, names []string) {
	tree := gotree.New(dataDir)
	if len(names) == 0 {
		tree.Add("(no collections)")
	}
	for _, name := range names {
		tree.Add(name + ".db")
	}
	fmt.Fprint(w, tree.Print())
}
