package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/DeusData/codegraph/internal/lang"
	"github.com/DeusData/codegraph/internal/parser"
)

func newASTCmd() *cobra.Command {
	var language string
	var depth int
	cmd := &cobra.Command{
		Use:   "ast <file>",
		Short: "Print the syntax tree of one source file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			l, ok := lang.Language(language), language != ""
			if !ok {
				if l, ok = lang.Detect(path); !ok {
					return fmt.Errorf("%s: unsupported file type", path)
				}
			}
			source, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			source = parser.StripBOM(source)
			tree, err := parser.Parse(l, source)
			if err != nil {
				return err
			}
			defer tree.Close()
			printAST(cmd.OutOrStdout(), tree.RootNode(), source, 0, depth)
			return nil
		},
	}
	cmd.Flags().StringVar(&language, "lang", "", "language, overriding detection by extension")
	cmd.Flags().IntVar(&depth, "depth", 0, "maximum depth to print; 0 prints the whole tree")
	return cmd
}

func printAST(w io.Writer, node *tree_sitter.Node, source []byte, indent, depth int) {
	if node == nil || (depth > 0 && indent >= depth) {
		return
	}
	parentKind := "nil"
	if node.Parent() != nil {
		parentKind = node.Parent().Kind()
	}
	text := string(source[node.StartByte():node.EndByte()])
	if len(text) > 60 {
		text = text[:60] + "..."
	}
	fmt.Fprintf(w, "%s%s [%d-%d] (parent=%s) %q\n", strings.Repeat("  ", indent), node.Kind(),
		parser.StartLine(node), parser.EndLine(node), parentKind, text)
	for i := uint(0); i < node.ChildCount(); i++ {
		printAST(w, node.Child(i), source, indent+1, depth)
	}
}
