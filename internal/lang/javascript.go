package lang

// jsProbeExtensions is shared by the JS family: an extensionless specifier
// may point at any of them.
var jsProbeExtensions = []string{".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs"}

func init() {
	Register(&LanguageSpec{
		Language:       JavaScript,
		FileExtensions: []string{".js", ".jsx", ".mjs", ".cjs"},
		FunctionNodeTypes: []string{
			"function_declaration",
			"generator_function_declaration",
			"function_expression",
			"arrow_function",
		},
		MethodNodeTypes:      []string{"method_definition"},
		ClassNodeTypes:       []string{"class_declaration", "class"},
		ClassBodyTypes:       []string{"class_body"},
		CallNodeTypes:        []string{"call_expression"},
		ConstructorNodeTypes: []string{"new_expression"},
		ImportNodeTypes:      []string{"import_statement", "export_statement", "call_expression"},
		ImportStyle:          ImportRelative,
		ProbeExtensions:      jsProbeExtensions,
		IndexNames:           []string{"index"},
		PackageIndicators:    []string{"package.json"},
	})
}
