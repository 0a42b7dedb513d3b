package lang

func init() {
	Register(typeScriptSpec(TypeScript, ".ts", ".mts", ".cts"))
}

// typeScriptSpec is shared by TypeScript and TSX; only the grammar differs.
func typeScriptSpec(l Language, exts ...string) *LanguageSpec {
	return &LanguageSpec{
		Language:       l,
		FileExtensions: exts,
		FunctionNodeTypes: []string{
			"function_declaration",
			"generator_function_declaration",
			"function_expression",
			"arrow_function",
		},
		MethodNodeTypes:      []string{"method_definition"},
		ClassNodeTypes:       []string{"class_declaration", "class", "abstract_class_declaration"},
		InterfaceNodeTypes:   []string{"interface_declaration"},
		EnumNodeTypes:        []string{"enum_declaration"},
		ClassBodyTypes:       []string{"class_body"},
		CallNodeTypes:        []string{"call_expression"},
		ConstructorNodeTypes: []string{"new_expression"},
		ImportNodeTypes:      []string{"import_statement", "export_statement", "call_expression"},
		ImportStyle:          ImportRelative,
		ProbeExtensions:      jsProbeExtensions,
		IndexNames:           []string{"index"},
		PackageIndicators:    []string{"package.json", "tsconfig.json"},
	}
}
