package lang

func init() {
	Register(&LanguageSpec{
		Language:             CPP,
		FileExtensions:       []string{".cpp", ".h", ".hpp", ".cc", ".cxx", ".hxx", ".hh", ".c"},
		FunctionNodeTypes:    []string{"function_definition"},
		ClassNodeTypes:       []string{"class_specifier", "struct_specifier", "union_specifier"},
		EnumNodeTypes:        []string{"enum_specifier"},
		ClassBodyTypes:       []string{"field_declaration_list"},
		CallNodeTypes:        []string{"call_expression"},
		ConstructorNodeTypes: []string{"new_expression"},
		ImportNodeTypes:      []string{"preproc_include"},
		ImportStyle:          ImportInclude,
		ProbeExtensions:      []string{".h", ".hpp", ".hh", ".hxx"},
		PackageIndicators:    []string{"CMakeLists.txt", "Makefile"},
	})
}
