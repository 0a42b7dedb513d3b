package lang

func init() {
	Register(&LanguageSpec{
		Language:          Go,
		FileExtensions:    []string{".go"},
		FunctionNodeTypes: []string{"function_declaration"},
		MethodNodeTypes:   []string{"method_declaration"},
		// type_spec is split into class/interface by its type child.
		ClassNodeTypes:    []string{"type_spec"},
		CallNodeTypes:     []string{"call_expression"},
		ImportNodeTypes:   []string{"import_declaration"},
		ImportStyle:       ImportGoPackage,
		ProbeExtensions:   []string{".go"},
		PackageIndicators: []string{"go.mod"},
	})
}
