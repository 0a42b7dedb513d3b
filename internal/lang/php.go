package lang

func init() {
	Register(&LanguageSpec{
		Language:           PHP,
		FileExtensions:     []string{".php"},
		FunctionNodeTypes:  []string{"function_definition"},
		MethodNodeTypes:    []string{"method_declaration"},
		ClassNodeTypes:     []string{"class_declaration", "trait_declaration"},
		InterfaceNodeTypes: []string{"interface_declaration"},
		EnumNodeTypes:      []string{"enum_declaration"},
		ClassBodyTypes:     []string{"declaration_list"},
		CallNodeTypes: []string{
			"function_call_expression",
			"member_call_expression",
			"scoped_call_expression",
			"nullsafe_member_call_expression",
		},
		ConstructorNodeTypes: []string{"object_creation_expression"},
		ImportNodeTypes: []string{
			"namespace_use_declaration",
			"require_expression",
			"require_once_expression",
			"include_expression",
			"include_once_expression",
		},
		ImportStyle:       ImportRelative,
		ProbeExtensions:   []string{".php"},
		PackageIndicators: []string{"composer.json"},
	})
}
