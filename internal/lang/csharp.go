package lang

func init() {
	Register(&LanguageSpec{
		Language:             CSharp,
		FileExtensions:       []string{".cs"},
		FunctionNodeTypes:    []string{"local_function_statement"},
		MethodNodeTypes:      []string{"method_declaration", "constructor_declaration"},
		ClassNodeTypes:       []string{"class_declaration", "struct_declaration", "record_declaration"},
		InterfaceNodeTypes:   []string{"interface_declaration"},
		EnumNodeTypes:        []string{"enum_declaration"},
		ClassBodyTypes:       []string{"declaration_list"},
		CallNodeTypes:        []string{"invocation_expression"},
		ConstructorNodeTypes: []string{"object_creation_expression"},
		ImportNodeTypes:      []string{"using_directive"},
		ImportStyle:          ImportDotted,
		ProbeExtensions:      []string{".cs"},
		PackageIndicators:    []string{"*.csproj"},
	})
}
