package lang

func init() {
	Register(&LanguageSpec{
		Language:             Scala,
		FileExtensions:       []string{".scala", ".sc"},
		FunctionNodeTypes:    []string{"function_definition"},
		ClassNodeTypes:       []string{"class_definition", "object_definition"},
		InterfaceNodeTypes:   []string{"trait_definition"},
		EnumNodeTypes:        []string{"enum_definition"},
		ClassBodyTypes:       []string{"template_body"},
		CallNodeTypes:        []string{"call_expression"},
		ConstructorNodeTypes: []string{"instance_expression"},
		ImportNodeTypes:      []string{"import_declaration"},
		ImportStyle:          ImportDotted,
		ProbeExtensions:      []string{".scala"},
		PackageIndicators:    []string{"build.sbt"},
	})
}
