package lang

func init() {
	Register(&LanguageSpec{
		Language:             Java,
		FileExtensions:       []string{".java"},
		MethodNodeTypes:      []string{"method_declaration", "constructor_declaration"},
		ClassNodeTypes:       []string{"class_declaration", "record_declaration"},
		InterfaceNodeTypes:   []string{"interface_declaration", "annotation_type_declaration"},
		EnumNodeTypes:        []string{"enum_declaration"},
		ClassBodyTypes:       []string{"class_body", "interface_body", "enum_body"},
		CallNodeTypes:        []string{"method_invocation"},
		ConstructorNodeTypes: []string{"object_creation_expression"},
		ImportNodeTypes:      []string{"import_declaration"},
		ImportStyle:          ImportDotted,
		ProbeExtensions:      []string{".java"},
		PackageIndicators:    []string{"pom.xml", "build.gradle"},
	})
}
