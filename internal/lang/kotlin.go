package lang

func init() {
	Register(&LanguageSpec{
		Language:          Kotlin,
		FileExtensions:    []string{".kt", ".kts"},
		FunctionNodeTypes: []string{"function_declaration"},
		MethodNodeTypes:   []string{"secondary_constructor"},
		ClassNodeTypes:    []string{"class_declaration", "object_declaration"},
		ClassBodyTypes:    []string{"class_body"},
		CallNodeTypes:     []string{"call_expression"},
		ImportNodeTypes:   []string{"import"},
		ImportStyle:       ImportDotted,
		ProbeExtensions:   []string{".kt", ".kts"},
		PackageIndicators: []string{"build.gradle.kts"},
	})
}
