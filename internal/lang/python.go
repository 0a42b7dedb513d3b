package lang

func init() {
	Register(&LanguageSpec{
		Language:          Python,
		FileExtensions:    []string{".py", ".pyi"},
		FunctionNodeTypes: []string{"function_definition"},
		ClassNodeTypes:    []string{"class_definition"},
		ClassBodyTypes:    []string{"class_definition"},
		CallNodeTypes:     []string{"call"},
		ImportNodeTypes:   []string{"import_statement", "import_from_statement"},
		ImportStyle:       ImportDotted,
		ProbeExtensions:   []string{".py", ".pyi"},
		IndexNames:        []string{"__init__"},
		PackageIndicators: []string{"__init__.py"},
	})
}
