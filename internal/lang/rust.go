package lang

func init() {
	Register(&LanguageSpec{
		Language:           Rust,
		FileExtensions:     []string{".rs"},
		FunctionNodeTypes:  []string{"function_item"},
		ClassNodeTypes:     []string{"struct_item", "union_item"},
		InterfaceNodeTypes: []string{"trait_item"},
		EnumNodeTypes:      []string{"enum_item"},
		ClassBodyTypes:     []string{"impl_item", "trait_item"},
		CallNodeTypes:      []string{"call_expression"},
		ImportNodeTypes:    []string{"use_declaration"},
		ImportStyle:        ImportRustPath,
		ProbeExtensions:    []string{".rs"},
		IndexNames:         []string{"mod", "lib"},
		PackageIndicators:  []string{"Cargo.toml"},
	})
}
