// cmd/tools/template-registry/main.go
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"subsidy-esign/internal/common/logger"
	"subsidy-esign/internal/signing/fields"
	"subsidy-esign/internal/signing/pdffill"
	"subsidy-esign/pkg/registry"
)

func main() {
	listCmd := flag.NewFlagSet("list", flag.ExitOnError)
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
	inspectCmd := flag.NewFlagSet("inspect", flag.ExitOnError)

	listPath := listCmd.String("path", "configs/templates.json", "Path to template registry")
	validatePath := validateCmd.String("path", "configs/templates.json", "Path to template registry")
	baseDir := validateCmd.String("base-dir", "", "Directory template files are relative to")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "list":
		listCmd.Parse(os.Args[2:])
		if err := list(*listPath); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}

	case "validate":
		validateCmd.Parse(os.Args[2:])
		if err := validate(*validatePath, *baseDir); err != nil {
			fmt.Printf("Registry validation failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Registry validation passed.")

	case "inspect":
		inspectCmd.Parse(os.Args[2:])
		if inspectCmd.NArg() != 1 {
			fmt.Println("Error: inspect takes one PDF file.")
			os.Exit(1)
		}
		if err := inspect(inspectCmd.Arg(0)); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}

	case "help":
		fallthrough
	default:
		help()
	}
}

func list(path string) error {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}
	fmt.Printf("Registry version %s, %d template(s)\n", reg.Version, len(reg.Templates))
	for _, t := range reg.Templates {
		fmt.Printf("  %-20s v%-4s %-16s %s (%d fields, %d anchors)\n",
			t.ID, t.Version, t.FormKind, t.File, len(t.Fields), len(t.Anchors))
	}
	return nil
}

// validate checks the registry file, every PDF it references and the field
// catalogs derived from it.
func validate(path, baseDir string) error {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}
	if len(reg.Templates) == 0 {
		return fmt.Errorf("registry contains no templates")
	}
	if err := reg.Validate(); err != nil {
		return err
	}

	filler := pdffill.NewFiller(reg, baseDir, pdffill.NewPDFCPUWriter(), logger.NewNoOpLogger())
	if err := filler.Preflight(); err != nil {
		return err
	}

	catalogs := fields.NewRegistry(fields.DefaultProviderCatalogs()...)
	for i := range reg.Templates {
		catalogs.Register(fields.CatalogFromTemplate(&reg.Templates[i]))
	}
	return catalogs.Validate()
}

func inspect(file string) error {
	content, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	acro, err := pdffill.Inspect(content)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(acro))
	for name := range acro {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		f := acro[name]
		line := fmt.Sprintf("  %-40s %-9s", f.Name, f.Kind)
		if len(f.Options) > 0 {
			line += " [" + strings.Join(f.Options, ", ") + "]"
		}
		fmt.Println(line)
	}
	return nil
}

func help() {
	fmt.Println("Usage: template-registry <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  list      Print the registered templates")
	fmt.Println("  validate  Check the registry against its PDF files and field catalogs")
	fmt.Println("  inspect   Print the AcroForm fields of a PDF file")
}
