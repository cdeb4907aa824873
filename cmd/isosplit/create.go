package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/isosplit/isosplit/internal/templates"
)

func createCmd() *cobra.Command {
	var (
		template string
		port     int
	)

	cmd := &cobra.Command{
		Use:   "create <dir>",
		Short: "Create a new project",
		Long: `Create a new project in <dir>, which must be missing or empty.

Templates:
  ts   TypeScript entry and marker modules (default)
  js   JavaScript entry and marker modules

Examples:
  isosplit create my-app
  isosplit create my-app --template=js`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(args[0], template, port)
		},
	}

	cmd.Flags().StringVarP(&template, "template", "t", "ts", "Project template (js, ts)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Dev server port written to isosplit.json")

	return cmd
}

func runCreate(name, templateName string, port int) error {
	tmpl, err := templates.Get(templateName)
	if err != nil {
		return err
	}

	projectDir, err := filepath.Abs(name)
	if err != nil {
		return err
	}

	info("Creating %s from the '%s' template...", name, templateName)
	if err := tmpl.Create(projectDir, templates.Config{
		ProjectName: filepath.Base(projectDir),
		Port:        port,
	}); err != nil {
		return err
	}

	for _, p := range tmpl.Paths() {
		info("  %s", p)
	}
	fmt.Println()
	success("Created %s", name)
	fmt.Println()
	fmt.Println("  Next steps:")
	fmt.Printf("    cd %s\n", name)
	fmt.Println("    isosplit dev")
	fmt.Println()
	return nil
}
