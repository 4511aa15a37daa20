package cli

import (
	"flag"
	"fmt"

	"gopkg.in/yaml.v3"
)

func newValidateMatrixCommand() *Command {
	return &Command{
		Name:        "validate-matrix",
		Description: "Validate a permission matrix YAML file",
		Flags:       flag.NewFlagSet("validate-matrix", flag.ExitOnError),
		Run:         runValidateMatrix,
	}
}

func runValidateMatrix(args []string) error {
	flags := flag.NewFlagSet("validate-matrix", flag.ContinueOnError)
	file := flags.String("file", "", "Permission matrix YAML file")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("-file is required")
	}

	matrix, err := loadMatrixFlag(*file)
	if err != nil {
		return fmt.Errorf("invalid matrix %s: %w", *file, err)
	}

	fmt.Fprintf(stdout, "Matrix is valid: %d roles, %d permissions\n", len(matrix.Roles), len(matrix.Permissions()))
	return nil
}

func newExportMatrixCommand() *Command {
	return &Command{
		Name:        "export-matrix",
		Description: "Print the built-in permission matrix as YAML",
		Flags:       flag.NewFlagSet("export-matrix", flag.ExitOnError),
		Run:         runExportMatrix,
	}
}

func runExportMatrix(args []string) error {
	flags := flag.NewFlagSet("export-matrix", flag.ContinueOnError)
	file := flags.String("file", "", "Matrix file to normalize instead of the built-in matrix")
	if err := flags.Parse(args); err != nil {
		return err
	}

	matrix, err := loadMatrixFlag(*file)
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(stdout)
	enc.SetIndent(2)
	if err := enc.Encode(matrix); err != nil {
		return fmt.Errorf("failed to encode matrix: %w", err)
	}
	return enc.Close()
}
