package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"bsonschema/internal/schema"
	"bsonschema/internal/schema/mongo"
	"bsonschema/internal/schema/typereg"
	"bsonschema/internal/schema/types"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	schemaType string
	output     string
	collection string
	level      string
	action     string
	canonical  bool
	noBuiltins bool
	debug      bool
}

var outputs = []string{"native", "intermediate", "translation", "command"}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "schemaconv [file]",
		Short: "Convert a schema into a MongoDB $jsonSchema validator",
		Long: fmt.Sprintf(`Convert a schema into a MongoDB $jsonSchema validator.

Reads the schema from file, or from stdin when file is "-" or omitted.

Schema types: JSON, AVRO, PROTOBUF, DEF
Outputs: %s`, strings.Join(outputs, ", ")),
		Example: `  # Validator for a JSON Schema
  schemaconv user.schema.json

  # Intermediate schema of a validator definition dump
  schemaconv --type DEF --output intermediate user.yaml

  # createCollection command for an Avro record
  schemaconv -t AVRO -o command -c users --level strict user.avsc`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoot(cmd, opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.schemaType, "type", "t", string(types.JSON), "Schema type (JSON, AVRO, PROTOBUF, DEF)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "native", fmt.Sprintf("Output (%s)", strings.Join(outputs, ", ")))
	cmd.Flags().StringVarP(&opts.collection, "collection", "c", "", "Collection name for --output command")
	cmd.Flags().StringVar(&opts.level, "level", "", "Validation level for --output command (strict, moderate, off)")
	cmd.Flags().StringVar(&opts.action, "action", "", "Validation action for --output command (error, warn)")
	cmd.Flags().BoolVar(&opts.canonical, "canonical", false, "Print canonical extended JSON for --output command")
	cmd.Flags().BoolVar(&opts.noBuiltins, "no-builtins", false, "Do not resolve the built-in custom types (objectId, date, ...)")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	return cmd
}

func runRoot(cmd *cobra.Command, opts *rootOptions, args []string) error {
	level := slog.LevelWarn
	if opts.debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))

	src, err := readSource(cmd, args)
	if err != nil {
		return err
	}

	reg := typereg.Builtins()
	if opts.noBuiltins {
		reg = typereg.New()
	}
	t, err := schema.NewTranslator(reg).Translate(string(src), types.SchemaType(strings.ToUpper(opts.schemaType)))
	if err != nil {
		return err
	}
	for _, d := range t.Diagnostics {
		slog.Warn("Schema degraded", "code", d.Code, "path", d.Path, "kind", d.Kind, "message", d.Message)
	}

	var out []byte
	switch opts.output {
	case "native":
		out, err = json.MarshalIndent(t.Validator, "", "  ")
	case "intermediate":
		out, err = json.MarshalIndent(t.Intermediate, "", "  ")
	case "translation":
		out, err = json.MarshalIndent(t, "", "  ")
	case "command":
		out, err = command(opts, t.Validator)
	default:
		return fmt.Errorf("unknown output %q (%s)", opts.output, strings.Join(outputs, ", "))
	}
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}

func readSource(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return data, nil
}

func command(opts *rootOptions, validator types.Schema) ([]byte, error) {
	if opts.collection == "" {
		return nil, fmt.Errorf("--collection is required for --output command")
	}
	cmd, err := mongo.CreateCollectionCommand(opts.collection, validator, mongo.CommandOptions{
		Level:  mongo.ValidationLevel(opts.level),
		Action: mongo.ValidationAction(opts.action),
	})
	if err != nil {
		return nil, err
	}
	return mongo.ExtJSON(cmd, opts.canonical)
}
