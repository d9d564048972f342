package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/forward/river/pkg/query"
	"github.com/forward/river/pkg/source"
	"github.com/forward/river/pkg/stage"
)

func newExplainCmd() *cobra.Command {
	explainCmd := &cobra.Command{
		Use:   "explain",
		Short: "Print the stage chain a query compiles to",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return explainQuery(cmd.OutOrStdout())
		},
	}

	explainCmd.Flags().StringP("file", "f", "", "Query file (YAML or JSON).")

	return explainCmd
}

func explainQuery(out io.Writer) error {
	log, err := newLogger()
	if err != nil {
		return err
	}

	file := viper.GetString("file")
	if file == "" {
		return fmt.Errorf("no query file: use --file or RIVER_FILE")
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read query file %q: %w", file, err)
	}
	q, err := query.Parse(data)
	if err != nil {
		return fmt.Errorf("failed to parse query file %q: %w", file, err)
	}

	sel, err := stage.NewSelect(stage.NewEnv(source.NewRegistry(log), log), q)
	if err != nil {
		return fmt.Errorf("failed to build query pipeline: %w", err)
	}
	defer sel.Stop()

	fmt.Fprint(out, sel.Explain())
	return nil
}
