package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/qrefine/internal/pgschema"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the introspected database schema as the model sees it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")
		ctx := cmd.Context()

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()

		pool, err := a.postgres(ctx)
		if err != nil {
			return err
		}
		schema, err := pgschema.NewIntrospector(pool, logger).Schema(ctx)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if jsonOut {
			return printJSON(w, schema)
		}
		fmt.Fprintln(w, schema.Describe())
		if rel := schema.DescribeRelationships(); rel != "" {
			fmt.Fprintf(w, "\nFOREIGN KEY RELATIONSHIPS:\n%s\n", rel)
		}
		return nil
	},
}

func init() {
	schemaCmd.Flags().Bool("json", false, "print the schema as JSON (usable with optimize --schema)")
}
