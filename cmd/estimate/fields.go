package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"trial-estimator/internal/derive"
)

var fieldsEditableOnly bool

var fieldsCmd = &cobra.Command{
	Use:   "fields",
	Short: "List record fields with their descriptions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printFields(cmd.OutOrStdout(), fieldsEditableOnly)
	},
}

func init() {
	fieldsCmd.Flags().BoolVar(&fieldsEditableOnly, "editable", false, "only list fields that accept manual edits")
	rootCmd.AddCommand(fieldsCmd)
}

func printFields(w io.Writer, editableOnly bool) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FIELD\tEDITABLE\tDESCRIPTION")
	for _, f := range derive.Fields() {
		editable := derive.IsEditable(f)
		if editableOnly && !editable {
			continue
		}
		fmt.Fprintf(tw, "%s\t%t\t%s\n", f, editable, derive.Describe(f))
	}
	return tw.Flush()
}
