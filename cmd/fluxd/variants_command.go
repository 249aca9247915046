package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/seantiz/fluxd/internal/workflow"
)

func newVariantsCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "variants",
		Short:       "List supported workflow variants and their defaults",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigLoad: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), renderVariants(workflow.DefaultRegistry().List()))
			return nil
		},
	}
}

func renderVariants(infos []workflow.VariantInfo) string {
	rows := make([][]string, 0, len(infos))
	for _, v := range infos {
		rows = append(rows, []string{
			v.Name,
			fmt.Sprintf("%dx%d", v.DefaultWidth, v.DefaultHeight),
			strconv.Itoa(v.DefaultSteps),
			fmt.Sprintf("%d-%d", v.MinSteps, v.MaxSteps),
			strings.Join(v.RequiredModels, ", "),
		})
	}
	return renderTable(
		[]string{"Variant", "Default Size", "Steps", "Step Range", "Models"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignLeft},
	)
}
