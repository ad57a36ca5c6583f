package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conorfennell/knoldeck/internal/importer"
)

func importCmd() *cobra.Command {
	var prune bool

	cmd := &cobra.Command{
		Use:   "import [dir or git url]",
		Short: "Import decks from Q:/A: card files",
		Long: "Every .md or .txt file under the source becomes a deck named after the file.\n" +
			"Git sources are cloned, or pulled when already cloned, under import.repos_dir.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			opts := []importer.Option{importer.WithLogger(s.log)}
			if prune {
				opts = append(opts, importer.WithPrune())
			}
			report, err := importer.New(s.core, s.cfg.Import.ReposDir, opts...).Import(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Imported %d decks: %d cards added, %d skipped, %d pruned, %d errors.\n",
				report.Decks, report.Added, report.Skipped, report.Pruned, len(report.Errors))
			if len(report.Errors) > 0 {
				fmt.Fprintln(out, "\nErrors:")
				for _, e := range report.Errors {
					fmt.Fprintf(out, "- %s\n", e)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&prune, "prune", false, "delete cards that are no longer in the source")
	return cmd
}
