package cmd

import (
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/mastobot"
)

// NewUnitsCommand creates the units command.
func NewUnitsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "units",
		Short: "List the services and modules compiled into this binary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := DefaultSettings()
			if err := s.Decode(changedSettings(cmd.Flags())); err != nil {
				return err
			}
			writeUnitsTable(cmd.OutOrStdout(), mastobot.DefaultCatalog, s.Prefix)
			return nil
		},
	}
}

func writeUnitsTable(w io.Writer, catalog *mastobot.Catalog, prefix string) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"KIND", "NAME", "OPTIONS", "VARIABLES"})

	for _, kind := range []mastobot.Kind{mastobot.KindService, mastobot.KindModule} {
		for _, def := range catalog.Definitions(kind) {
			t.AppendRow(table.Row{kind.String(), def.Name, definitionOptions(def), envPattern(prefix, kind, def.Name)})
		}
	}

	t.AppendFooter(table.Row{"", "Total", catalog.Len(), ""})
	t.Render()
}

func definitionOptions(def mastobot.Definition) (options string) {
	defer func() {
		if recover() != nil {
			options = "?"
		}
	}()

	unit, err := def.New()
	if err != nil || unit == nil {
		return "?"
	}
	names := mastobot.Options(unit)
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ", ")
}

func envPattern(prefix string, kind mastobot.Kind, name string) string {
	parts := []string{strings.TrimSuffix(prefix, "_"), kind.String(), strings.ReplaceAll(name, "-", "_"), "<OPTION>"}
	if parts[0] == "" {
		parts = parts[1:]
	}
	return strings.ToUpper(strings.Join(parts, "_"))
}
