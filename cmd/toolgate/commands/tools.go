package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/toolgate/toolgate/internal/tool"
)

var (
	toolsSource string
	toolsTag    string
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List registered tools",
	RunE:  runTools,
}

func init() {
	toolsCmd.Flags().StringVar(&toolsSource, "source", "", "Filter by source (primary|plugin|mcp)")
	toolsCmd.Flags().StringVar(&toolsTag, "tag", "", "Filter by tag")
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	client, err := connectAll(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	registry := client.Registry()

	var defs []tool.Definition
	switch {
	case toolsTag != "":
		defs = registry.DefinitionsByTag(toolsTag)
	case toolsSource != "":
		defs = registry.DefinitionsBySource(tool.Source(toolsSource))
	default:
		defs = registry.Definitions()
	}

	if len(defs) == 0 {
		fmt.Println("No tools registered.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSOURCE\tDESCRIPTION")
	for _, def := range defs {
		source := ""
		if info, ok := registry.GetInfo(def.Name); ok {
			source = string(info.Source)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", def.Name, source, truncate(def.Description, 60))
	}
	return w.Flush()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
