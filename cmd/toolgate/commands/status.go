package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/mcp"
	"github.com/toolgate/toolgate/internal/reconnect"
	"github.com/toolgate/toolgate/internal/tool"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show MCP server connection status",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
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

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SERVER\tSTATUS\tTOOLS\tERROR")
	for _, st := range client.Status() {
		errText := ""
		if st.Error != nil {
			errText = *st.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", st.Name, st.Status, st.ToolCount, errText)
	}
	w.Flush()

	states := client.Reconnects().States()
	if len(states) > 0 {
		fmt.Println()
		fmt.Println("Pending reconnections:")
		for _, s := range states {
			fmt.Printf("  %s: %s (attempt %d", s.ServerName, s.Status, s.Attempt)
			if s.Status == reconnect.StatusScheduled {
				fmt.Printf(", next in %s", time.Until(s.NextAttemptAt).Round(time.Millisecond))
			}
			if s.LastError != "" {
				fmt.Printf(", last error: %s", s.LastError)
			}
			fmt.Println(")")
		}
	}

	return nil
}

// connectAll dials every enabled server from the config. Individual
// connection failures are reported per server, not returned: they leave a
// failed entry with a scheduled reconnection behind.
func connectAll(ctx context.Context, cfg *config.Config) (*mcp.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	manager := reconnect.New(nil)
	if cfg.Reconnect != nil {
		if err := manager.SetStrategy(cfg.Reconnect.Patch()); err != nil {
			return nil, err
		}
	}

	client := mcp.New(tool.Default(), manager)
	for name, server := range cfg.Servers {
		if err := client.AddServer(ctx, name, server.ToMCP()); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
	return client, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
