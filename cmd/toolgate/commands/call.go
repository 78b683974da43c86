package commands

import (
	"encoding/json"
	"fmt"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/toolgate/toolgate/internal/tool"
)

var callCmd = &cobra.Command{
	Use:   "call <tool> [json-args]",
	Short: "Execute a registered tool",
	Long: `Execute a registered tool by name. Arguments are passed as a JSON
object, e.g.:

  toolgate call files_read '{"path": "README.md"}'

The output is checked against the tool's output schema when one is
declared; a validation failure is reported but does not discard the
output.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runCall,
}

func runCall(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	toolArgs := map[string]any{}
	if len(args) == 2 {
		if err := json.Unmarshal([]byte(args[1]), &toolArgs); err != nil {
			return fmt.Errorf("invalid JSON arguments: %w", err)
		}
	}

	ctx, stop := signalContext()
	defer stop()

	client, err := connectAll(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	execCtx := &tool.ExecutionContext{
		SessionID: "sess_" + ulid.Make().String(),
	}
	result := client.Registry().Execute(ctx, args[0], toolArgs, execCtx)

	if !result.Success {
		return fmt.Errorf("%s", result.Error)
	}

	fmt.Println(result.Output)

	if v, ok := result.Data["schemaValidation"].(map[string]any); ok {
		fmt.Println()
		fmt.Println("Warning: output does not match the declared schema:")
		if errs, ok := v["errors"].([]string); ok {
			for _, e := range errs {
				fmt.Printf("  - %s\n", e)
			}
		}
	}
	return nil
}
