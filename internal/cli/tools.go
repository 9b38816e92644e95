package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/harun/seance/internal/daemon"
	"github.com/harun/seance/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var newDialer = func(cfg toolexecutor.MCPConfig) toolexecutor.Dialer {
	return toolexecutor.NewMCPDialer(cfg)
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List tools published by the tool service",
	RunE:  runTools,
}

var toolsCallCmd = &cobra.Command{
	Use:   "call <tool> <json-arguments>",
	Short: "Invoke a tool directly and print its result",
	Args:  cobra.ExactArgs(2),
	RunE:  runToolsCall,
}

func init() {
	toolsCmd.AddCommand(toolsCallCmd)
	rootCmd.AddCommand(toolsCmd)
}

func configuredRegistry() (*toolexecutor.Registry, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	dialer := newDialer(toolexecutor.MCPConfig{
		Endpoint:  cfg.Tools.Endpoint,
		Token:     cfg.Tools.Token,
		Transport: cfg.Tools.Transport,
		Timeout:   cfg.Tools.CallTimeoutDuration(),
		Version:   daemon.Version,
	})
	logger := zerolog.Nop()
	return toolexecutor.NewRegistry(
		toolexecutor.NewIsolator(dialer, logger),
		toolexecutor.RegistryConfig{TTL: cfg.Tools.CacheTTLDuration()},
		logger,
	), nil
}

func runTools(cmd *cobra.Command, args []string) error {
	registry, err := configuredRegistry()
	if err != nil {
		return err
	}

	tools := registry.Refresh(cmd.Context())
	out := cmd.OutOrStdout()
	if len(tools) == 0 {
		fmt.Fprintln(out, "No tools available")
		return nil
	}

	for _, tool := range tools {
		fmt.Fprintf(out, "%s\n", tool.Name)
		if tool.Description != "" {
			fmt.Fprintf(out, "  %s\n", firstLine(tool.Description))
		}
		params := make([]string, 0, len(tool.Parameters.Properties))
		for name := range tool.Parameters.Properties {
			params = append(params, name)
		}
		sort.Strings(params)
		if len(params) > 0 {
			fmt.Fprintf(out, "  args: %s", strings.Join(params, ", "))
			if len(tool.Parameters.Required) > 0 {
				fmt.Fprintf(out, " (required: %s)", strings.Join(tool.Parameters.Required, ", "))
			}
			fmt.Fprintln(out)
		}
	}
	return nil
}

func runToolsCall(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var arguments map[string]any
	if err := json.Unmarshal([]byte(args[1]), &arguments); err != nil {
		return fmt.Errorf("arguments must be a JSON object: %w", err)
	}

	registry, err := configuredRegistry()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Tools.CallTimeoutDuration())
	defer cancel()

	// Populate schemas so arguments are validated before the call
	registry.ListTools(ctx)

	result, err := registry.Invoke(ctx, args[0], arguments)
	if err != nil {
		return fmt.Errorf("tool %s failed: %w", args[0], err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), result)
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}
