package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/harun/seance/pkg/llm"
	"github.com/spf13/cobra"
)

var newProvider = llm.NewProvider

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models available on the model backend",
	RunE:  runModels,
}

var preloadCmd = &cobra.Command{
	Use:   "preload <model>",
	Short: "Load a model into backend memory ahead of the first chat",
	Args:  cobra.ExactArgs(1),
	RunE:  runPreload,
}

func init() {
	modelsCmd.AddCommand(preloadCmd)
	rootCmd.AddCommand(modelsCmd)
}

func configuredProvider() (llm.Provider, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	provider, err := newProvider(llm.ProviderConfig{
		Kind:      cfg.Model.Provider,
		BaseURL:   cfg.Model.BaseURL,
		APIKey:    cfg.Model.APIKey,
		KeepAlive: cfg.Model.KeepAliveDuration(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create model provider: %w", err)
	}
	return provider, nil
}

func runModels(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	provider, err := configuredProvider()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Model.ListTimeoutDuration())
	defer cancel()

	models, err := provider.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("failed to list models from %s: %w", provider.Name(), err)
	}

	out := cmd.OutOrStdout()
	if len(models) == 0 {
		fmt.Fprintln(out, "No models available")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIZE")
	for _, m := range models {
		fmt.Fprintf(w, "%s\t%s\n", m.Name, formatSize(m.Size))
	}
	return w.Flush()
}

func runPreload(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	provider, err := configuredProvider()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Model.PreloadTimeoutDuration())
	defer cancel()

	if err := provider.Preload(ctx, args[0]); err != nil {
		return fmt.Errorf("failed to preload %s: %w", args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Model %s preloaded\n", args[0])
	return nil
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes <= 0 {
		return "-"
	}
	if bytes < unit {
		return fmt.Sprintf("%dB", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
