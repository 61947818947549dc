package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskweaver/internal/cli"
)

var rootCmd = &cobra.Command{
	Use:   "taskweaver MANIFEST[::TASK]",
	Short: "A dependency-aware, parallel task runner.",
	Long: `Taskweaver executes the tasks declared in a manifest across a bounded
worker pool. A task runs only after all of its declared predecessors have
passed; failures skip the downstream subgraph instead of aborting the run.`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		// Best-effort .env preload; absence is not an error.
		_ = godotenv.Load()
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		manifestPath, task := cli.SplitTarget(args[0])
		inv := cli.Invocation{
			Manifest:       manifestPath,
			Task:           task,
			Workers:        viper.GetInt("workers"),
			Tags:           cli.ParseTags(viper.GetString("tags")),
			SkipDependents: viper.GetBool("skip-deps"),
			ShowGraph:      viper.GetBool("graph"),
			Log:            viper.GetBool("log"),
			Verbose:        viper.GetBool("verbose"),
			LogFile:        viper.GetString("log-file"),
			MetricsAddr:    viper.GetString("metrics-addr"),
			Sets:           viper.GetStringSlice("set"),
			Results:        viper.GetStringSlice("result"),
		}

		code, err := cli.Execute(cmd.Context(), inv, os.Stdout, os.Stderr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(code)
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.Int("workers", 0, "number of worker threads (default: one per CPU, capped at the task count)")
	flags.String("tags", "", "comma-separated list of tags to filter tasks by")
	flags.Bool("skip-deps", false, "skip the whole subgraph below a failed task")
	flags.Bool("graph", false, "show the dependency graph and exit")
	flags.Bool("log", false, "enable line-based logging output")
	flags.BoolP("verbose", "v", false, "enable verbose logging output")
	flags.String("log-file", "", "mirror log records into this file")
	flags.String("metrics-addr", "", "serve prometheus metrics on this address during the run")
	flags.StringArray("set", nil, "seed shared state with key=value (repeatable)")
	flags.StringArray("result", nil, "pre-seed a task result with name=value (repeatable)")

	if err := viper.BindPFlags(flags); err != nil {
		panic(err)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.ExitInvalidInvocation)
	}
}
