package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/embedded-minds/hindsight/pkg/hindsight"
)

var (
	dbPath     string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "hindsight",
	Short: "CLI for the hindsight long-term memory engine",
	Long: `A command-line interface over a hindsight memory bank: create banks,
retain facts into them, recall relevant memories, run a bounded reflect
query, and trigger or schedule consolidation sweeps.

This CLI has no built-in embedding or LLM provider, so retain/recall work
lexically (full-text + temporal + graph), without the semantic-similarity candidate generator or reconsolidation
scoring against it.`,
}

func openEngine(ctx context.Context) (*hindsight.Engine, error) {
	cfg := hindsight.DefaultConfig(dbPath)
	return hindsight.New(ctx, cfg)
}

var bankCmd = &cobra.Command{
	Use:   "bank",
	Short: "Manage memory banks",
}

var bankCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new bank",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		e, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		mission, _ := cmd.Flags().GetString("mission")
		desc, _ := cmd.Flags().GetString("description")

		b, err := e.CreateBank(ctx, hindsight.Bank{
			Name:        args[0],
			Description: desc,
			Mission:     mission,
			Disposition: hindsight.DefaultDisposition(),
		})
		if err != nil {
			return fmt.Errorf("create bank: %w", err)
		}
		printResult(b)
		return nil
	},
}

var bankListCmd = &cobra.Command{
	Use:   "list",
	Short: "List banks",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		e, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		banks, err := e.ListBanks(ctx)
		if err != nil {
			return fmt.Errorf("list banks: %w", err)
		}
		printResult(banks)
		return nil
	},
}

var bankDeleteCmd = &cobra.Command{
	Use:   "delete <bank-id>",
	Short: "Delete a bank and everything in it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		e, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()
		if err := e.DeleteBank(ctx, args[0]); err != nil {
			return fmt.Errorf("delete bank: %w", err)
		}
		fmt.Printf("bank %s deleted\n", args[0])
		return nil
	},
}

var retainCmd = &cobra.Command{
	Use:   "retain <bank-id> <text>",
	Short: "Retain a piece of text into a bank",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		e, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		scope, _ := cmd.Flags().GetString("scope")
		res, err := e.Retain(ctx, args[0], args[1], hindsight.RetainOptions{
			Scope: hindsight.Scope(scope),
		})
		if err != nil {
			return fmt.Errorf("retain: %w", err)
		}
		printResult(res)
		return nil
	},
}

var recallCmd = &cobra.Command{
	Use:   "recall <bank-id> <query>",
	Short: "Recall memories relevant to a query",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		e, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		topK, _ := cmd.Flags().GetInt("top-k")
		scope, _ := cmd.Flags().GetString("scope")
		res, err := e.Recall(ctx, args[0], args[1], hindsight.RecallOptions{
			TopK:  topK,
			Scope: hindsight.Scope(scope),
		})
		if err != nil {
			return fmt.Errorf("recall: %w", err)
		}
		printResult(res)
		return nil
	},
}

var reflectCmd = &cobra.Command{
	Use:   "reflect <bank-id> <query>",
	Short: "Run the bounded reflect agent over a bank",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		e, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		saveObs, _ := cmd.Flags().GetBool("save-observations")
		structured, _ := cmd.Flags().GetString("structured-output")
		maxIter, _ := cmd.Flags().GetInt("max-iterations")
		res, err := e.Reflect(ctx, args[0], args[1], hindsight.ReflectOptions{
			MaxIterations:          maxIter,
			SaveObservations:       saveObs,
			StructuredOutputPrompt: structured,
		})
		if err != nil {
			return fmt.Errorf("reflect: %w", err)
		}
		printResult(res)
		return nil
	},
}

var consolidateCmd = &cobra.Command{
	Use:   "consolidate <bank-id>",
	Short: "Run one consolidation pass over a bank's un-consolidated memories",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		e, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		batchSize, _ := cmd.Flags().GetInt("batch-size")
		res, err := e.RunConsolidation(ctx, args[0], hindsight.ConsolidationOptions{BatchSize: batchSize})
		if err != nil {
			return fmt.Errorf("consolidate: %w", err)
		}
		printResult(res)
		return nil
	},
}

var graphCmd = &cobra.Command{
	Use:   "graph <memory-id>",
	Short: "Walk the link graph outward from a memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		e, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		depth, _ := cmd.Flags().GetInt("depth")
		related, err := e.RelatedMemories(ctx, args[0], depth)
		if err != nil {
			return fmt.Errorf("graph: %w", err)
		}
		printResult(related)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats <bank-id>",
	Short: "Show a bank's memory/entity/episode counts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		e, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		s, err := e.Stats(ctx, args[0])
		if err != nil {
			return fmt.Errorf("stats: %w", err)
		}
		printResult(s)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a long-lived process with a scheduled consolidation sweep",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		e, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		spec, _ := cmd.Flags().GetString("cron")
		sched, err := hindsight.NewScheduler(e, spec)
		if err != nil {
			return fmt.Errorf("new scheduler: %w", err)
		}
		sched.Start()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		fmt.Printf("hindsight serving %s, consolidation sweep on %q; Ctrl-C to stop\n", dbPath, spec)
		<-sigCh
		fmt.Println("shutting down...")
		<-sched.Stop().Done()
		return nil
	},
}

func printResult(v any) {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(v)
		return
	}
	fmt.Printf("%+v\n", v)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "hindsight.db", "Database file path")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", true, "Print results as JSON")

	bankCreateCmd.Flags().String("mission", "", "Bank mission statement")
	bankCreateCmd.Flags().String("description", "", "Bank description")
	bankCmd.AddCommand(bankCreateCmd, bankListCmd, bankDeleteCmd)

	retainCmd.Flags().String("scope", string(hindsight.ScopeSession), "Scope: profile|project|session")
	recallCmd.Flags().Int("top-k", 10, "Number of results")
	recallCmd.Flags().String("scope", "", "Filter to a scope: profile|project|session")
	serveCmd.Flags().String("cron", "", "Consolidation sweep cron expression (default every 15m)")
	graphCmd.Flags().Int("depth", 2, "Max hop depth")
	reflectCmd.Flags().Bool("save-observations", false, "Persist the final answer as a new observation memory")
	reflectCmd.Flags().String("structured-output", "", "Reshape the final answer to match this description")
	reflectCmd.Flags().Int("max-iterations", 0, "Override the bank's reflect budget round count")
	consolidateCmd.Flags().Int("batch-size", 0, "Max raw memories to consolidate in one pass (default 80)")

	rootCmd.AddCommand(
		bankCmd,
		retainCmd,
		recallCmd,
		reflectCmd,
		consolidateCmd,
		graphCmd,
		statsCmd,
		serveCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
