package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"policy-search/internal/app"
	"policy-search/internal/embeddings"
	"policy-search/internal/flow"
	"policy-search/internal/policy"
)

// buildFunc supplies runtime dependencies; tests swap it for fakes.
type buildFunc func() (app.Deps, error)

func main() {
	build := func() (app.Deps, error) {
		return app.Build("policyctl", app.Options{Collection: true})
	}
	if err := newRootCmd(build).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(build buildFunc) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "policyctl",
		Short:         "Index and query the policy collection",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(
		indexCmd(build),
		queryCmd(build),
		typesCmd(build),
		embedCmd(),
	)
	return rootCmd
}

func indexCmd(build buildFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index policies from a YAML seed file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("file")
			batch, _ := cmd.Flags().GetInt("batch")
			parallel, _ := cmd.Flags().GetInt("parallel")

			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			docs, err := loadSeed(f)
			if err != nil {
				return err
			}
			if len(docs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no policies to index")
				return nil
			}

			deps, err := build()
			if err != nil {
				return err
			}
			defer deps.Close()

			ids, err := indexBatches(cmd.Context(), deps.Collection.Indexer(), docs, batch, parallel)
			if err != nil {
				return err
			}
			if err := deps.Cache.InvalidateAll(cmd.Context()); err != nil {
				deps.Log.Warn("failed to invalidate response cache", "err", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d policies into %s\n", len(ids), deps.Collection.Name())
			return nil
		},
	}
	cmd.Flags().StringP("file", "f", "policies.yaml", "YAML seed file")
	cmd.Flags().Int("batch", 50, "Documents per index request")
	cmd.Flags().Int("parallel", 4, "Concurrent index requests")
	return cmd
}

func queryCmd(build buildFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Run the policy query flow and print its response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, _ := cmd.Flags().GetInt("k")
			types, _ := cmd.Flags().GetStringSlice("type")

			deps, err := build()
			if err != nil {
				return err
			}
			defer deps.Close()

			svc := policy.NewService(deps.Collection.Retriever(), deps.Cache, deps.CacheTTL(), deps.Log)
			queryFlow := policy.RegisterFlow(flow.NewRegistry(), svc)
			resp, err := queryFlow.Run(cmd.Context(), policy.PolicyQuery{
				Query:       args[0],
				TopK:        k,
				PolicyTypes: types,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().Int("k", 0, "Number of policies to retrieve (default from DEFAULT_TOP_K)")
	cmd.Flags().StringSlice("type", nil, "Only return policies of these types")
	return cmd
}

func typesCmd(build buildFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List policy types present in the collection",
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := build()
			if err != nil {
				return err
			}
			defer deps.Close()

			types, err := deps.Collection.PolicyTypes(cmd.Context())
			if err != nil {
				return err
			}
			for _, t := range types {
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}
			return nil
		},
	}
}

func embedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "embed <text>",
		Short: "Print the hash vector of a text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sparse, _ := cmd.Flags().GetBool("sparse")
			compare, _ := cmd.Flags().GetString("compare")
			hasher := embeddings.NewHashEmbedder()
			vec := hasher.Vectorize(args[0])
			if cmd.Flags().Changed("compare") {
				sim := embeddings.CosineSimilarity(vec, hasher.Vectorize(compare))
				return printJSON(cmd.OutOrStdout(), map[string]float32{"similarity": sim})
			}
			if !sparse {
				return printJSON(cmd.OutOrStdout(), vec)
			}
			nonZero := map[int]float32{}
			for i, v := range vec {
				if v != 0 {
					nonZero[i] = v
				}
			}
			return printJSON(cmd.OutOrStdout(), nonZero)
		},
	}
	cmd.Flags().Bool("sparse", false, "Print only non-zero buckets")
	cmd.Flags().String("compare", "", "Print the cosine similarity to this text instead of the vector")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
