package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/caseforge/retrieval/internal/engine"
	"github.com/caseforge/retrieval/internal/seed"
	"github.com/caseforge/retrieval/internal/store"
)

// --- seed ---

var seedCmd = &cobra.Command{
	Use:   "seed <file>",
	Short: "Ingest sample stories from a JSON seed file",
	Long: `Ingest sample stories from a JSON seed file.

The file holds an array of {"userStory": ..., "testCases": [...]} objects.
Already-known stories are skipped, so re-seeding is safe.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		result, err := seed.IngestFile(cmd.Context(), a.engine, args[0], nil)
		if err != nil {
			return err
		}
		fmt.Printf("Seeded %d stories (%d skipped)\n", result.Ingested, result.Skipped)
		return nil
	},
}

// --- retrieve ---

var retrieveCmd = &cobra.Command{
	Use:   "retrieve <requirement text>",
	Short: "Retrieve ranked test cases for a requirement",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		topK, _ := cmd.Flags().GetInt("top-k")
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		if topK <= 0 {
			topK = a.cfg.DefaultTopK
		}

		cases := a.engine.RetrieveSimilar(cmd.Context(), text, topK)

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(cases)
		}

		if len(cases) == 0 {
			fmt.Println("No test cases found.")
			return nil
		}
		for i, c := range cases {
			fmt.Printf("\n%d. %s [%s, relevance %.3f]\n", i+1, c.Title, c.Priority, c.Relevance)
			if c.Steps != "" {
				fmt.Printf("   Steps: %s\n", c.Steps)
			}
			if c.Expected != "" {
				fmt.Printf("   Expected: %s\n", c.Expected)
			}
		}
		return nil
	},
}

func init() {
	retrieveCmd.Flags().Int("top-k", 0, "maximum number of test cases (default from config)")
	retrieveCmd.Flags().Bool("json", false, "print results as JSON")
}

// --- feedback ---

var feedbackCmd = &cobra.Command{
	Use:   "feedback <story-id> <score>",
	Short: "Record feedback for a stored story",
	Long: `Record feedback for a stored story.

The score is a rating in [1, 5]. Improved test cases passed via
--improved are promoted into a new story when the score is 4 or higher.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		score, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid score %q: %w", args[1], err)
		}

		text, _ := cmd.Flags().GetString("text")
		categories, _ := cmd.Flags().GetStringSlice("categories")
		missing, _ := cmd.Flags().GetStringSlice("missing")
		improvedPath, _ := cmd.Flags().GetString("improved")

		var improved []store.TestCase
		if improvedPath != "" {
			data, err := os.ReadFile(improvedPath)
			if err != nil {
				return fmt.Errorf("reading improved test cases: %w", err)
			}
			if err := json.Unmarshal(data, &improved); err != nil {
				return fmt.Errorf("parsing improved test cases: %w", err)
			}
		}

		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		err = a.engine.ApplyFeedback(cmd.Context(), engine.Feedback{
			StoryID:           args[0],
			QualityScore:      score,
			Text:              text,
			Categories:        categories,
			MissingScenarios:  missing,
			ImprovedTestCases: improved,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Recorded feedback for %s (score %.1f)\n", args[0], score)
		return nil
	},
}

func init() {
	feedbackCmd.Flags().String("text", "", "free-text feedback")
	feedbackCmd.Flags().StringSlice("categories", nil, "feedback categories")
	feedbackCmd.Flags().StringSlice("missing", nil, "missing scenarios")
	feedbackCmd.Flags().String("improved", "", "JSON file of improved test cases")
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show knowledge-base quality statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		snap, err := a.engine.Stats(cmd.Context())
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}
		fmt.Print(snap.Report())
		return nil
	},
}

func init() {
	statsCmd.Flags().Bool("json", false, "print statistics as JSON")
}
