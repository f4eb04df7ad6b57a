package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taibuivan/storyforge/internal/factory"
)

var runChapters int

var runCmd = &cobra.Command{
	Use:   "run <project-id>",
	Short: "Drive one project's next N chapters through the Scheduler",
	Long: `run starts a single-project Scheduler session: it loads the project's
current chapter, writes up to --chapters chapters one at a time through the
Production Worker, and reports a summary once it stops (completion, a
human-review flag, a worker failure, or reaching --chapters).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := newLogger()

		configFile, err := resolveConfigFile(logger)
		if err != nil {
			return err
		}

		f, err := factory.New(ctx, factory.Options{ConfigFile: configFile, RedisURL: redisURL}, logger)
		if err != nil {
			return fmt.Errorf("build factory: %w", err)
		}
		defer f.Close()

		summary, err := f.Scheduler.StartRun(ctx, args[0], runChapters)
		if err != nil {
			return err
		}

		fmt.Printf("project %s: wrote %d, failed %d, human_review %d\n",
			summary.ProjectID, summary.ChaptersWritten, summary.ChaptersFailed, summary.HumanReviewFlagged)
		if summary.StoppedEarly {
			fmt.Printf("stopped early: %s\n", summary.StoppedReason)
		}
		for _, ch := range summary.Chapters {
			status := "ok"
			switch {
			case ch.NeedsHumanReview:
				status = "human_review"
			case !ch.Success:
				status = "failed: " + ch.Error
			}
			fmt.Printf("  chapter %d: %s (qc=%.2f, rewrites=%d)\n", ch.ChapterNumber, status, ch.QCScore, ch.RewriteAttempts)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().IntVar(&runChapters, "chapters", 1, "number of chapters to write in this run")
}
