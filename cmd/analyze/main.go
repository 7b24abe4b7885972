package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	log "github.com/sirupsen/logrus"

	"mr-assistant/internal/analytics"
	"mr-assistant/internal/logging"
	"mr-assistant/internal/participants"
)

func main() {
	logging.Setup(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:          "analyze",
		Short:        "Offline analysis of assistant conversation logs",
		SilenceUsage: true,
	}
	root.AddCommand(newSessionCmd(out), newBatchCmd(out), newCompareCmd(out))
	return root
}

func newSessionCmd(out io.Writer) *cobra.Command {
	var csvPath, rulesPath string
	cmd := &cobra.Command{
		Use:   "session <file.json>",
		Short: "Summarize every session of one participant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := analytics.LoadRules(rulesPath)
			if err != nil {
				return err
			}
			doc, err := analytics.LoadFile(args[0])
			if err != nil {
				return err
			}
			report := analytics.AnalyzeDocument(doc, rules)
			if err := analytics.WriteText(out, report); err != nil {
				return err
			}
			return writeCSVFile(csvPath, report.Sessions)
		},
	}
	cmd.Flags().StringVar(&csvPath, "csv", "", "write the per-session table to this CSV file")
	cmd.Flags().StringVar(&rulesPath, "rules", "", "YAML file overriding clarification phrases and completion keywords")
	return cmd
}

func newBatchCmd(out io.Writer) *cobra.Command {
	var csvPath, rulesPath string
	cmd := &cobra.Command{
		Use:   "batch <dir>",
		Short: "Summarize every participant log in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := analytics.LoadRules(rulesPath)
			if err != nil {
				return err
			}
			docs, err := analytics.LoadDir(args[0])
			if err != nil {
				return err
			}
			var all []analytics.SessionSummary
			for _, doc := range docs {
				fmt.Fprintf(out, "##### %s #####\n", doc.UserID)
				report := analytics.AnalyzeDocument(doc, rules)
				if err := analytics.WriteText(out, report); err != nil {
					return err
				}
				all = append(all, report.Sessions...)
			}
			log.Infof("analyzed %d participants, %d sessions", len(docs), len(all))
			return writeCSVFile(csvPath, all)
		},
	}
	cmd.Flags().StringVar(&csvPath, "csv", "", "write the combined per-session table to this CSV file")
	cmd.Flags().StringVar(&rulesPath, "rules", "", "YAML file overriding clarification phrases and completion keywords")
	return cmd
}

func newCompareCmd(out io.Writer) *cobra.Command {
	var csvPath, participantsPath string
	cmd := &cobra.Command{
		Use:   "compare <dir>",
		Short: "Compare task completion time and turn count between EMO and NEU",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var repo participants.Repository
			if participantsPath != "" {
				r, err := participants.NewFileRepository(participantsPath)
				if err != nil {
					return err
				}
				repo = r
			}
			registry, err := participants.NewWithRepo(repo)
			if err != nil {
				return err
			}
			docs, err := analytics.LoadDir(args[0])
			if err != nil {
				return err
			}
			results := analytics.Compare(analytics.Observations(docs, registry.GroupOf))
			if err := analytics.WriteCompareText(out, results); err != nil {
				return err
			}
			if csvPath == "" {
				return nil
			}
			f, err := os.Create(csvPath)
			if err != nil {
				return fmt.Errorf("create %s: %w", csvPath, err)
			}
			defer f.Close()
			return analytics.WriteCompareCSV(f, results)
		},
	}
	cmd.Flags().StringVar(&csvPath, "csv", "", "write the test results to this CSV file")
	cmd.Flags().StringVar(&participantsPath, "participants", "", "participant registry JSON; IDs not listed fall back to the E/N prefix")
	return cmd
}

func writeCSVFile(path string, summaries []analytics.SessionSummary) error {
	if path == "" {
		return nil
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if err := analytics.WriteCSV(f, summaries); err != nil {
		return err
	}
	log.Infof("CSV written to %s", path)
	return nil
}
