package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/courserag/internal/config"
	"github.com/kalambet/courserag/internal/ingest"
)

// --- index ---

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Index course documents directly into the local store",
	Long: `Index course documents directly into the local store, without a running server.

The path may be a directory (every .txt, .pdf, .docx and .html file is
indexed) or a single document. It defaults to docs.dir.

Examples:
  courserag index
  courserag index ../docs --clear
  courserag index ./course1_script.txt`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		clearExisting, _ := cmd.Flags().GetBool("clear")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg.Log.Level)

		path := cfg.Docs.Dir
		if len(args) == 1 {
			path = args[0]
		}
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if si, err := a.store.Info(); err == nil {
			printStatus("Store", "%s (schema v%d)", si.Path, si.SchemaVersion)
		}

		if !info.IsDir() {
			if clearExisting {
				printStep("Clearing existing course data...")
				if err := a.retriever.Clear(cmd.Context()); err != nil {
					return err
				}
			}
			course, chunks, err := a.service.AddCourseDocument(cmd.Context(), path)
			if err != nil {
				return err
			}
			printSuccess("Indexed %q (%d lessons, %d chunks)", course.Title, len(course.Lessons), chunks)
			return nil
		}

		courses, chunks, err := a.service.AddCourseFolder(cmd.Context(), path, clearExisting)
		if err != nil {
			return err
		}
		if courses == 0 {
			fmt.Println("No new courses found.")
			return nil
		}
		printSuccess("Indexed %d courses (%d chunks)", courses, chunks)
		return nil
	},
}

func init() {
	indexCmd.Flags().Bool("clear", false, "remove all indexed courses first")
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest <path>...",
	Short: "Send course documents to the running server",
	Long: `Send course documents to the running server for indexing.

Text is extracted locally, so .txt, .pdf, .docx and .html files are all
accepted. Directories are expanded to the supported files they contain.

Examples:
  courserag ingest ./course1_script.txt
  courserag ingest ../docs`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := collectFiles(args)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return fmt.Errorf("no supported course documents found")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		ok, failed := ingestFiles(cmd.Context(), client, files)
		if failed > 0 {
			return fmt.Errorf("%d of %d documents failed", failed, ok+failed)
		}
		return nil
	},
}

// collectFiles expands directories to the supported documents they contain.
func collectFiles(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !e.IsDir() && ingest.Supported(e.Name()) {
				files = append(files, filepath.Join(p, e.Name()))
			}
		}
	}
	return files, nil
}

func ingestFiles(ctx context.Context, client *apiClient, files []string) (ok, failed int) {
	for _, f := range files {
		text, err := ingest.ReadText(f)
		if err != nil {
			printError("%s: %v", f, err)
			failed++
			continue
		}

		resp, err := client.post(ctx, "/api/ingest", map[string]any{
			"type":    "text",
			"content": text,
		})
		if err != nil {
			printError("%s: %v", f, err)
			failed++
			continue
		}

		var result struct {
			CourseTitle string `json:"course_title"`
			Lessons     int    `json:"lessons"`
			Chunks      int    `json:"chunks"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			printError("%s: %v", f, err)
			failed++
			continue
		}
		printSuccess("Indexed %q (%d lessons, %d chunks)", result.CourseTitle, result.Lessons, result.Chunks)
		ok++
	}
	return ok, failed
}

// --- ask ---

type queryResponse struct {
	Answer  string `json:"answer"`
	Sources []struct {
		Text string  `json:"text"`
		Link *string `json:"link"`
	} `json:"sources"`
	SessionID string `json:"session_id"`
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question about the course materials",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/query", map[string]any{
			"query":      strings.Join(args, " "),
			"session_id": sessionID,
		})
		if err != nil {
			return err
		}

		var result queryResponse
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printAnswer(os.Stdout, result)
		printStatus("Session", "%s", result.SessionID)
		return nil
	},
}

func init() {
	askCmd.Flags().String("session", "", "continue an existing session")
}

func printAnswer(w io.Writer, r queryResponse) {
	fmt.Fprintln(w, r.Answer)
	if len(r.Sources) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s\n", colorize(colorBold, "Sources:"))
	for _, s := range r.Sources {
		if s.Link != nil && *s.Link != "" {
			fmt.Fprintf(w, "  - %s (%s)\n", s.Text, *s.Link)
		} else {
			fmt.Fprintf(w, "  - %s\n", s.Text)
		}
	}
}

// --- courses ---

var coursesCmd = &cobra.Command{
	Use:   "courses",
	Short: "List indexed courses",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/courses")
		if err != nil {
			return err
		}

		var stats struct {
			TotalCourses int      `json:"total_courses"`
			CourseTitles []string `json:"course_titles"`
		}
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}

		if stats.TotalCourses == 0 {
			fmt.Println("No courses indexed.")
			return nil
		}
		fmt.Printf("%s\n", colorize(colorBold, fmt.Sprintf("%d courses", stats.TotalCourses)))
		for _, t := range stats.CourseTitles {
			fmt.Printf("  %s\n", t)
		}
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
