package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/poiesic/plansight/core"
	"github.com/poiesic/plansight/indexing"
	"github.com/poiesic/plansight/retrieval"
	"github.com/poiesic/plansight/storage"
	"github.com/urfave/cli/v2"
)

var unsafeChars = regexp.MustCompile(`[^a-z0-9]+`)

// documentID derives a stable ID from a file name so resubmitting a file
// resumes its document.
func documentID(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return strings.Trim(unsafeChars.ReplaceAllString(strings.ToLower(stem), "-"), "-")
}

func indexCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("at least one file is required")
	}
	runID := c.String("run")

	inputs := make([]core.DocumentInput, 0, c.NArg())
	for _, path := range c.Args().Slice() {
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		if _, err := os.Stat(abs); err != nil {
			return fmt.Errorf("cannot read %s: %w", path, err)
		}
		inputs = append(inputs, core.DocumentInput{
			ID:         documentID(abs),
			RunID:      runID,
			FilePath:   abs,
			Filename:   filepath.Base(abs),
			UploadType: core.UploadType(c.String("upload-type")),
		})
	}

	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	indexer, err := sys.NewIndexer()
	if err != nil {
		return err
	}
	defer indexer.Release()

	ok, err := indexer.ProcessDocuments(c.Context, runID, inputs, &indexing.ProcessOptions{
		Force:   c.Bool("force"),
		RunName: c.String("name"),
	})
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	failed := 0
	for _, in := range inputs {
		doc, err := sys.Runs().GetDocument(c.Context, runID, in.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "%s\t%s\t%s\n", doc.ID, doc.Status(), doc.ErrorMessage())
		if doc.Status() != core.StatusCompleted {
			failed++
		}
	}
	if !ok {
		return fmt.Errorf("%d of %d documents did not complete", failed, len(inputs))
	}
	return nil
}

func wikiCommand(c *cli.Context) error {
	runID, wikiID := c.String("run"), c.String("resume")
	if runID == "" && wikiID == "" {
		return errors.New("either --run or --resume is required")
	}

	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	generator, err := sys.NewWikiGenerator()
	if err != nil {
		return err
	}

	var run *core.WikiRun
	if wikiID != "" {
		run, err = generator.Resume(c.Context, wikiID)
	} else {
		run, err = generator.RunPipeline(c.Context, runID)
	}
	if err != nil {
		return fmt.Errorf("wiki generation failed: %w", err)
	}

	fmt.Fprintf(c.App.Writer, "wiki %s: %s\n", run.ID, run.Status())
	for _, page := range run.Pages {
		fmt.Fprintf(c.App.Writer, "%d\t%s\t%s\n", page.Index, page.Title, page.MarkdownRef)
	}
	if run.Status() != core.StatusCompleted {
		return fmt.Errorf("wiki %s failed: %s (resume with --resume %s)", run.ID, run.ErrorMessage(), run.ID)
	}

	if out := c.String("out"); out != "" {
		return writePages(c, sys.Objects(), run, out)
	}
	return nil
}

func writePages(c *cli.Context, objects storage.ObjectStore, run *core.WikiRun, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, page := range run.Pages {
		data, err := objects.Get(c.Context, page.MarkdownRef)
		if err != nil {
			return fmt.Errorf("read page %d: %w", page.Index, err)
		}
		name := fmt.Sprintf("%02d-%s.md", page.Index, documentID(page.Title))
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func queryCommand(c *cli.Context) error {
	question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if question == "" {
		return errors.New("a question is required")
	}
	runID := c.String("run")

	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	if c.Bool("no-answer") {
		search, err := sys.NewSearch()
		if err != nil {
			return err
		}
		matches, err := search.Search(c.Context, retrieval.Query{
			Text:       question,
			IndexRunID: runID,
			TopK:       c.Int("top-k"),
			Threshold:  float32(c.Float64("threshold")),
		})
		if err != nil {
			return err
		}
		printMatches(c, matches)
		return nil
	}

	answerer, err := sys.NewAnswerer()
	if err != nil {
		return err
	}
	answer, err := answerer.Answer(c.Context, question, runID)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, answer.Text)
	if len(answer.Matches) > 0 {
		fmt.Fprintln(c.App.Writer)
		printMatches(c, answer.Matches)
	}
	return nil
}

func printMatches(c *cli.Context, matches []core.ChunkMatch) {
	fmt.Fprintf(c.App.Writer, "Found %d matches\n", len(matches))
	for i, m := range matches {
		fmt.Fprintf(c.App.Writer, "%d: %s p.%d [%0.3f] %s\n", i, m.DocumentID, m.Page, m.Score, core.Preview(m.Content, 80))
	}
}

func statusCommand(c *cli.Context) error {
	runID := c.String("run")

	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	run, err := sys.Runs().GetIndexRun(c.Context, runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return core.NotFoundError("index run", runID)
		}
		return err
	}
	docs, err := sys.Runs().ListDocuments(c.Context, runID)
	if err != nil {
		return err
	}

	w := c.App.Writer
	fmt.Fprintf(w, "run %s (%s): %s\n", run.ID, run.Name, run.Status())
	for status, n := range run.Counts() {
		fmt.Fprintf(w, "  %s: %d\n", status, n)
	}
	for _, doc := range docs {
		fmt.Fprintf(w, "%s\t%s\t%s\n", doc.ID, doc.Status(), doc.ErrorMessage())
		if !c.Bool("history") {
			continue
		}
		for _, step := range core.StepNames(core.KindIndexing) {
			history, err := sys.Runs().StepHistory(c.Context, storage.DocumentUnit(runID, doc.ID), step)
			if err != nil {
				return err
			}
			for _, r := range history {
				fmt.Fprintf(w, "  %s #%d %s %v %s\n", r.Step, r.Attempt, r.Status, r.Duration, r.Error)
			}
		}
	}

	wikis, err := sys.Runs().ListWikiRuns(c.Context, runID)
	if err != nil {
		return err
	}
	for _, wiki := range wikis {
		fmt.Fprintf(w, "wiki %s\t%s\t%d pages\n", wiki.ID, wiki.Status(), len(wiki.Pages))
	}
	return nil
}

func reembedCommand(c *cli.Context) error {
	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	cfg := sys.Config()
	fmt.Fprintf(os.Stderr, "Run: %s\n", c.String("run"))
	fmt.Fprintf(os.Stderr, "Embedding host: %s\n", cfg.Providers.EmbeddingHost)
	fmt.Fprintf(os.Stderr, "Embedding model: %s\n", cfg.Indexing.Embedding.Model)
	fmt.Fprintln(os.Stderr)

	if err := sys.NewReembedder(os.Stderr).Run(c.Context, c.String("run")); err != nil {
		return fmt.Errorf("reembedding failed: %w", err)
	}
	return nil
}
