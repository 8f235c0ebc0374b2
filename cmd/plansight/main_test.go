package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/poiesic/plansight"
	"github.com/poiesic/plansight/ai/mock"
	"github.com/poiesic/plansight/core"
	"github.com/poiesic/plansight/extract"
	"github.com/poiesic/plansight/storage/objects"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func findFlag(t *testing.T, app *cli.App, command, name string) cli.Flag {
	t.Helper()
	cmd := app.Command(command)
	require.NotNil(t, cmd, command)
	for _, flag := range cmd.Flags {
		for _, n := range flag.Names() {
			if n == name {
				return flag
			}
		}
	}
	t.Fatalf("command %s has no flag %s", command, name)
	return nil
}

func TestCommandFlags(t *testing.T) {
	app := newApp()

	t.Run("run is required", func(t *testing.T) {
		for _, command := range []string{"index", "query", "status", "reembed"} {
			f, ok := findFlag(t, app, command, "run").(*cli.StringFlag)
			require.True(t, ok)
			assert.True(t, f.Required, command)
		}
	})

	t.Run("wiki run is optional when resuming", func(t *testing.T) {
		f, ok := findFlag(t, app, "wiki", "run").(*cli.StringFlag)
		require.True(t, ok)
		assert.False(t, f.Required)
	})

	t.Run("upload-type defaults to user_project", func(t *testing.T) {
		f, ok := findFlag(t, app, "index", "upload-type").(*cli.StringFlag)
		require.True(t, ok)
		assert.Equal(t, string(core.UploadTypeUserProject), f.Value)
	})

	t.Run("run has alias -r", func(t *testing.T) {
		assert.Contains(t, findFlag(t, app, "status", "run").Names(), "r")
	})
}

func TestCommandValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing run flag", []string{"plansight", "status"}, "run"},
		{"index without files", []string{"plansight", "index", "--run", "r1"}, "at least one file"},
		{"index missing file", []string{"plansight", "index", "--run", "r1", "/does/not/exist.pdf"}, "cannot read"},
		{"wiki without run", []string{"plansight", "wiki"}, "--run or --resume"},
		{"query without question", []string{"plansight", "query", "--run", "r1"}, "question is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newApp()
			app.Writer = &bytes.Buffer{}
			app.ErrWriter = &bytes.Buffer{}
			err := app.Run(tt.args)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDocumentID(t *testing.T) {
	assert.Equal(t, "structural-drawings", documentID("/plans/Structural Drawings.pdf"))
	assert.Equal(t, "a-101", documentID("A-101.PDF"))
	assert.Equal(t, "spec-book-v2", documentID("__Spec Book v2__.pdf"))
}

// pageExtractor returns one text element per document.
type pageExtractor map[string]string

func (e pageExtractor) Extract(ctx context.Context, req extract.Request) ([]core.Element, error) {
	return []core.Element{{Kind: core.ElementText, Page: 1, Text: e[req.DocumentID], FullPage: true}}, nil
}

func TestCommandsEndToEnd(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PLANSIGHT_DB_PATH", filepath.Join(dir, "db"))
	t.Setenv("PLANSIGHT_EMBEDDING_DIMENSIONS", "384")

	systemOptions = []plansight.Option{
		plansight.WithProvider(mock.NewMockProvider()),
		plansight.WithObjectStore(objects.NewFilesystemStore(memfs.New())),
		plansight.WithExtractor(pageExtractor{
			"structural": "SECTION 03 30 00 CAST-IN-PLACE CONCRETE\nConcrete strength 4000 psi.",
		}),
	}
	t.Cleanup(func() { systemOptions = nil })

	file := filepath.Join(dir, "Structural.pdf")
	require.NoError(t, os.WriteFile(file, []byte("%PDF-1.7"), 0o644))

	run := func(args ...string) (string, error) {
		app := newApp()
		var out bytes.Buffer
		app.Writer = &out
		err := app.Run(append([]string{"plansight", "--log-level", "error"}, args...))
		return out.String(), err
	}

	out, err := run("index", "--run", "tower", "--name", "Tower", file)
	require.NoError(t, err)
	assert.Contains(t, out, "structural\tcompleted")

	out, err = run("status", "--run", "tower", "--history")
	require.NoError(t, err)
	assert.Contains(t, out, "run tower (Tower)")
	assert.Contains(t, out, "structural\tcompleted")
	assert.Contains(t, out, "partition #1 completed")

	out, err = run("query", "--run", "tower", "--no-answer", "concrete", "strength")
	require.NoError(t, err)
	assert.Contains(t, out, "Found")

	_, err = run("reembed", "--run", "tower")
	require.NoError(t, err)

	_, err = run("status", "--run", "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestSetupLogger(t *testing.T) {
	newLoggerApp := func(action cli.ActionFunc) *cli.App {
		return &cli.App{
			Name: "test",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "log-level",
					Aliases: []string{"l"},
					Value:   "info",
				},
				&cli.StringFlag{
					Name:  "log-format",
					Value: "text",
				},
			},
			Before: setupLogger,
			Action: action,
		}
	}
	noop := func(c *cli.Context) error { return nil }

	t.Run("valid log levels", func(t *testing.T) {
		for _, level := range []string{"debug", "info", "warn", "error", "DEBUG", "WaRn"} {
			t.Run(level, func(t *testing.T) {
				require.NoError(t, newLoggerApp(noop).Run([]string{"test", "--log-level", level}))
			})
		}
	})

	t.Run("invalid log level returns error", func(t *testing.T) {
		err := newLoggerApp(noop).Run([]string{"test", "--log-level", "invalid"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log level")
	})

	t.Run("json format", func(t *testing.T) {
		err := newLoggerApp(func(c *cli.Context) error {
			_, ok := slog.Default().Handler().(*slog.JSONHandler)
			assert.True(t, ok)
			return nil
		}).Run([]string{"test", "--log-format", "json"})
		require.NoError(t, err)
	})

	t.Run("invalid log format returns error", func(t *testing.T) {
		err := newLoggerApp(noop).Run([]string{"test", "--log-format", "xml"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log format")
	})

	t.Run("log-level flag has alias -l", func(t *testing.T) {
		err := newLoggerApp(func(c *cli.Context) error {
			assert.Equal(t, "debug", c.String("log-level"))
			return nil
		}).Run([]string{"test", "-l", "debug"})
		require.NoError(t, err)
	})
}
