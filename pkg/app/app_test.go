package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dukex/mangotango/pkg/importer"
	"github.com/dukex/mangotango/pkg/log"
	"github.com/dukex/mangotango/pkg/models"
	"github.com/dukex/mangotango/pkg/protocol"
	"github.com/dukex/mangotango/pkg/registry"
	"github.com/dukex/mangotango/pkg/semantic"
	"github.com/dukex/mangotango/pkg/storage"
	"github.com/dukex/mangotango/pkg/table"
	"github.com/dukex/mangotango/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dataset = `author,message,posted
@ann,hello there,2024-01-01 10:00:00
@bob,good morning all,2024-01-01 11:00:00
@ann,hello again,2024-01-01 12:00:00
@cid,what a day,2024-01-02 09:30:00
@bob,see you,2024-01-02 18:45:00
`

var errBoom = errors.New("boom")

var goodMapping = map[string]string{"user": "author", "text": "message", "when": "posted"}

func base(id string) models.AnalyzerBase {
	return models.AnalyzerBase{ID: id, Version: "1.0.0", Name: strings.ToUpper(id)}
}

func write(tw protocol.TableWriter, rows ...table.Row) error {
	w, err := tw.Create()
	if err != nil {
		return err
	}

	if err := w.Write(rows...); err != nil {
		_ = w.Close()

		return err
	}

	return w.Close()
}

func countRows(assets protocol.AssetsReader, outputID string) (int64, error) {
	tr, err := assets.Table(outputID)
	if err != nil {
		return 0, err
	}

	r, err := tr.Open()
	if err != nil {
		return 0, err
	}

	rows, err := table.ReadAll(r)

	return int64(len(rows)), err
}

func echoPrimary(entry protocol.PrimaryEntryPoint) models.Declaration {
	if entry == nil {
		entry = func(_ context.Context, pc protocol.PrimaryContext) error {
			input, err := pc.Input()
			if err != nil {
				return err
			}

			rows, err := table.ReadAll(input)
			if err != nil {
				return err
			}

			messages, err := pc.Output("messages")
			if err != nil {
				return err
			}

			out := make([]table.Row, len(rows))
			for i, row := range rows {
				out[i] = table.Row{row[0], row[1]}
			}
			if err := write(messages, out...); err != nil {
				return err
			}

			debug, err := pc.Output("debug")
			if err != nil {
				return err
			}

			return write(debug, table.Row{int64(len(rows))})
		}
	}

	return models.Primary(&models.AnalyzerDeclaration{
		AnalyzerBase: base("echo"),
		Input: models.AnalyzerInput{Columns: []models.InputColumn{
			{Name: "user", DataType: semantic.Identifier, NameHints: []string{"author"}},
			{Name: "text", DataType: semantic.Text},
			{Name: "when", DataType: semantic.Datetime},
		}},
		Outputs: []models.AnalyzerOutput{
			{ID: "messages", Name: "Messages", Columns: []models.OutputColumn{
				{Name: "user", HumanReadableName: "User", DataType: semantic.Identifier},
				{Name: "text", HumanReadableName: "Text", DataType: semantic.Text},
			}},
			{ID: "debug", Name: "Debug", Internal: true, Columns: []models.OutputColumn{
				{Name: "rows", DataType: semantic.Integer},
			}},
		},
		EntryPoint: entry,
	})
}

// counter is a secondary writing the row count of the primary messages.
func counter(id string, dependsOn []string, fail bool) models.Declaration {
	return models.Secondary(&models.SecondaryAnalyzerDeclaration{
		AnalyzerBase:   base(id),
		BaseAnalyzerID: "echo",
		DependsOn:      dependsOn,
		Autorun:        true,
		Outputs: []models.AnalyzerOutput{{ID: id, Name: id, Columns: []models.OutputColumn{
			{Name: "rows", DataType: semantic.Integer},
		}}},
		EntryPoint: func(_ context.Context, sc protocol.SecondaryContext) error {
			if fail {
				return errBoom
			}

			n, err := countRows(sc.Base(), "messages")
			if err != nil {
				return err
			}

			out, err := sc.Output(id)
			if err != nil {
				return err
			}

			return write(out, table.Row{n})
		},
	})
}

func rowsPresenter() models.Declaration {
	return models.Presenter(&models.PresenterDeclaration{
		AnalyzerBase:   base("rows"),
		BaseAnalyzerID: "echo",
		Render: func(_ context.Context, pc protocol.PresenterContext, w io.Writer) error {
			n, err := countRows(pc.Base(), "messages")
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(w, "%d messages\n", n)

			return err
		},
	})
}

func newTestApp(t *testing.T, decls ...models.Declaration) (*App, *models.Project) {
	t.Helper()

	return newTestAppWith(t, dataset, decls...)
}

func newTestAppWith(t *testing.T, csv string, decls ...models.Declaration) (*App, *models.Project) {
	t.Helper()

	dir := t.TempDir()
	store, err := storage.Open(t.Context(), log.Discard(), filepath.Join(dir, "data"), filepath.Join(dir, "cache"))
	require.NoError(t, err)

	app := New(log.Discard(), store, registry.MustNewSuite(log.Discard(), decls...), nil)

	src := filepath.Join(dir, "posts.csv")
	require.NoError(t, os.WriteFile(src, []byte(csv), 0600))

	project, err := app.CreateProject(t.Context(), "Posts", importer.NewCSV(log.Discard()), src)
	require.NoError(t, err)

	return app, project
}

func TestCreateProject_InfersColumns(t *testing.T) {
	app, project := newTestApp(t, echoPrimary(nil))
	assert.Equal(t, "posts", project.ID)

	rows, err := app.Store().InputRowCount(project.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), rows)

	columns, err := app.ProjectColumns(t.Context(), project.ID)
	require.NoError(t, err)
	require.Len(t, columns, 3)

	assert.Equal(t, "author", columns[0].Name)
	assert.Equal(t, semantic.Identifier, columns[0].DataType)
	assert.Equal(t, semantic.Text, columns[1].DataType)
	assert.Equal(t, semantic.Text, columns[2].Physical)
	assert.Equal(t, semantic.Datetime, columns[2].DataType)
	assert.Len(t, columns[2].Preview, 5)
}

func TestCreateProject_FailedImportLeavesNothing(t *testing.T) {
	app, _ := newTestApp(t, echoPrimary(nil))

	empty := filepath.Join(t.TempDir(), "empty.csv")
	require.NoError(t, os.WriteFile(empty, nil, 0600))

	_, err := app.CreateProject(t.Context(), "Empty", importer.NewCSV(log.Discard()), empty)
	require.ErrorIs(t, err, importer.ErrEmptyFile)

	projects, err := app.Store().ListProjects(t.Context())
	require.NoError(t, err)
	assert.Len(t, projects, 1)
}

func TestPlanMapping(t *testing.T) {
	app, project := newTestApp(t, echoPrimary(nil))

	result, err := app.PlanMapping(t.Context(), project.ID, "echo")
	require.NoError(t, err)
	assert.Equal(t, goodMapping, result.Mapping)
	assert.Empty(t, result.Unmapped)

	_, err = app.PlanMapping(t.Context(), project.ID, "missing")
	assert.ErrorIs(t, err, workflow.ErrUnknownAnalyzer)
}

func TestCreateAnalysis_RejectsInvalidMappingBeforeDraft(t *testing.T) {
	app, project := newTestApp(t, echoPrimary(nil))

	_, err := app.CreateAnalysis(t.Context(), project.ID, "echo", "", map[string]string{
		"text":  "nope",
		"when":  "message",
		"bogus": "author",
	})

	var configErr *ConfigurationError
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, []string{
		`analyzer echo has no input column "bogus"`,
		`column "text" is mapped to unknown column "nope"`,
		`column "user" is not mapped`,
		`column "when" expects datetime but "message" is text`,
	}, configErr.Problems)

	drafts, err := app.Store().ListDraftAnalyses(t.Context(), project.ID)
	require.NoError(t, err)
	assert.Empty(t, drafts)
}

func TestRunAnalysis_FinalizesAndReportsEvents(t *testing.T) {
	app, project := newTestApp(t, echoPrimary(nil), counter("count", nil, false), rowsPresenter())

	analysis, err := app.CreateAnalysis(t.Context(), project.ID, "echo", "", goodMapping)
	require.NoError(t, err)
	assert.Equal(t, "ECHO", analysis.DisplayName)

	var events []string
	err = app.RunAnalysis(t.Context(), analysis, workflow.Options{}, func(e workflow.Event) {
		events = append(events, e.AnalyzerID+":"+string(e.Phase))
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"echo:start", "echo:finish", "count:start", "count:finish"}, events)

	listed, err := app.Store().ListAnalyses(t.Context(), project.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.False(t, listed[0].IsDraft)

	var out strings.Builder
	require.NoError(t, app.Present(t.Context(), analysis, "rows", &out))
	assert.Equal(t, "5 messages\n", out.String())
}

func TestRunAnalysis_FailureInThirdOfFourStagesLeavesNoTrace(t *testing.T) {
	app, project := newTestApp(t,
		echoPrimary(nil),
		counter("first", nil, false),
		counter("second", []string{"first"}, true),
		counter("third", []string{"second"}, false),
	)

	analysis, err := app.CreateAnalysis(t.Context(), project.ID, "echo", "Broken", goodMapping)
	require.NoError(t, err)

	var started []string
	err = app.RunAnalysis(t.Context(), analysis, workflow.Options{}, func(e workflow.Event) {
		if e.Phase == workflow.PhaseStart {
			started = append(started, e.AnalyzerID)
		}
	})

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, "second", runErr.Analyzer)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, []string{"echo", "first", "second"}, started)

	listed, err := app.Store().ListAnalyses(t.Context(), project.ID)
	require.NoError(t, err)
	assert.Empty(t, listed)

	drafts, err := app.Store().ListDraftAnalyses(t.Context(), project.ID)
	require.NoError(t, err)
	assert.Empty(t, drafts)

	_, err = os.Stat(app.Store().AnalysisDir(analysis))
	assert.True(t, os.IsNotExist(err))
}

func TestRunAnalysis_CancellationDeletesDraft(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	app, project := newTestApp(t, echoPrimary(func(context.Context, protocol.PrimaryContext) error {
		cancel()

		return context.Canceled
	}))

	analysis, err := app.CreateAnalysis(t.Context(), project.ID, "echo", "", goodMapping)
	require.NoError(t, err)

	err = app.RunAnalysis(ctx, analysis, workflow.Options{}, nil)
	require.ErrorIs(t, err, ErrRunCancelled)
	assert.ErrorIs(t, err, context.Canceled)

	drafts, err := app.Store().ListDraftAnalyses(t.Context(), project.ID)
	require.NoError(t, err)
	assert.Empty(t, drafts)
}

func TestRunAnalysis_PanicKeepsTrace(t *testing.T) {
	app, project := newTestApp(t, echoPrimary(func(context.Context, protocol.PrimaryContext) error {
		var m map[string]int
		m["x"]++

		return nil
	}))

	analysis, err := app.CreateAnalysis(t.Context(), project.ID, "echo", "", goodMapping)
	require.NoError(t, err)

	err = app.RunAnalysis(t.Context(), analysis, workflow.Options{}, nil)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, "echo", runErr.Analyzer)
	assert.NotEmpty(t, runErr.Trace)
}

func TestPruneDrafts(t *testing.T) {
	app, project := newTestApp(t, echoPrimary(nil))

	for range 2 {
		_, err := app.CreateAnalysis(t.Context(), project.ID, "echo", "", goodMapping)
		require.NoError(t, err)
	}

	n, err := app.PruneDrafts(t.Context(), project.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	drafts, err := app.Store().ListDraftAnalyses(t.Context(), project.ID)
	require.NoError(t, err)
	assert.Empty(t, drafts)
}

func TestExport_ListsOutputsAndResolvesChunkSize(t *testing.T) {
	app, project := newTestApp(t, echoPrimary(nil), counter("count", nil, false))

	analysis, err := app.CreateAnalysis(t.Context(), project.ID, "echo", "", goodMapping)
	require.NoError(t, err)
	require.NoError(t, app.RunAnalysis(t.Context(), analysis, workflow.Options{}, nil))

	outputs, err := app.ExportableOutputs(t.Context(), analysis)
	require.NoError(t, err)

	var names []string
	for _, out := range outputs {
		names = append(names, out.Name())
	}
	assert.Equal(t, []string{"messages", "count"}, names)

	messages, err := app.FindOutput(t.Context(), analysis, "messages")
	require.NoError(t, err)

	_, err = app.FindOutput(t.Context(), analysis, "debug")
	assert.ErrorIs(t, err, ErrUnknownOutput)

	chunk := 2
	require.NoError(t, app.Store().SaveSettings(t.Context(), &models.Settings{ExportChunkSize: &chunk}))

	result, err := app.Export(t.Context(), analysis, messages, table.FormatCSV, nil, nil)
	require.NoError(t, err)
	require.Len(t, result.Files, 3)
	assert.Equal(t, []int64{2, 2, 1}, []int64{result.Files[0].Rows, result.Files[1].Rows, result.Files[2].Rows})

	data, err := os.ReadFile(result.Files[0].Path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "User,Text\n"))

	single := 0
	result, err = app.Export(t.Context(), analysis, messages, table.FormatJSON, &single, nil)
	require.NoError(t, err)
	require.Len(t, result.Files, 1)
	assert.Equal(t, "messages.json", filepath.Base(result.Files[0].Path))
}

func TestRunAnalysis_UsesSemanticsAcceptedAtMapping(t *testing.T) {
	// Epoch seconds in the previewed rows, nulls after them: inferring again
	// from a spread sample of the whole batch would not match the preview.
	var csv strings.Builder
	csv.WriteString("id,ts\n")
	for i := range 300 {
		if i < PreviewRows {
			fmt.Fprintf(&csv, "%d,%d\n", i, 1704067200+i*60)
		} else {
			fmt.Fprintf(&csv, "%d,\n", i)
		}
	}

	var seen, valid int
	primary := models.Primary(&models.AnalyzerDeclaration{
		AnalyzerBase: base("clock"),
		Input: models.AnalyzerInput{Columns: []models.InputColumn{
			{Name: "when", DataType: semantic.Datetime},
		}},
		Outputs: []models.AnalyzerOutput{{ID: "valid", Name: "Valid", Columns: []models.OutputColumn{
			{Name: "rows", DataType: semantic.Integer},
		}}},
		EntryPoint: func(_ context.Context, pc protocol.PrimaryContext) error {
			input, err := pc.Input()
			if err != nil {
				return err
			}

			rows, err := table.ReadAll(input)
			if err != nil {
				return err
			}

			for _, row := range rows {
				seen++
				if _, ok := row[0].(time.Time); ok {
					valid++
				}
			}

			out, err := pc.Output("valid")
			if err != nil {
				return err
			}

			return write(out, table.Row{int64(valid)})
		},
	})

	app, project := newTestAppWith(t, csv.String(), primary)

	columns, err := app.ProjectColumns(t.Context(), project.ID)
	require.NoError(t, err)
	require.Len(t, columns, 2)
	assert.Equal(t, semantic.Integer, columns[1].Physical)
	assert.Equal(t, semantic.TimestampSeconds.Name, columns[1].Semantic)

	analysis, err := app.CreateAnalysis(t.Context(), project.ID, "clock", "", map[string]string{"when": "ts"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"when": semantic.TimestampSeconds.Name}, analysis.ColumnSemantics)

	stored, err := app.Store().Analysis(t.Context(), project.ID, analysis.AnalysisID)
	require.NoError(t, err)
	assert.Equal(t, analysis.ColumnSemantics, stored.ColumnSemantics)

	require.NoError(t, app.RunAnalysis(t.Context(), analysis, workflow.Options{}, nil))
	assert.Equal(t, 300, seen)
	assert.Equal(t, PreviewRows, valid)
}

func TestRunAnalysis_RejectsFinalizedAnalysis(t *testing.T) {
	app, project := newTestApp(t, echoPrimary(nil))

	analysis, err := app.CreateAnalysis(t.Context(), project.ID, "echo", "", goodMapping)
	require.NoError(t, err)
	require.NoError(t, app.RunAnalysis(t.Context(), analysis, workflow.Options{}, nil))

	err = app.RunAnalysis(t.Context(), analysis, workflow.Options{}, nil)
	require.ErrorIs(t, err, workflow.ErrFinalized)

	listed, err := app.Store().ListAnalyses(t.Context(), project.ID)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestRerunAnalysis_FailureLeavesFinalizedAnalysisIntact(t *testing.T) {
	fail := false
	app, project := newTestApp(t, echoPrimary(func(_ context.Context, pc protocol.PrimaryContext) error {
		for _, id := range []string{"messages", "debug"} {
			out, err := pc.Output(id)
			if err != nil {
				return err
			}

			w, err := out.Create()
			if err != nil {
				return err
			}

			if fail {
				return errBoom
			}

			row := table.Row{"@ann", "hello"}
			if id == "debug" {
				row = table.Row{int64(1)}
			}

			if err := w.Write(row); err != nil {
				return err
			}

			if err := w.Close(); err != nil {
				return err
			}
		}

		return nil
	}))

	analysis, err := app.CreateAnalysis(t.Context(), project.ID, "echo", "Echo", goodMapping)
	require.NoError(t, err)
	require.NoError(t, app.RunAnalysis(t.Context(), analysis, workflow.Options{}, nil))

	fail = true
	_, err = app.RerunAnalysis(t.Context(), analysis, workflow.Options{}, nil)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.ErrorIs(t, err, errBoom)

	listed, err := app.Store().ListAnalyses(t.Context(), project.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, analysis.AnalysisID, listed[0].AnalysisID)

	drafts, err := app.Store().ListDraftAnalyses(t.Context(), project.ID)
	require.NoError(t, err)
	assert.Empty(t, drafts)

	r, err := table.OpenParquet(app.Store().PrimaryOutputPath(analysis, "messages"))
	require.NoError(t, err)
	rows, err := table.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, []table.Row{{"@ann", "hello"}}, rows)
}

func TestRerunAnalysis_ReplacesOnSuccess(t *testing.T) {
	app, project := newTestApp(t, echoPrimary(nil))

	previous, err := app.CreateAnalysis(t.Context(), project.ID, "echo", "Echo", goodMapping)
	require.NoError(t, err)
	require.NoError(t, app.RunAnalysis(t.Context(), previous, workflow.Options{}, nil))

	replacement, err := app.RerunAnalysis(t.Context(), previous, workflow.Options{}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, previous.AnalysisID, replacement.AnalysisID)
	assert.Equal(t, previous.DisplayName, replacement.DisplayName)
	assert.Equal(t, previous.ColumnMapping, replacement.ColumnMapping)
	assert.False(t, replacement.IsDraft)

	listed, err := app.Store().ListAnalyses(t.Context(), project.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, replacement.AnalysisID, listed[0].AnalysisID)

	assert.NoDirExists(t, app.Store().AnalysisDir(previous))
}
