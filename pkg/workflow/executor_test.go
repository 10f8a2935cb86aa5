package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/dukex/mangotango/pkg/log"
	"github.com/dukex/mangotango/pkg/models"
	"github.com/dukex/mangotango/pkg/protocol"
	"github.com/dukex/mangotango/pkg/registry"
	"github.com/dukex/mangotango/pkg/semantic"
	"github.com/dukex/mangotango/pkg/storage"
	"github.com/dukex/mangotango/pkg/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var datasetSchema = table.Schema{
	{Name: "author", Type: semantic.Text},
	{Name: "posted", Type: semantic.Text},
	{Name: "body", Type: semantic.Text},
}

// datasetRows has bodies of length 1..10; the last posted value is not a date.
func datasetRows() []table.Row {
	rows := make([]table.Row, 10)
	for i := range rows {
		posted := fmt.Sprintf("2024-01-%02d 10:00:00", i+1)
		if i == 9 {
			posted = "yesterday"
		}
		rows[i] = table.Row{"user" + strconv.Itoa(i), posted, strings.Repeat("x", i+1)}
	}

	return rows
}

func base(id string) models.AnalyzerBase {
	return models.AnalyzerBase{ID: id, Version: "1.0.0", Name: id}
}

func writeRows(tw protocol.TableWriter, rows ...table.Row) error {
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

func readTable(assets protocol.AssetsReader, outputID string) ([]table.Row, error) {
	tr, err := assets.Table(outputID)
	if err != nil {
		return nil, err
	}

	r, err := tr.Open()
	if err != nil {
		return nil, err
	}

	return table.ReadAll(r)
}

func lengthsPrimary(entry protocol.PrimaryEntryPoint) *models.AnalyzerDeclaration {
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

			out, err := pc.Output("lengths")
			if err != nil {
				return err
			}

			lengths := make([]table.Row, len(rows))
			for i, row := range rows {
				lengths[i] = table.Row{row[1], int64(len(row[0].(string)))}
			}

			return writeRows(out, lengths...)
		}
	}

	return &models.AnalyzerDeclaration{
		AnalyzerBase: base("lengths"),
		Input: models.AnalyzerInput{Columns: []models.InputColumn{
			{Name: "text", DataType: semantic.Text},
			{Name: "when", DataType: semantic.Datetime},
		}},
		Outputs: []models.AnalyzerOutput{{ID: "lengths", Name: "Lengths", Columns: []models.OutputColumn{
			{Name: "when", DataType: semantic.Datetime},
			{Name: "length", DataType: semantic.Integer},
		}}},
		EntryPoint: entry,
	}
}

func secondary(id string, autorun bool, dependsOn []string, entry protocol.SecondaryEntryPoint) *models.SecondaryAnalyzerDeclaration {
	return &models.SecondaryAnalyzerDeclaration{
		AnalyzerBase:   base(id),
		BaseAnalyzerID: "lengths",
		DependsOn:      dependsOn,
		Autorun:        autorun,
		Outputs: []models.AnalyzerOutput{{ID: id, Name: id, Columns: []models.OutputColumn{
			{Name: "value", DataType: semantic.Integer},
		}}},
		EntryPoint: entry,
	}
}

func totalSecondary() *models.SecondaryAnalyzerDeclaration {
	return secondary("total", true, nil, func(_ context.Context, sc protocol.SecondaryContext) error {
		rows, err := readTable(sc.Base(), "lengths")
		if err != nil {
			return err
		}

		var sum int64
		for _, row := range rows {
			sum += row[1].(int64)
		}

		out, err := sc.Output("total")
		if err != nil {
			return err
		}

		return writeRows(out, table.Row{sum})
	})
}

func doubleSecondary() *models.SecondaryAnalyzerDeclaration {
	return secondary("double", false, []string{"total"}, func(_ context.Context, sc protocol.SecondaryContext) error {
		dep, err := sc.Dependency("total")
		if err != nil {
			return err
		}

		rows, err := readTable(dep, "total")
		if err != nil {
			return err
		}

		out, err := sc.Output("double")
		if err != nil {
			return err
		}

		return writeRows(out, table.Row{rows[0][0].(int64) * 2})
	})
}

type fixture struct {
	executor *Executor
	store    *storage.Store
	analysis *models.Analysis
}

func newFixture(t *testing.T, decls ...models.Declaration) *fixture {
	t.Helper()

	dir := t.TempDir()
	store, err := storage.Open(t.Context(), log.Discard(), filepath.Join(dir, "data"), filepath.Join(dir, "cache"))
	require.NoError(t, err)

	staged, err := store.StagingPath()
	require.NoError(t, err)
	require.NoError(t, table.WriteParquet(staged, datasetSchema, datasetRows()))

	project, err := store.InitProject(t.Context(), "Posts", staged)
	require.NoError(t, err)

	analysis, err := store.InitAnalysis(t.Context(), project.ID, "Lengths", "lengths", map[string]string{
		"text": "body",
		"when": "posted",
	})
	require.NoError(t, err)

	suite, err := registry.NewSuite(log.Discard(), decls...)
	require.NoError(t, err)

	return &fixture{
		executor: NewExecutor(log.Discard(), store, suite, nil),
		store:    store,
		analysis: analysis,
	}
}

type stage struct {
	id    string
	phase Phase
}

func drain(ctx context.Context, f *fixture, opts Options) ([]stage, error) {
	var stages []stage
	for event, err := range f.executor.Execute(ctx, f.analysis, opts) {
		if err != nil {
			return stages, err
		}
		stages = append(stages, stage{event.AnalyzerID, event.Phase})
	}

	return stages, nil
}

func (f *fixture) isDraft(t *testing.T) bool {
	t.Helper()

	drafts, err := f.store.ListDraftAnalyses(t.Context(), f.analysis.ProjectID)
	require.NoError(t, err)

	for _, d := range drafts {
		if d.AnalysisID == f.analysis.AnalysisID {
			return true
		}
	}

	return false
}

func TestExecute_RunsStagesInOrderAndFinalizes(t *testing.T) {
	f := newFixture(t,
		models.Primary(lengthsPrimary(nil)),
		models.Secondary(doubleSecondary()),
		models.Secondary(totalSecondary()),
	)

	var runIDs []string
	for event, err := range f.executor.Execute(t.Context(), f.analysis, Options{Filter: registry.AllSecondaries}) {
		require.NoError(t, err)
		runIDs = append(runIDs, event.RunID)
	}
	require.Len(t, runIDs, 6)
	for _, id := range runIDs {
		assert.Equal(t, runIDs[0], id)
	}

	assert.False(t, f.analysis.IsDraft)
	assert.False(t, f.isDraft(t))

	listed, err := f.store.ListAnalyses(t.Context(), f.analysis.ProjectID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, f.analysis.AnalysisID, listed[0].AnalysisID)

	r, err := table.OpenParquet(f.store.SecondaryOutputPath(f.analysis, "double", "double"))
	require.NoError(t, err)
	rows, err := table.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, []table.Row{{int64(110)}}, rows)
}

func TestExecute_EventOrder(t *testing.T) {
	f := newFixture(t,
		models.Primary(lengthsPrimary(nil)),
		models.Secondary(doubleSecondary()),
		models.Secondary(totalSecondary()),
	)

	stages, err := drain(t.Context(), f, Options{Filter: registry.Only("double")})
	require.NoError(t, err)
	assert.Equal(t, []stage{
		{"lengths", PhaseStart}, {"lengths", PhaseFinish},
		{"total", PhaseStart}, {"total", PhaseFinish},
		{"double", PhaseStart}, {"double", PhaseFinish},
	}, stages)
}

func TestExecute_DefaultFilterRunsAutorunOnly(t *testing.T) {
	f := newFixture(t,
		models.Primary(lengthsPrimary(nil)),
		models.Secondary(doubleSecondary()),
		models.Secondary(totalSecondary()),
	)

	stages, err := drain(t.Context(), f, Options{})
	require.NoError(t, err)
	assert.Equal(t, []stage{
		{"lengths", PhaseStart}, {"lengths", PhaseFinish},
		{"total", PhaseStart}, {"total", PhaseFinish},
	}, stages)

	_, err = os.Stat(f.store.SecondaryOutputDir(f.analysis, "double"))
	assert.True(t, os.IsNotExist(err))
}

func TestExecute_InputIsMappedAndCoerced(t *testing.T) {
	var (
		schema table.Schema
		rows   []table.Row
	)

	f := newFixture(t, models.Primary(lengthsPrimary(func(_ context.Context, pc protocol.PrimaryContext) error {
		input, err := pc.Input()
		if err != nil {
			return err
		}
		schema = input.Schema()

		if rows, err = table.ReadAll(input); err != nil {
			return err
		}

		out, err := pc.Output("lengths")
		if err != nil {
			return err
		}

		return writeRows(out)
	})))

	_, err := drain(t.Context(), f, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"text", "when"}, schema.Names())
	require.Len(t, rows, 10)
	assert.Equal(t, table.Row{"x", time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}, rows[0])
	assert.Equal(t, "xxxxxxxxxx", rows[9][0])
	assert.Nil(t, rows[9][1])
}

func TestExecute_UnmappedColumnFailsPrimary(t *testing.T) {
	f := newFixture(t, models.Primary(lengthsPrimary(nil)))
	delete(f.analysis.ColumnMapping, "when")

	_, err := drain(t.Context(), f, Options{})

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, "lengths", stageErr.AnalyzerID)
	assert.Equal(t, models.KindPrimary, stageErr.Kind)
	assert.ErrorIs(t, err, ErrUnmappedColumn)
}

func TestExecute_MissingOutputFailsStageAndLeavesDraft(t *testing.T) {
	lazy := secondary("lazy", true, nil, func(context.Context, protocol.SecondaryContext) error {
		return nil
	})
	f := newFixture(t,
		models.Primary(lengthsPrimary(nil)),
		models.Secondary(totalSecondary()),
		models.Secondary(lazy),
	)

	stages, err := drain(t.Context(), f, Options{})

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, "lazy", stageErr.AnalyzerID)
	assert.ErrorIs(t, err, ErrMissingOutput)
	assert.Equal(t, stage{"lazy", PhaseStart}, stages[len(stages)-1])

	assert.True(t, f.analysis.IsDraft)
	assert.True(t, f.isDraft(t))
}

func TestExecute_UndeclaredOutputIsRejected(t *testing.T) {
	sneaky := secondary("sneaky", true, nil, func(_ context.Context, sc protocol.SecondaryContext) error {
		_, err := sc.Output("other")

		return err
	})
	f := newFixture(t, models.Primary(lengthsPrimary(nil)), models.Secondary(sneaky))

	_, err := drain(t.Context(), f, Options{})
	assert.ErrorIs(t, err, ErrUndeclaredOutput)
}

func TestExecute_UndeclaredDependencyIsRejected(t *testing.T) {
	nosy := secondary("nosy", true, nil, func(_ context.Context, sc protocol.SecondaryContext) error {
		_, err := sc.Dependency("total")

		return err
	})
	f := newFixture(t,
		models.Primary(lengthsPrimary(nil)),
		models.Secondary(totalSecondary()),
		models.Secondary(nosy),
	)

	_, err := drain(t.Context(), f, Options{Filter: registry.AllSecondaries})
	assert.ErrorIs(t, err, ErrUndeclaredDependency)
}

func TestExecute_PanicCarriesTrace(t *testing.T) {
	f := newFixture(t, models.Primary(lengthsPrimary(func(context.Context, protocol.PrimaryContext) error {
		panic("boom")
	})))

	_, err := drain(t.Context(), f, Options{})

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Contains(t, stageErr.Error(), "boom")
	assert.Contains(t, stageErr.Trace, "goroutine")
	assert.True(t, f.isDraft(t))
}

func TestExecute_CancellationStopsTheRun(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	f := newFixture(t,
		models.Primary(lengthsPrimary(func(_ context.Context, pc protocol.PrimaryContext) error {
			cancel()

			out, err := pc.Output("lengths")
			if err != nil {
				return err
			}

			return writeRows(out)
		})),
		models.Secondary(totalSecondary()),
	)

	stages, err := drain(ctx, f, Options{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []stage{{"lengths", PhaseStart}}, stages)
	assert.True(t, f.isDraft(t))
}

func TestExecute_TempDirIsRemoved(t *testing.T) {
	var tempDir string

	f := newFixture(t, models.Primary(lengthsPrimary(func(_ context.Context, pc protocol.PrimaryContext) error {
		tempDir = pc.TempDir()
		if err := os.WriteFile(filepath.Join(tempDir, "scratch"), []byte("x"), 0600); err != nil {
			return err
		}

		return errors.New("failed on purpose")
	})))

	_, err := drain(t.Context(), f, Options{})
	require.Error(t, err)
	require.NotEmpty(t, tempDir)

	_, err = os.Stat(tempDir)
	assert.True(t, os.IsNotExist(err))
}

func TestExecute_StoppingEarlyLeavesDraft(t *testing.T) {
	f := newFixture(t, models.Primary(lengthsPrimary(nil)))

	for event, err := range f.executor.Execute(t.Context(), f.analysis, Options{}) {
		require.NoError(t, err)
		assert.Equal(t, PhaseStart, event.Phase)

		break
	}

	assert.True(t, f.isDraft(t))
}

func TestExecute_FinalizedAnalysisIsRejected(t *testing.T) {
	calls := 0
	f := newFixture(t, models.Primary(lengthsPrimary(func(ctx context.Context, pc protocol.PrimaryContext) error {
		calls++

		return lengthsPrimary(nil).EntryPoint(ctx, pc)
	})))

	_, err := drain(t.Context(), f, Options{})
	require.NoError(t, err)
	require.False(t, f.analysis.IsDraft)

	stages, err := drain(t.Context(), f, Options{})
	require.ErrorIs(t, err, ErrFinalized)
	assert.Empty(t, stages)
	assert.Equal(t, 1, calls)

	r, err := table.OpenParquet(f.store.PrimaryOutputPath(f.analysis, "lengths"))
	require.NoError(t, err)
	rows, err := table.ReadAll(r)
	require.NoError(t, err)
	assert.Len(t, rows, 10)
}

func TestOptions_SecondaryFilterDefaultsToAutorunOnly(t *testing.T) {
	suite, err := registry.NewSuite(log.Discard(),
		models.Primary(lengthsPrimary(nil)),
		models.Secondary(doubleSecondary()),
		models.Secondary(totalSecondary()),
	)
	require.NoError(t, err)

	ids := func(decls []*models.SecondaryAnalyzerDeclaration) []string {
		out := make([]string, len(decls))
		for i, d := range decls {
			out[i] = d.ID
		}

		return out
	}

	assert.Equal(t, []string{"total"}, ids(suite.ToposortedSecondaries("lengths", Options{}.SecondaryFilter())))
	assert.Equal(t, []string{"total", "double"},
		ids(suite.ToposortedSecondaries("lengths", Options{Filter: registry.AllSecondaries}.SecondaryFilter())))
}

func TestExecute_WritersLeftOpenAreClosed(t *testing.T) {
	f := newFixture(t, models.Primary(lengthsPrimary(func(_ context.Context, pc protocol.PrimaryContext) error {
		out, err := pc.Output("lengths")
		if err != nil {
			return err
		}

		w, err := out.Create()
		if err != nil {
			return err
		}

		return w.Write(table.Row{nil, int64(3)}, table.Row{nil, int64(4)})
	})))

	_, err := drain(t.Context(), f, Options{})
	require.NoError(t, err)
	assert.False(t, f.analysis.IsDraft)

	r, err := table.OpenParquet(f.store.PrimaryOutputPath(f.analysis, "lengths"))
	require.NoError(t, err)
	rows, err := table.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, []table.Row{{nil, int64(3)}, {nil, int64(4)}}, rows)
}

func TestExecute_UnknownPrimary(t *testing.T) {
	f := newFixture(t, models.Primary(lengthsPrimary(nil)))
	f.analysis.PrimaryAnalyzerID = "missing"

	_, err := drain(t.Context(), f, Options{})
	assert.ErrorIs(t, err, ErrUnknownAnalyzer)
}

func TestRender_PersistsStateBetweenRenders(t *testing.T) {
	counter := &models.PresenterDeclaration{
		AnalyzerBase:   base("counter"),
		BaseAnalyzerID: "lengths",
		DependsOn:      []string{"total"},
		Render: func(_ context.Context, pc protocol.PresenterContext, w io.Writer) error {
			path := filepath.Join(pc.StateDir(), "renders")

			renders := 0
			if data, err := os.ReadFile(path); err == nil {
				renders, _ = strconv.Atoi(string(data))
			}
			renders++

			if err := os.WriteFile(path, []byte(strconv.Itoa(renders)), 0600); err != nil {
				return err
			}

			dep, err := pc.Dependency("total")
			if err != nil {
				return err
			}

			rows, err := readTable(dep, "total")
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(w, "renders=%d total=%d", renders, rows[0][0])

			return err
		},
	}
	f := newFixture(t,
		models.Primary(lengthsPrimary(nil)),
		models.Secondary(totalSecondary()),
		models.Presenter(counter),
	)

	_, err := drain(t.Context(), f, Options{})
	require.NoError(t, err)

	var out strings.Builder
	require.NoError(t, f.executor.Render(t.Context(), f.analysis, "counter", &out))
	out.Reset()
	require.NoError(t, f.executor.Render(t.Context(), f.analysis, "counter", &out))
	assert.Equal(t, "renders=2 total=55", out.String())

	err = f.executor.Render(t.Context(), f.analysis, "missing", &out)
	assert.ErrorIs(t, err, ErrUnknownAnalyzer)
}
