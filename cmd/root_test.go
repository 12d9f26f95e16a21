package cmd

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-snapshot-scraper/internal/pipeline"
	"github.com/JakeFAU/listing-snapshot-scraper/internal/scrape"
)

type fakeApp struct {
	sources []string
	runErr  error
	closed  bool
}

func (f *fakeApp) Run(_ context.Context, source string) (pipeline.RunSummary, error) {
	f.sources = append(f.sources, source)
	return pipeline.RunSummary{Source: source, Total: 2, Succeeded: 1}, f.runErr
}

func (f *fakeApp) Logger() *zap.Logger { return zap.NewNop() }

func (f *fakeApp) Close(context.Context) error {
	f.closed = true
	return nil
}

func withFakeApp(t *testing.T, fake *fakeApp, factoryErr error) *string {
	t.Helper()
	var gotPath string
	orig := newApp
	newApp = func(_ context.Context, cfgPath string) (App, error) {
		gotPath = cfgPath
		if factoryErr != nil {
			return nil, factoryErr
		}
		return fake, nil
	}
	t.Cleanup(func() { newApp = orig })
	return &gotPath
}

func execute(args ...string) error {
	root := newRootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(context.Background())
}

func TestScrapeRunsFreshBatch(t *testing.T) {
	fake := &fakeApp{}
	path := withFakeApp(t, fake, nil)

	require.NoError(t, execute("scrape", "--config", "scraper.yaml"))
	assert.Equal(t, []string{pipeline.SourceFresh}, fake.sources)
	assert.Equal(t, "scraper.yaml", *path)
	assert.True(t, fake.closed)
}

func TestRetryRunsRetryBatch(t *testing.T) {
	fake := &fakeApp{}
	withFakeApp(t, fake, nil)

	require.NoError(t, execute("retry"))
	assert.Equal(t, []string{pipeline.SourceRetry}, fake.sources)
	assert.True(t, fake.closed)
}

func TestBatchAcquisitionErrorFailsCommand(t *testing.T) {
	fake := &fakeApp{runErr: &scrape.BatchAcquisitionError{Source: "fresh", Err: errors.New("503")}}
	withFakeApp(t, fake, nil)

	err := execute("scrape")
	var batchErr *scrape.BatchAcquisitionError
	require.ErrorAs(t, err, &batchErr)
	assert.True(t, fake.closed)
}

func TestInterruptedBatchExitsCleanly(t *testing.T) {
	fake := &fakeApp{runErr: context.Canceled}
	withFakeApp(t, fake, nil)

	require.NoError(t, execute("scrape"))
}

func TestInitFailureSkipsRun(t *testing.T) {
	fake := &fakeApp{}
	withFakeApp(t, fake, errors.New("bad config"))

	err := execute("retry")
	require.ErrorContains(t, err, "bad config")
	assert.Empty(t, fake.sources)
}

func TestBatchCommandsRejectArgs(t *testing.T) {
	fake := &fakeApp{}
	withFakeApp(t, fake, nil)

	require.Error(t, execute("scrape", "extra"))
	assert.Empty(t, fake.sources)
}
