package organize

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Arke-Institute/arke-organizer-service/internal/llm"
	"github.com/Arke-Institute/arke-organizer-service/internal/model"
	"github.com/Arke-Institute/arke-organizer-service/internal/tokenest"
)

type fakeCompleter struct {
	calls     int
	failTimes int
	response  string
}

func (f *fakeCompleter) Complete(ctx context.Context, system, user string, schemaFor any, maxTokens int, temperature float64) (string, llm.Usage, error) {
	f.calls++
	if f.calls <= f.failTimes {
		return "", llm.Usage{}, &llm.Error{Kind: llm.KindTransient, Err: assertErr("temporary")}
	}
	return f.response, llm.Usage{PromptTokens: 100, CompletionTokens: 20}, nil
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func defaultOpts() Options {
	return Options{
		MaxTokens:             128000,
		TokenBudgetPercentage: 0.7,
		Temperature:           0.2,
		MaxLLMRetries:         3,
		RetryBase:             time.Millisecond,
	}
}

func TestRun_Success(t *testing.T) {
	fc := &fakeCompleter{response: `{"groups":[{"group_name":"docs","description":"d","files":["a.txt"]}],"ungrouped_files":[],"reorganization_description":"d"}`}
	o := New(fc, tokenest.ApproxEstimator{}, nil, defaultOpts())

	req := model.OrganizeRequest{
		Files: []model.FileInput{{Name: "a.txt", Kind: model.KindText, Content: "hello"}},
	}
	res, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Plan.Groups, 1)
	assert.Equal(t, "a.txt", res.Plan.Groups[0].Files[0])
	require.NotNil(t, res.Plan.Truncation)
	assert.Equal(t, 100, res.PromptTokens)
	assert.Equal(t, 20, res.CompletionTokens)
	assert.Equal(t, 120, res.TotalTokens)
}

func TestRun_ComputesCostFromPrices(t *testing.T) {
	fc := &fakeCompleter{response: `{"groups":[],"ungrouped_files":["a.txt"],"reorganization_description":"d"}`}
	opts := defaultOpts()
	opts.InputPrice = 1.0
	opts.OutputPrice = 2.0
	o := New(fc, tokenest.ApproxEstimator{}, nil, opts)

	req := model.OrganizeRequest{
		Files: []model.FileInput{{Name: "a.txt", Kind: model.KindText, Content: "hello"}},
	}
	res, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	// 100 prompt tokens * $1/1e6 + 20 completion tokens * $2/1e6
	assert.InDelta(t, 100.0/1e6*1.0+20.0/1e6*2.0, res.Cost, 1e-12)
}

func TestRun_RetriesTransientFailures(t *testing.T) {
	fc := &fakeCompleter{
		failTimes: 2,
		response:  `{"groups":[],"ungrouped_files":["a.txt"],"reorganization_description":"d"}`,
	}
	o := New(fc, tokenest.ApproxEstimator{}, nil, defaultOpts())

	req := model.OrganizeRequest{
		Files: []model.FileInput{{Name: "a.txt", Kind: model.KindText, Content: "hello"}},
	}
	res, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 3, fc.calls)
	assert.Contains(t, res.Plan.Ungrouped, "a.txt")
}

func TestRun_PermanentFailureDoesNotRetry(t *testing.T) {
	fc := &permanentFailCompleter{}
	o := New(fc, tokenest.ApproxEstimator{}, nil, defaultOpts())

	req := model.OrganizeRequest{
		Files: []model.FileInput{{Name: "a.txt", Kind: model.KindText, Content: "hello"}},
	}
	_, err := o.Run(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, 1, fc.calls)
}

type permanentFailCompleter struct{ calls int }

func (f *permanentFailCompleter) Complete(ctx context.Context, system, user string, schemaFor any, maxTokens int, temperature float64) (string, llm.Usage, error) {
	f.calls++
	return "", llm.Usage{}, &llm.Error{Kind: llm.KindPermanent, Err: assertErr("bad request")}
}
