package service

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"AdReel-server/models"
	"AdReel-server/pipeline"
)

type fakeJSON struct {
	out    string
	err    error
	prompt string
}

func (f *fakeJSON) GenerateJSON(_ context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.out, f.err
}

var evalScript = &models.Script{Title: "Morning Brew", Scenes: []models.Scene{{ID: 1, Visual: "pour", Dialogue: "hi"}}}

func TestScriptEvaluator(t *testing.T) {
	tests := []struct {
		name      string
		out       string
		wantErr   bool
		wantAppro bool
	}{
		{
			name:      "approve",
			out:       `{"scores":{"hook":8,"clarity":8,"brand_fit":7,"visuals":9,"cta":8},"overall":8,"decision":"approve","notes":""}`,
			wantAppro: true,
		},
		{
			name: "revise",
			out:  `{"scores":{"hook":4,"clarity":6,"brand_fit":7,"visuals":6,"cta":3},"overall":5.2,"decision":"revise","notes":"Sharper hook."}`,
		},
		{
			name:    "decision outside enum",
			out:     `{"scores":{"hook":8,"clarity":8,"brand_fit":7,"visuals":9,"cta":8},"overall":8,"decision":"maybe","notes":""}`,
			wantErr: true,
		},
		{
			name:    "missing scores",
			out:     `{"overall":8,"decision":"approve","notes":""}`,
			wantErr: true,
		},
		{
			name:    "not json",
			out:     `looks good to me`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &fakeJSON{out: tt.out}
			v, err := NewScriptEvaluator(llm).EvaluateScript(context.Background(),
				pipeline.ScriptRequest{ProductName: "Morning Brew", ProductDescription: "Cold brew"}, evalScript)

			if tt.wantErr {
				var transient *pipeline.TransientProviderError
				require.ErrorAs(t, err, &transient)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAppro, v.Approved())
			assert.Contains(t, llm.prompt, `"title":"Morning Brew"`)
			assert.Contains(t, llm.prompt, `"decision"`)
		})
	}
}

func TestScriptEvaluator_PassesProviderErrors(t *testing.T) {
	cause := &pipeline.PermanentError{Provider: geminiProvider, Message: "API key not valid"}
	_, err := NewScriptEvaluator(&fakeJSON{err: cause}).EvaluateScript(context.Background(), pipeline.ScriptRequest{}, evalScript)

	assert.ErrorIs(t, err, cause)
}

func TestClassifyGemini(t *testing.T) {
	var transient *pipeline.TransientProviderError
	assert.True(t, errors.As(classifyGemini(&googleapi.Error{Code: http.StatusServiceUnavailable}), &transient))
	assert.True(t, errors.As(classifyGemini(errors.New("connection reset")), &transient))

	var perm *pipeline.PermanentError
	assert.True(t, errors.As(classifyGemini(&googleapi.Error{Code: http.StatusBadRequest, Message: "bad"}), &perm))

	assert.ErrorIs(t, classifyGemini(context.DeadlineExceeded), context.DeadlineExceeded)
}
