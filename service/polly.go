package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/polly"
	"github.com/aws/aws-sdk-go/service/polly/pollyiface"

	"AdReel-server/models"
	"AdReel-server/pipeline"
)

const pollyProvider = "polly"

// maxBreakSeconds is Polly's limit for a single <break> tag.
const maxBreakSeconds = 10

type PollyOptions struct {
	VoiceID string
	Engine  string
	// Rate is the SSML prosody rate, e.g. "85%".
	Rate string
}

// PollySpeech 语音合成：每个场景一段 mp3
type PollySpeech struct {
	svc   pollyiface.PollyAPI
	opts  PollyOptions
	blobs pipeline.BlobStore
}

func NewPollySpeech(svc pollyiface.PollyAPI, opts PollyOptions, blobs pipeline.BlobStore) *PollySpeech {
	if opts.Rate == "" {
		opts.Rate = "85%"
	}
	return &PollySpeech{svc: svc, opts: opts, blobs: blobs}
}

// SSML wraps the dialogue in a slowed prosody block. A scene without dialogue
// becomes a silent clip as long as the scene, capped by Polly's break limit.
func (p *PollySpeech) SSML(scene models.Scene) string {
	text := strings.TrimSpace(scene.Dialogue)
	if text == "" {
		secs := scene.DurationSeconds
		if secs <= 0 {
			secs = models.DefaultSceneDuration
		}
		if secs > maxBreakSeconds {
			secs = maxBreakSeconds
		}
		return fmt.Sprintf(`<speak><break time="%ds"/></speak>`, secs)
	}
	return fmt.Sprintf(`<speak><prosody rate="%s">%s</prosody></speak>`, p.opts.Rate, html.EscapeString(text))
}

func (p *PollySpeech) SynthesizeSpeech(ctx context.Context, scene models.Scene, dstKey string) error {
	input := &polly.SynthesizeSpeechInput{
		OutputFormat: aws.String(polly.OutputFormatMp3),
		Text:         aws.String(p.SSML(scene)),
		TextType:     aws.String(polly.TextTypeSsml),
		VoiceId:      aws.String(p.opts.VoiceID),
	}
	if p.opts.Engine != "" {
		input.Engine = aws.String(p.opts.Engine)
	}

	out, err := p.svc.SynthesizeSpeechWithContext(ctx, input)
	if err != nil {
		return classifyAWS(pollyProvider, err)
	}
	defer out.AudioStream.Close()

	audio, err := io.ReadAll(out.AudioStream)
	if err != nil {
		return classifyAWS(pollyProvider, err)
	}
	if len(audio) == 0 {
		return classifyAWS(pollyProvider, errors.New("empty audio stream"))
	}
	return p.blobs.Put(ctx, dstKey, bytes.NewReader(audio), int64(len(audio)))
}

func classifyAWS(provider string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case request.CanceledErrorCode:
			return context.Canceled
		case "ThrottlingException", "TooManyRequestsException", "RequestTimeout":
			return &pipeline.TransientProviderError{Provider: provider, Message: aerr.Message(), Cause: err}
		}
	}
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) {
		if classified := pipeline.ClassifyHTTPStatus(provider, reqErr.StatusCode(), reqErr.Message()); classified != nil {
			return classified
		}
	}
	return &pipeline.TransientProviderError{Provider: provider, Cause: err}
}
