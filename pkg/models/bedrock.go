package models

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"
)

// BedrockAPI is the subset of the bedrockruntime client used here.
type BedrockAPI interface {
	InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockLLM invokes hosted models through the Bedrock runtime InvokeModel API.
type BedrockLLM struct {
	Client BedrockAPI
	Region string
}

// NewBedrockLLM loads the default AWS credential chain for region.
// SDK-level retries are disabled: a failed call is reported once.
func NewBedrockLLM(ctx context.Context, region string) (*BedrockLLM, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithRetryMaxAttempts(1),
	)
	if err != nil {
		return nil, fmt.Errorf("bedrock init: %w", err)
	}
	return &BedrockLLM{Client: bedrockruntime.NewFromConfig(cfg), Region: region}, nil
}

func (b *BedrockLLM) Invoke(ctx context.Context, model string, env *Envelope) (*InferenceResult, error) {
	body, err := EncodeRequest(env)
	if err != nil {
		return nil, err
	}

	out, err := b.Client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		Body:        body,
		ContentType: aws.String(mimeJSON),
		Accept:      aws.String(mimeJSON),
	})
	if err != nil {
		return nil, bedrockError(err)
	}

	res, err := DecodeResponse(out.Body)
	if err != nil {
		return nil, err
	}
	if res.Model == "" {
		res.Model = model
	}
	return res, nil
}

// bedrockError keeps the service message of API errors (access denied, throttling,
// validation) and the HTTP status when the SDK exposes one.
func bedrockError(err error) error {
	te := &TransportError{Provider: "bedrock", Err: err}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		te.Message = apiErr.ErrorMessage()
		if te.Message == "" {
			te.Message = apiErr.ErrorCode()
		}
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		te.StatusCode = respErr.HTTPStatusCode()
	}
	return te
}

var _ Invoker = (*BedrockLLM)(nil)
