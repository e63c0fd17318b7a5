package models

import "slices"

// Bedrock model ids offered for selection.
var BedrockModels = []string{
	"anthropic.claude-3-sonnet-20240229-v1:0",
	"anthropic.claude-3-haiku-20240307-v1:0",
	"anthropic.claude-3-opus-20240229-v1:0",
	"anthropic.claude-3-5-sonnet-20240620-v1:0",
}

// Regions where the Bedrock models above are served.
var BedrockRegions = []string{
	"us-east-1",
	"us-west-2",
	"eu-central-1",
	"eu-west-3",
	"ap-northeast-1",
	"ap-southeast-2",
}

// Sampling bounds exposed to users.
const (
	MaxTokensLimit = 5000
	TopKLimit      = 500
)

// KnownModel reports whether model is one of the enumerated Bedrock ids.
func KnownModel(model string) bool { return slices.Contains(BedrockModels, model) }

// KnownRegion reports whether region is one of the enumerated regions.
func KnownRegion(region string) bool { return slices.Contains(BedrockRegions, region) }
