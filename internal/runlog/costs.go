package runlog

// Published API pricing. These constants must stay in sync with the
// provider price sheets; cost accounting across deployments depends on
// reproducing them exactly.

type chatRate struct {
	inputPer1K  float64
	outputPer1K float64
}

// chatRates is USD per 1000 tokens, keyed by model.
var chatRates = map[string]chatRate{
	"gpt-4o":        {inputPer1K: 0.005, outputPer1K: 0.015},
	"gpt-4-turbo":   {inputPer1K: 0.01, outputPer1K: 0.03},
	"gpt-4":         {inputPer1K: 0.03, outputPer1K: 0.06},
	"gpt-3.5-turbo": {inputPer1K: 0.0005, outputPer1K: 0.0015},
}

const defaultChatModel = "gpt-4-turbo"

// imageCosts is USD per generated image, by quality tier then resolution.
var imageCosts = map[string]map[string]float64{
	"standard": {
		"1024x1024": 0.040,
		"1792x1024": 0.080,
		"1024x1792": 0.080,
	},
	"hd": {
		"1024x1024": 0.080,
		"1792x1024": 0.120,
		"1024x1792": 0.120,
	},
}

// ChatCost computes the cost of one chat completion:
// (input/1000)*inputRate + (output/1000)*outputRate. Unknown models fall
// back to the gpt-4-turbo rates.
func ChatCost(model string, inputTokens, outputTokens int) float64 {
	rate, ok := chatRates[model]
	if !ok {
		rate = chatRates[defaultChatModel]
	}
	return float64(inputTokens)/1000*rate.inputPer1K + float64(outputTokens)/1000*rate.outputPer1K
}

// ImageCost looks up the cost of one generated image by (size, quality).
// Unknown tuples fall back to standard 1024x1024.
func ImageCost(size, quality string) float64 {
	if tier, ok := imageCosts[quality]; ok {
		if cost, ok := tier[size]; ok {
			return cost
		}
	}
	return imageCosts["standard"]["1024x1024"]
}
