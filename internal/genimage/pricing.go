package genimage

const DefaultModel = "gemini-2.5-flash-image"

// Pricing is the published list price of the image model in USD.
type Pricing struct {
	InputPerMillionTokens      float64 `json:"inputPerMillionTokensUSD"`
	OutputPerImage             float64 `json:"outputPerImageUSD"`
	OutputTextPerMillionTokens float64 `json:"outputTextPerMillionTokensUSD"`
}

var DefaultPricing = Pricing{
	InputPerMillionTokens:      0.30,
	OutputPerImage:             0.039,
	OutputTextPerMillionTokens: 0,
}

type Usage struct {
	PromptTokens int64   `json:"promptTokens"`
	OutputTokens int64   `json:"outputTokens"`
	ImagesOut    int     `json:"imagesOut"`
	CostUSD      float64 `json:"costUSD"`
}

// Cost prices a finished call.
func (p Pricing) Cost(promptTokens, outputTokens int64, imagesOut int) float64 {
	return float64(promptTokens)/1e6*p.InputPerMillionTokens +
		float64(imagesOut)*p.OutputPerImage +
		float64(outputTokens)/1e6*p.OutputTextPerMillionTokens
}

type PricingInfo struct {
	Model       string  `json:"model"`
	Pricing     Pricing `json:"pricing"`
	Description string  `json:"description"`
	Example     Usage   `json:"example"`
}

// Info describes the pricing of model with a typical single-image call.
func (p Pricing) Info(model string) PricingInfo {
	const typicalPromptTokens = 1290 * 3
	return PricingInfo{
		Model:       model,
		Pricing:     p,
		Description: "Input tokens are billed per million; each generated image is billed per unit.",
		Example: Usage{
			PromptTokens: typicalPromptTokens,
			ImagesOut:    1,
			CostUSD:      p.Cost(typicalPromptTokens, 0, 1),
		},
	}
}
