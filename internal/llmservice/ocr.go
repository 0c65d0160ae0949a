package llmservice

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"docuchat/internal/models"
)

// VisionOCR reads text out of images with a vision-capable chat model.
type VisionOCR struct {
	Model ChatModel
}

func (o *VisionOCR) Recognize(ctx context.Context, data []byte, mimeType string) (string, error) {
	log.Debug().Str("mime", mimeType).Int("size", len(data)).Msg("Recognizing image text")

	messages := []llms.MessageContent{
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.TextContent{Text: models.OCRPrompt},
				llms.BinaryPart(mimeType, data),
			},
		},
	}
	text, err := GenerateContent(ctx, o.Model, messages, llms.WithTemperature(0))
	if err != nil {
		return "", goerr.Wrap(err, "failed to recognize image text", goerr.V("mime", mimeType))
	}
	return text, nil
}
