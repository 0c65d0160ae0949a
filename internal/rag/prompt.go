package rag

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"docuchat/internal/models"
)

var (
	citationRe      = regexp.MustCompile(`[ \t]*` + models.CitationRegex)
	wholeCitationRe = regexp.MustCompile(`^` + models.CitationRegex + `$`)
	thinkRe         = regexp.MustCompile(models.ThinkTag)
	innerSpacesRe   = regexp.MustCompile(`(\S)[ \t]{2,}`)
	trailingSpaceRe = regexp.MustCompile(`[ \t]+\n`)
	extraNewlinesRe = regexp.MustCompile(`\n{3,}`)
)

// FormatContext joins the retrieved chunks, each prefixed with its source and
// chunk index.
func FormatContext(chunks []models.Chunk) string {
	entries := make([]string, len(chunks))
	for i, c := range chunks {
		entries[i] = fmt.Sprintf(models.ContextEntryTemplate, c.Metadata.Source, c.Metadata.Chunk, c.Content)
	}
	return strings.Join(entries, models.ContextSeparator)
}

// BuildMessages assembles the grounding system prompt, prior turns and the
// question.
func BuildMessages(context string, history []models.Message, question string) []llms.MessageContent {
	messages := make([]llms.MessageContent, 0, len(history)+2)
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, fmt.Sprintf(models.GroundingPromptTemplate, context)))
	for _, m := range history {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		role := llms.ChatMessageTypeHuman
		if m.Role == models.RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		messages = append(messages, llms.TextParts(role, m.Content))
	}
	return append(messages, llms.TextParts(llms.ChatMessageTypeHuman, question))
}

// CleanAnswer removes reasoning blocks and citation markup the model emitted
// despite the prompt, then tidies the whitespace left behind.
func CleanAnswer(raw string) string {
	s := thinkRe.ReplaceAllString(raw, "")
	s = citationRe.ReplaceAllString(s, "")
	s = innerSpacesRe.ReplaceAllString(s, "$1 ")
	s = trailingSpaceRe.ReplaceAllString(s, "\n")
	s = extraNewlinesRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// DedupeSources projects chunks to citations, keeping the first occurrence of
// each source:chunk pair.
func DedupeSources(chunks []models.Chunk) []models.SourceCitation {
	seen := make(map[string]struct{}, len(chunks))
	sources := make([]models.SourceCitation, 0, len(chunks))
	for _, c := range chunks {
		key := c.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		sources = append(sources, c.Citation())
	}
	return sources
}

// EncodeSources renders the citation list for the sources response header.
func EncodeSources(sources []models.SourceCitation) (string, error) {
	if sources == nil {
		sources = []models.SourceCitation{}
	}
	b, err := json.Marshal(sources)
	if err != nil {
		return "", err
	}
	return url.PathEscape(string(b)), nil
}

// DecodeSources is the inverse of EncodeSources.
func DecodeSources(header string) ([]models.SourceCitation, error) {
	raw, err := url.PathUnescape(header)
	if err != nil {
		return nil, err
	}
	var sources []models.SourceCitation
	if err := json.Unmarshal([]byte(raw), &sources); err != nil {
		return nil, err
	}
	return sources, nil
}
