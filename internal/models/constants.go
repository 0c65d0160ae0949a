package models

const (
	CitationRegex    = `(?i)\[\s*source\s*:[^\]]*\]`
	ContextSeparator = "\n\n---\n\n"
	ThinkTag         = `(?s)<think>.*?</think>`

	// SourcesHeader carries the URL-encoded JSON citation list of a chat answer.
	SourcesHeader = "X-Doc-Sources"
	// APIKeyHeader is the bring-your-own-key request header.
	APIKeyHeader = "x-openai-api-key"

	NoContextAnswer = "I couldn't find any indexed document context yet. Upload a document first, then ask again."
	EmptyAnswer     = "I couldn't produce an answer from the indexed documents. Try rephrasing your question."
)

var (
	GroundingPromptTemplate = `You are a helpful assistant that answers questions about the user's uploaded documents.
Answer using only the information in the context below.
If the context does not contain enough information to answer, say that you don't know.
Do not include citations, file names, chunk numbers, or bracketed references such as [source: ..., chunk: ...] in your answer.

Context:
%s`

	ContextEntryTemplate = "[source: %s, chunk: %d]\n%s"

	OCRPrompt = `Transcribe all readable text in this image exactly as it appears, preserving line breaks.
Answer only with the transcribed text and nothing else. If there is no readable text, answer with an empty message.`
)
