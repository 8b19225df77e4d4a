package pipeline

import (
	"fmt"
	"strings"
)

// ImageAnalysisPrompt is the fixed prompt sent to the vision model for every
// extracted image.
const ImageAnalysisPrompt = "Describe this image in detail. Focus on any text, figures, charts, or diagrams it contains and what they convey."

const summaryTemplate = `You are an AI-powered text summarizer. Your goal is to generate a concise and coherent summary of the given input while preserving its key points, main ideas, and essential details. The summary should:
- Retain the most critical information and eliminate redundant or less relevant details.
- Maintain logical flow and coherence, ensuring that the summary is easy to understand.
- Use clear, concise language while maintaining the original intent of the text.
- Avoid introducing new information or altering the meaning of the content.

Given the following input, generate a summary:

%s

Output Summary:
`

const titleTemplate = `You are an AI-powered title generator. Your goal is to generate a short, catchy, and informative title for the given input text. The title should:
- Be concise (2 to 5 words max).
- Capture the essence and key idea of the input text.
- Be engaging and relevant without unnecessary words.
- Avoid generic or vague titles.
- Not be misleading or introduce new information.

Given the following input text, generate a single-line title:

Input Text:
%s

Output Title:
`

// SummarizeTextPrompt builds the prompt for the interactive text-only
// summarization endpoint.
func SummarizeTextPrompt(text string) string {
	return fmt.Sprintf(summaryTemplate, "Input Text:\n"+text)
}

// DocumentSummaryPrompt builds the combined prompt for the final pipeline
// stage, embedding the full extracted text and the combined image-analysis
// document.
func DocumentSummaryPrompt(text, imageAnalysis string) string {
	var b strings.Builder
	b.WriteString("Document Text:\n")
	b.WriteString(text)
	if strings.TrimSpace(imageAnalysis) != "" {
		b.WriteString("\n\nAnalysis of Embedded Images:\n")
		b.WriteString(imageAnalysis)
	}
	return fmt.Sprintf(summaryTemplate, b.String())
}

func TitlePrompt(text string) string {
	return fmt.Sprintf(titleTemplate, text)
}
